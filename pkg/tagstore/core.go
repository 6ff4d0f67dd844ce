package tagstore

import (
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/cuemby/tagstore/pkg/ast"
	"github.com/cuemby/tagstore/pkg/cache"
	"github.com/cuemby/tagstore/pkg/consumer"
	"github.com/cuemby/tagstore/pkg/container"
	"github.com/cuemby/tagstore/pkg/errs"
	"github.com/cuemby/tagstore/pkg/ids"
	"github.com/cuemby/tagstore/pkg/log"
	"github.com/cuemby/tagstore/pkg/msg"
	"github.com/cuemby/tagstore/pkg/query"
	"github.com/cuemby/tagstore/pkg/queue"
	"github.com/cuemby/tagstore/pkg/registry"
	"github.com/cuemby/tagstore/pkg/route"
	"github.com/cuemby/tagstore/pkg/worker"
	"github.com/cuemby/tagstore/pkg/writer"
	"github.com/rs/zerolog"
)

// Core bundles every pipeline stage into the single entry point the
// connection layer (or a test, or cmd/tagstore) drives: one call to
// Execute per parsed command, synchronous from the caller's point of
// view even though ingest fans out across worker/consumer/writer
// goroutines internally.
//
// This replaces the source's global singletons (a process-wide container
// cache, a process-wide entity-id counter, per-container event-id
// counters reached through ad-hoc locks) with one explicit value
// constructed at startup and passed by reference into every stage.
type Core struct {
	cfg Config
	log zerolog.Logger

	sys        *container.Container
	sysReg     *registry.Registry
	containers *container.Cache

	regMu sync.RWMutex
	regs  map[string]*registry.Registry

	idMgr    *ids.Manager
	resolver *ids.Resolver

	cmdQueues []*queue.Ring[msg.CmdMsg]
	opQueues  []*queue.Ring[msg.OpMsg]
	wq        *queue.Ring[msg.WriterBatch]

	workers   []*worker.Worker
	consumers []*consumer.Consumer
	wr        *writer.Writer

	stop chan struct{}
	wg   sync.WaitGroup
}

// New opens the system container and global registry, builds every
// queue and stage, and returns a Core ready for Run/Execute. It does not
// start the stage goroutines; call Run for that.
func New(cfg Config) (*Core, error) {
	contCfg := container.Config{DataDir: cfg.DataDir, EvtEntInitialCap: cfg.ContainerInitialSize, EvtTSInitialCap: cfg.ContainerInitialSize}

	sys, err := container.OpenSystem(contCfg)
	if err != nil {
		return nil, fmt.Errorf("tagstore: open system container: %w", err)
	}

	sysReg, err := registry.OpenGlobal(sys)
	if err != nil {
		return nil, fmt.Errorf("tagstore: open global registry: %w", err)
	}

	c := &Core{
		cfg: cfg, log: log.WithStage("core"),
		sys: sys, sysReg: sysReg,
		regs: make(map[string]*registry.Registry),
		stop: make(chan struct{}),
	}

	c.containers = container.NewCache(cfg.NumWorkers+cfg.NumConsumers+4, c.openAndRegister)

	idMgr, err := ids.NewManager(sys, cfg.EventIDReservationBlockSize)
	if err != nil {
		return nil, err
	}
	c.idMgr = idMgr

	resolver, err := ids.NewResolver(sys, idMgr, cfg.CacheCapacityPerShard)
	if err != nil {
		return nil, err
	}
	c.resolver = resolver

	totalOpQueues := cfg.NumConsumers * cfg.OpQueuesPerConsumer
	c.opQueues = make([]*queue.Ring[msg.OpMsg], totalOpQueues)
	for i := range c.opQueues {
		q, err := queue.NewRing[msg.OpMsg](cfg.OpQueueCapacity)
		if err != nil {
			return nil, err
		}
		c.opQueues[i] = q
	}

	c.cmdQueues = make([]*queue.Ring[msg.CmdMsg], cfg.NumWorkers)
	for i := range c.cmdQueues {
		q, err := queue.NewRing[msg.CmdMsg](cfg.CmdQueueCapacity)
		if err != nil {
			return nil, err
		}
		c.cmdQueues[i] = q
	}

	c.wq, err = queue.NewRing[msg.WriterBatch](cfg.WriterQueueCapacity)
	if err != nil {
		return nil, err
	}

	consumerCfg := consumer.DefaultConfig()
	consumerCfg.FlushEveryN = cfg.FlushEveryNCycles
	c.consumers = make([]*consumer.Consumer, cfg.NumConsumers)
	for i := 0; i < cfg.NumConsumers; i++ {
		lo := i * cfg.OpQueuesPerConsumer
		hi := lo + cfg.OpQueuesPerConsumer
		c.consumers[i] = consumer.New(i, c.opQueues[lo:hi], cfg.CacheCapacityPerShard, c.containers, c.wq, consumerCfg)
	}

	workerCfg := worker.DefaultConfig()
	workerCfg.SpinLimit = cfg.SpinLimit
	workerCfg.MaxSleep = cfg.maxSleep()
	c.workers = make([]*worker.Worker, cfg.NumWorkers)
	for i := 0; i < cfg.NumWorkers; i++ {
		c.workers[i] = worker.New(i, sys, c.containers, c.lookupRegistry, idMgr, resolver,
			c.cmdQueues[i], c.opQueues, cfg.OpQueuesPerConsumer, c.wq, workerCfg)
	}

	c.wr = writer.New(c.containers, c.wq, writer.DefaultConfig())

	return c, nil
}

// openAndRegister is the container cache's CreateFunc: it opens a user
// container, copies the global registry into its local registry
// database, and opens every already-registered secondary index database,
// per spec.md §4.2's container-open sequence.
func (c *Core) openAndRegister(name string) (*container.Container, error) {
	contCfg := container.Config{DataDir: c.cfg.DataDir, EvtEntInitialCap: c.cfg.ContainerInitialSize, EvtTSInitialCap: c.cfg.ContainerInitialSize}
	cont, err := container.OpenUser(contCfg, name)
	if err != nil {
		return nil, err
	}

	if _, err := registry.CopyFrom(cont, c.sysReg, container.DBIndexRegistryLocal); err != nil {
		_ = cont.Close()
		return nil, err
	}
	// Reload from disk so indexes registered locally on an earlier open
	// are kept alongside the copied global entries.
	reg, err := registry.OpenLocal(cont)
	if err != nil {
		_ = cont.Close()
		return nil, err
	}
	for _, key := range reg.Keys() {
		if err := cont.Env.EnsureDB(container.IndexDBName(key)); err != nil {
			_ = cont.Close()
			return nil, err
		}
	}

	c.regMu.Lock()
	c.regs[name] = reg
	c.regMu.Unlock()
	return cont, nil
}

// lookupRegistry implements worker.RegistryLookup: it returns the
// already-registered local registry, opening the container (and thus
// populating regs via openAndRegister) first if necessary.
func (c *Core) lookupRegistry(name string) (*registry.Registry, error) {
	c.regMu.RLock()
	reg, ok := c.regs[name]
	c.regMu.RUnlock()
	if ok {
		return reg, nil
	}

	if _, err := c.containers.Get(name); err != nil {
		return nil, err
	}
	defer c.containers.Release(name)

	c.regMu.RLock()
	defer c.regMu.RUnlock()
	reg, ok = c.regs[name]
	if !ok {
		return nil, fmt.Errorf("tagstore: registry for %q missing after open: %w", name, errs.ErrConsistencyFault)
	}
	return reg, nil
}

// Run starts every worker, consumer, and writer goroutine. It returns
// immediately; call Close to stop them.
func (c *Core) Run() {
	for _, w := range c.workers {
		w := w
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			w.Run(c.stop)
		}()
	}
	for _, cons := range c.consumers {
		cons := cons
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			driveCycles(cons.RunCycle, c.stop)
		}()
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		driveCycles(c.wr.RunCycle, c.stop)
	}()
}

// driveCycles repeatedly calls step, spinning briefly and then backing
// off with an increasing sleep whenever a cycle did no work, until stop
// is closed; it then keeps stepping until a cycle does no work, so the
// stage's queues are drained before it returns. Consumers and the writer
// poll their queues rather than
// blocking on them (several queues feed a consumer, and the writer's
// batches originate from many producers), so this mirrors the worker's
// own spin/backoff loop.
func driveCycles(step func() int, stop <-chan struct{}) {
	const spinLimit = 1000
	const maxSleep = 64 * time.Millisecond

	spins := 0
	sleep := time.Millisecond
	for {
		select {
		case <-stop:
			for step() > 0 {
			}
			return
		default:
		}

		if step() > 0 {
			spins = 0
			sleep = time.Millisecond
			continue
		}

		spins++
		if spins < spinLimit {
			runtime.Gosched()
			continue
		}
		time.Sleep(sleep)
		sleep *= 2
		if sleep > maxSleep {
			sleep = maxSleep
		}
	}
}

// Close stops every stage goroutine, joins them, and closes every open
// container. Execute must not be called concurrently with Close.
func (c *Core) Close() error {
	close(c.stop)
	c.wg.Wait()
	if err := c.containers.Destroy(); err != nil {
		return err
	}
	return c.sys.Close()
}

// Execute is the single synchronous entry point spec.md §6 describes:
// event commands are routed to a worker and block for its CmdResult,
// query commands run inline against the consumer caches plus disk, and
// index commands register a secondary index on the target container.
func (c *Core) Execute(cmd *ast.Command) (Response, error) {
	switch cmd.Kind {
	case ast.KindEvent:
		return c.executeEvent(cmd)
	case ast.KindQuery:
		return c.executeQuery(cmd)
	case ast.KindIndex:
		return c.executeIndex(cmd)
	default:
		return Response{}, fmt.Errorf("tagstore: unknown command kind %d: %w", cmd.Kind, errs.ErrInvalidInput)
	}
}

// executeEvent routes cmd to one worker's cmd_queue, picked by hashing
// the entity name so repeat events for the same entity tend to land on
// the worker that already has it in its local entity cache, and blocks
// for the worker's result. A real deployment routes by connection
// affinity before the command ever reaches Core; since the connection
// layer is out of scope here, the entity name stands in as the affinity
// key.
func (c *Core) executeEvent(cmd *ast.Command) (Response, error) {
	idx := route.IndexString(cmd.Entity, len(c.cmdQueues))
	result := make(chan msg.CmdResult, 1)
	sent := false
	for attempt := 0; attempt < 8 && !sent; attempt++ {
		if err := c.cmdQueues[idx].TryEnqueue(msg.CmdMsg{Cmd: cmd, Result: result}); err == nil {
			sent = true
		}
	}
	if !sent {
		return Response{}, fmt.Errorf("tagstore: cmd queue %d full: %w", idx, errs.ErrResourceExhausted)
	}

	r := <-result
	if r.Err != nil {
		return Response{Kind: RespError, Err: r.Err}, r.Err
	}
	return Response{Kind: RespAck, EventID: r.EventID}, nil
}

func (c *Core) executeQuery(cmd *ast.Command) (Response, error) {
	cont, err := c.containers.Get(cmd.Container)
	if err != nil {
		return Response{}, err
	}
	defer c.containers.Release(cmd.Container)

	reg, err := c.lookupRegistry(cmd.Container)
	if err != nil {
		return Response{}, err
	}

	caches := make([]*cache.Cache, len(c.consumers))
	for i, cons := range c.consumers {
		caches[i] = cons.Cache
	}
	ev := query.New(cont, caches, c.cfg.OpQueuesPerConsumer, reg)

	ids, err := ev.Run(cmd.Where, cmd.Take, cmd.Cursor)
	if err != nil {
		return Response{Kind: RespError, Err: err}, err
	}
	return Response{Kind: RespIDs, IDs: ids}, nil
}

func (c *Core) executeIndex(cmd *ast.Command) (Response, error) {
	cont, err := c.containers.Get(cmd.Container)
	if err != nil {
		return Response{}, err
	}
	defer c.containers.Release(cmd.Container)

	reg, err := c.lookupRegistry(cmd.Container)
	if err != nil {
		return Response{}, err
	}

	entry := registry.Entry{Key: cmd.IndexKey, Type: registry.ValueType(cmd.IndexType)}
	if err := reg.Add(cont, entry); err != nil {
		return Response{Kind: RespError, Err: err}, err
	}
	return Response{Kind: RespAck}, nil
}

// FetchEvent returns the raw event body for eventID within container
// name, the opaque-blob half of spec.md §6's response taxonomy that
// Execute's Command shape does not carry (event fetches are keyed by id,
// not by a where-expression).
func (c *Core) FetchEvent(containerName string, eventID uint32) ([]byte, error) {
	cont, err := c.containers.Get(containerName)
	if err != nil {
		return nil, err
	}
	defer c.containers.Release(containerName)

	reg, err := c.lookupRegistry(containerName)
	if err != nil {
		return nil, err
	}
	ev := query.New(cont, nil, c.cfg.OpQueuesPerConsumer, reg)
	return ev.FetchEvent(eventID)
}

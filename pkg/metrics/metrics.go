package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Pipeline queue depths
	CmdQueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tagstore_cmd_queue_depth",
			Help: "Number of pending commands in a worker's cmd queue",
		},
		[]string{"worker"},
	)

	OpQueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tagstore_op_queue_depth",
			Help: "Number of pending bitmap ops in an op queue",
		},
		[]string{"queue"},
	)

	WriterQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tagstore_writer_queue_depth",
			Help: "Number of pending write batches queued for the writer",
		},
	)

	// Consumer cache metrics
	ConsumerCacheEntries = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tagstore_consumer_cache_entries",
			Help: "Number of entries currently held in a consumer's bitmap cache",
		},
		[]string{"consumer"},
	)

	ConsumerCacheDirty = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tagstore_consumer_cache_dirty",
			Help: "Number of dirty entries pending flush in a consumer's bitmap cache",
		},
		[]string{"consumer"},
	)

	ConsumerEBRPending = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tagstore_consumer_ebr_pending",
			Help: "Number of retired bitmaps awaiting epoch reclamation for a consumer",
		},
		[]string{"consumer"},
	)

	ConsumerFlushBatchesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tagstore_consumer_flush_batches_total",
			Help: "Cumulative number of flush batches a consumer has enqueued to the writer",
		},
		[]string{"consumer"},
	)

	ConsumerCacheHitsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tagstore_consumer_cache_hits_total",
			Help: "Cumulative query-path cache hits against a consumer's bitmap cache",
		},
		[]string{"consumer"},
	)

	ConsumerCacheMissesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tagstore_consumer_cache_misses_total",
			Help: "Cumulative query-path cache misses against a consumer's bitmap cache",
		},
		[]string{"consumer"},
	)

	// Writer metrics
	WriterCommitsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tagstore_writer_commits_total",
			Help: "Cumulative number of per-container write transactions committed",
		},
	)

	WriterAbortsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tagstore_writer_aborts_total",
			Help: "Cumulative number of per-container write transactions aborted",
		},
	)

	// Container cache
	OpenContainers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tagstore_open_containers",
			Help: "Number of user containers currently open in the container cache",
		},
	)
)

func init() {
	prometheus.MustRegister(CmdQueueDepth)
	prometheus.MustRegister(OpQueueDepth)
	prometheus.MustRegister(WriterQueueDepth)
	prometheus.MustRegister(ConsumerCacheEntries)
	prometheus.MustRegister(ConsumerCacheDirty)
	prometheus.MustRegister(ConsumerEBRPending)
	prometheus.MustRegister(ConsumerFlushBatchesTotal)
	prometheus.MustRegister(ConsumerCacheHitsTotal)
	prometheus.MustRegister(ConsumerCacheMissesTotal)
	prometheus.MustRegister(WriterCommitsTotal)
	prometheus.MustRegister(WriterAbortsTotal)
	prometheus.MustRegister(OpenContainers)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

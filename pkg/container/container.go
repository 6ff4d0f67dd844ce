// Package container implements the per-namespace handle bundling one KV
// environment, its named databases, and its mmap arrays, plus the
// refcounted LRU cache of open containers.
package container

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/cuemby/tagstore/pkg/errs"
	"github.com/cuemby/tagstore/pkg/kv"
	"github.com/cuemby/tagstore/pkg/mmaparr"
)

// Kind distinguishes the singleton system container from user containers.
type Kind uint8

const (
	KindUser Kind = iota
	KindSystem
)

// SystemName is the reserved name of the singleton system container.
const SystemName = "$system"

// Database (bucket) names, deterministic across process runs.
const (
	DBMetadata            = "metadata"
	DBEvents              = "events"
	DBInvertedEventIndex   = "inverted_event_index_db"
	DBIndexRegistryLocal   = "index_registry_local_db"
	DBStrToEntityID        = "str_to_entity_id_db"
	DBIntToEntityID        = "int_to_entity_id_db"
	DBIndexRegistryGlobal  = "index_registry_global_db"
)

// IndexDBName returns the per-key secondary index database name.
func IndexDBName(key string) string { return "index_" + key + "_db" }

// Metadata keys.
const (
	MetaNextEntityID = "next_ent_id" // system container
	MetaNextEventID  = "next_event_id"
)

var userNamePattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ValidateUserName enforces the filename-safety policy from spec.md §8:
// length <= 64, no leading/trailing '.', alnum/underscore/dash only.
func ValidateUserName(name string) error {
	if name == "" || len(name) > 64 {
		return fmt.Errorf("container name length must be in [1,64]: %w", errs.ErrInvalidInput)
	}
	if name[0] == '.' || name[len(name)-1] == '.' {
		return fmt.Errorf("container name must not start or end with '.': %w", errs.ErrInvalidInput)
	}
	if !userNamePattern.MatchString(name) {
		return fmt.Errorf("container name must be alphanumeric/underscore/dash: %w", errs.ErrInvalidInput)
	}
	return nil
}

// Container bundles one KV environment, its databases, and its mmap
// arrays for a single logical namespace.
type Container struct {
	Name string
	Kind Kind

	Env *kv.Env

	// EvtEnt maps event-id -> entity-id (stride 4). Present on user
	// containers and, under a different name, as the system container's
	// entity-id -> external-id-string array (stride 64).
	EvtEnt *mmaparr.Array
	// EvtTS is the event-id -> ingest timestamp array (stride 8). It is
	// opened with the container, but no pipeline stage writes or reads it.
	EvtTS *mmaparr.Array

	dataDir string
}

// Config carries the sizing knobs container creation needs.
type Config struct {
	DataDir           string
	MaxMapSize        int64
	EvtEntInitialCap  int64
	EvtTSInitialCap   int64
}

// OpenSystem opens (creating if absent) the singleton system container.
func OpenSystem(cfg Config) (*Container, error) {
	dir := filepath.Join(cfg.DataDir, SystemName)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("container: mkdir %s: %w", dir, err)
	}

	env, err := kv.OpenEnv(filepath.Join(dir, "data.mdb"), cfg.MaxMapSize, []string{
		DBMetadata, DBStrToEntityID, DBIntToEntityID, DBIndexRegistryGlobal,
	})
	if err != nil {
		return nil, err
	}

	arr, err := mmaparr.Open(filepath.Join(dir, "system_ent.bin"), 64, cap64(cfg.EvtEntInitialCap))
	if err != nil {
		_ = env.Close()
		return nil, err
	}

	return &Container{Name: SystemName, Kind: KindSystem, Env: env, EvtEnt: arr, dataDir: dir}, nil
}

// OpenUser opens (creating if absent) the user container named name. The
// caller is expected to have validated name and to copy the system
// registry's bytes into the local registry and open any indexed
// databases immediately afterwards (see pkg/registry).
func OpenUser(cfg Config, name string) (*Container, error) {
	if err := ValidateUserName(name); err != nil {
		return nil, err
	}

	dir := filepath.Join(cfg.DataDir, name)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("container: mkdir %s: %w", dir, err)
	}

	env, err := kv.OpenEnv(filepath.Join(dir, "data.mdb"), cfg.MaxMapSize, []string{
		DBMetadata, DBEvents, DBInvertedEventIndex, DBIndexRegistryLocal,
	})
	if err != nil {
		return nil, err
	}

	evtEnt, err := mmaparr.Open(filepath.Join(dir, name+"_evt_ent.bin"), 4, cap64(cfg.EvtEntInitialCap))
	if err != nil {
		_ = env.Close()
		return nil, err
	}
	evtTS, err := mmaparr.Open(filepath.Join(dir, name+"_evt_ts.bin"), 8, cap64(cfg.EvtTSInitialCap))
	if err != nil {
		_ = env.Close()
		_ = evtEnt.Close()
		return nil, err
	}

	return &Container{Name: name, Kind: KindUser, Env: env, EvtEnt: evtEnt, EvtTS: evtTS, dataDir: dir}, nil
}

// Close releases the container's environment and mmap arrays.
func (c *Container) Close() error {
	var first error
	if c.EvtEnt != nil {
		if err := c.EvtEnt.Close(); err != nil && first == nil {
			first = err
		}
	}
	if c.EvtTS != nil {
		if err := c.EvtTS.Close(); err != nil && first == nil {
			first = err
		}
	}
	if err := c.Env.Close(); err != nil && first == nil {
		first = err
	}
	return first
}

func cap64(v int64) int64 {
	if v <= 0 {
		return 1024
	}
	return v
}

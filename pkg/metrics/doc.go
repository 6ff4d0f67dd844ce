/*
Package metrics provides Prometheus metrics collection and exposition for the
tagstore pipeline.

Metrics are gauges only: Collector polls pkg/tagstore.Core.Stats() and the
stage-local cumulative counters it wraps (Writer.Commits/Aborts,
Consumer.FlushBatches, Cache.Hits/Misses) on a fixed interval and sets gauge
values from the snapshot, the same poll-then-set pattern the collector in
this codebase's lineage uses against its own domain manager. No domain
package (worker, consumer, writer, query, cache) imports this package
directly.

# Metrics Catalog

tagstore_cmd_queue_depth{worker}: pending commands per worker's cmd queue.
tagstore_op_queue_depth{queue}: pending bitmap ops per op queue.
tagstore_writer_queue_depth: pending write batches queued for the writer.
tagstore_consumer_cache_entries{consumer}: entries held in a consumer's cache.
tagstore_consumer_cache_dirty{consumer}: dirty entries pending flush.
tagstore_consumer_ebr_pending{consumer}: retired bitmaps awaiting reclamation.
tagstore_consumer_flush_batches_total{consumer}: cumulative flush batches enqueued.
tagstore_consumer_cache_hits_total{consumer}: cumulative query-path cache hits.
tagstore_consumer_cache_misses_total{consumer}: cumulative query-path cache misses.
tagstore_writer_commits_total: cumulative per-container commits.
tagstore_writer_aborts_total: cumulative per-container aborts.
tagstore_open_containers: user containers currently open in the container cache.

# Usage

	collector := metrics.NewCollector(core)
	collector.Start()
	defer collector.Stop()

	http.Handle("/metrics", metrics.Handler())
	http.HandleFunc("/health", metrics.HealthHandler())
	http.HandleFunc("/ready", metrics.ReadyHandler())
	http.HandleFunc("/live", metrics.LivenessHandler())
*/
package metrics

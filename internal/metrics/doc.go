/*
Package metrics exports loader activity to Prometheus.

The Collector owns a private registry, so several loaders in one process
never collide on metric names. It records:

	<ns>_cache_lookups_total{tier,result}     memory and disk lookups
	<ns>_fetch_tasks_total{source,result}     finished fetch tasks
	<ns>_fetch_duration_seconds{source}       task wall time
	<ns>_decoded_image_bytes                  decoded image footprint
	<ns>_deliveries_total{outcome}            delivered, stale or failed
	<ns>_memory_evictions_total
	<ns>_memory_cache_bytes
	<ns>_in_flight_tasks

Start serves the registry on Config.Port at Config.Path together with
/health and /debug/operations:

	collector, err := metrics.NewCollector(&metrics.Config{
		Enabled:   true,
		Port:      9090,
		Path:      "/metrics",
		Namespace: "imageloader",
	})
	if err != nil {
		return err
	}
	if err := collector.Start(ctx); err != nil {
		return err
	}
	defer collector.Stop(context.Background())

A nil collector, or one built with Enabled false, is a no-op. Components
accept a *Collector and call it unconditionally.
*/
package metrics

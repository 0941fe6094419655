/*
Package metrics exposes Prometheus metrics and health endpoints for pubparam.

All collectors are package-level variables registered with the default
Prometheus registry in init, so any package can update them without plumbing a
registry through constructors.

# Metrics

Registry:
  - pubparam_parameters_total: live parameters
  - pubparam_subscriptions_total: subscriber entries across parameters

Fan-out:
  - pubparam_notifications_total{mode,result}: multicasts, result is
    success, partial, failure or no_subscribers
  - pubparam_notify_duration_seconds: time spent in one multicast
  - pubparam_write_requests_total{result}

Event bus:
  - pubparam_bus_posts_total{mode,result}: blocking and non-blocking posts
  - pubparam_bus_dispatched_total{loop}

Scheduler:
  - pubparam_scheduler_events: events held by the worker
  - pubparam_scheduler_firings_total{result}
  - pubparam_scheduler_lateness_seconds: deadline to firing delay

# Health

Components report their state with UpdateComponent. Readiness requires the
registry, scheduler and eventbus components to be registered and healthy.

	http.Handle("/metrics", metrics.Handler())
	http.HandleFunc("/health", metrics.HealthHandler())
	http.HandleFunc("/ready", metrics.ReadyHandler())
*/
package metrics

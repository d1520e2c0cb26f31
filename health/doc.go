// Package health aggregates component checks into a single service status.
//
// A Monitor holds named checks. Check runs them concurrently, bounds each
// with a timeout and folds the results: any unhealthy check makes the
// service unhealthy, otherwise any degraded check makes it degraded.
//
//	mon := health.NewMonitor(2*time.Second, clock)
//	mon.Register("canvas", health.CanvasCheck(controller))
//	mon.Register("store", health.StoreCheck(store))
//	status := mon.Check(ctx)
//
// Check messages are sanitized before they are exposed: URLs, paths, IP
// addresses and credential assignments are masked.
package health

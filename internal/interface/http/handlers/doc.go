// Package handlers contains reusable HTTP pieces shared by the API server and
// the worker's status endpoint: health checks, caller identity, per-client
// rate limiting and header middleware.
//
// # Health Checks
//
// Checks run in parallel, each under its own timeout:
//
//	checker := handlers.NewCompositeHealthChecker(cfg.App.Version)
//	checker.AddCheck("postgres", handlers.PingCheck(db), true)
//	checker.AddCheck("redis", handlers.PingCheck(cache), false)
//
// A failing non-critical check marks the service unhealthy but keeps it ready.
//
// # Identity
//
// Authentication happens in front of this service. RequireIdentity reads
// X-User-ID and X-User-Role and stores an Identity in the request context.
package handlers

// Package handlers contains reusable HTTP building blocks for the guest API:
// health checks and middleware.
//
// # Health Checks
//
// The composite checker runs named checks in parallel. Required checks decide
// liveness; optional ones only affect readiness:
//
//	checker := handlers.NewCompositeHealthChecker("v1.0.0")
//	checker.AddCheck("snapshot_store", handlers.NewPingCheck(store))
//	checker.AddOptionalCheck("account_db", handlers.NewPingCheck(db))
//
//	status := checker.Check(ctx)
//
// # Middleware
//
//	auth := handlers.NewAPIKeyAuth("X-API-Key", []string{key})
//	handler := handlers.ChainHandler(
//	    migrateHandler,
//	    handlers.SecurityHeadersMiddleware,
//	    handlers.NoCacheMiddleware,
//	    auth.Middleware,
//	)
package handlers

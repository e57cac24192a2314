// Package server wires the preview server together.
//
// This package orchestrates all components:
//   - HTTP routing with Gin framework
//   - Middleware stack (recovery, tracing, metrics, security headers, CORS, rate limiting)
//   - File watcher, session registry and surface hub
//   - Prometheus metrics at /metrics
//
// Server Lifecycle:
//  1. Load configuration from environment, file and flags
//  2. Initialize logger (production or development)
//  3. Build watcher, registry, hub and routes
//  4. Listen and show the requested document
//  5. Serve until the context is cancelled
//  6. Dispose the session and shut down gracefully
//
// Example Usage:
//
//	srv, err := server.NewServer(cfg, logger)
//	addr, err := srv.Listen()
//	sess, err := srv.Show(ctx, "lab.html")
//	err = srv.Run(ctx)
package server

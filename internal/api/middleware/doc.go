// Package middleware provides the HTTP middleware of the preview server.
//
// Middleware stack includes:
//   - CORS: loopback origins only by default
//   - RateLimit: per-IP token bucket rate limiting
//   - SecurityHeaders: nosniff, same-origin framing, no referrer
//
// Rate Limiting:
//   - Per-IP tracking with idle client eviction
//   - Token bucket algorithm
//   - Configurable RPS and burst capacity
//   - Global rate limiting option
//
// Example Usage:
//
//	router.Use(middleware.SecurityHeaders())
//	router.Use(middleware.CORS(middleware.DefaultCORSConfig()))
//	router.Use(middleware.RateLimit(middleware.DefaultRateLimitConfig()))
package middleware

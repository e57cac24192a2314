// Package logging provides structured logging using uber/zap.
//
// Two modes are available:
//   - Production: JSON output for machine parsing
//   - Development: Colored console output for human readability
//
// Logs go to stderr so that the headless CLI can print console events on
// stdout.
//
// Example Usage:
//
//	logger := logging.NewDefault()
//	logger.Info("Server starting", zap.String("addr", "127.0.0.1:8000"))
//	logger.Error("Failed to read resource", zap.Error(err))
package logging

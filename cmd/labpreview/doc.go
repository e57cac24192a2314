// Package main is the labpreview command. It previews one HTML document and
// shows its console output live.
//
// By default a local server is started and the preview shell URL is printed.
// The shell renders the document in a sandboxed frame and reloads it whenever
// the file or its assets change. Closing the preview from the shell stops the
// command.
//
// With -headless no server is started. The document runs in an embedded
// JavaScript context and console events are printed to stdout.
//
// Configuration:
//   - Environment variables (PORT, PREVIEW_DEBOUNCE, SANDBOX_TIMEOUT, ...)
//   - An optional YAML or TOML file given with -config
//   - CLI flags (override both)
//
// Usage:
//
//	labpreview lab.html
//	labpreview -port 0 -dev lab.html
//	labpreview -headless -once lab.html   # exit status 1 on console errors
//
// Signals:
//   - SIGINT, SIGTERM: Graceful shutdown
package main

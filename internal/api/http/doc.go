// Package http serves the preview shell, the documents and assets it loads,
// and the JSON control API.
//
// Routes:
//   - GET  /                        redirect to the live preview
//   - GET  /health                  liveness and session summary
//   - GET  /preview/:id/            shell page
//   - GET  /preview/:id/document    instrumented document, sandbox CSP
//   - GET  /preview/:id/stream      surface WebSocket
//   - GET  /preview/:id/<asset>     files next to the document
//   - GET  /api/session             snapshot of the live session
//   - DELETE /api/session           close the live session
//   - POST /api/preview             {"path": ...} show a document
//   - POST /api/refresh             re-read the document
//   - POST /api/clear               clear the visible log
//   - POST /api/saved               {"path": ...} explicit save notification
package http

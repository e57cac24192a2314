// Package ws carries a preview session to its browser shell page.
//
// Each session has one Surface. The Surface is the session's presenter and
// the bridge transport for the sandboxed frame the shell hosts, so every
// host to shell frame for that session travels over one WebSocket.
//
// Message Types (Client → Server):
//   - console: a console message posted by the sandboxed frame, relayed as is
//   - refresh: re-read the document
//   - clear: clear the visible log
//   - ping: keep-alive ping
//
// Message Types (Server → Client):
//   - load: replace the sandboxed document
//   - console: one captured console entry
//   - snapshot: the visible log when a surface connects
//   - badge, cleared, status, title, focus, diagnostic: presentation updates
//   - pong, error
//
// Example Usage:
//
//	hub := ws.NewHub(logger, metrics)
//	registry := session.NewRegistry(session.Options{Presenter: hub.Surface})
//	router.GET("/stream", func(c *gin.Context) { hub.ServeSession(c.Writer, c.Request, sess) })
package ws

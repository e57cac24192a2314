package middleware

import "github.com/gin-gonic/gin"

// SecurityHeaders sets response headers that keep the shell from being
// framed by other sites or sniffed into another content type.
//
// No Content-Security-Policy is set here: the preview frame is a srcdoc
// iframe and would inherit it. The document route sets its own sandbox
// policy.
func SecurityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "SAMEORIGIN")
		h.Set("Referrer-Policy", "no-referrer")
		c.Next()
	}
}

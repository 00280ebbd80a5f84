// Package requestid tags each request with a correlation id so log lines
// belonging to one request can be stitched together.
package requestid

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Header carries the id across service boundaries. A client-supplied value
// is kept so traces survive proxy hops.
const Header = "X-Request-ID"

const ctxKey = "request_id"

// Middleware propagates an incoming request id or mints a fresh one, and
// echoes it back on the response.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(Header)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(ctxKey, id)
		c.Writer.Header().Set(Header, id)
		c.Next()
	}
}

// Value returns the id set by Middleware, or empty when it did not run.
func Value(c *gin.Context) string {
	id, _ := c.Value(ctxKey).(string)
	return id
}

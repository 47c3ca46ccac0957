package middleware

import (
	"log"
	"time"

	"github.com/gin-gonic/gin"
)

// Logger writes one line per request, same prefix style as the hub logs
func Logger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		path := c.Request.URL.Path
		if raw := c.Request.URL.RawQuery; raw != "" {
			path = path + "?" + raw
		}

		errs := ""
		if len(c.Errors) > 0 {
			errs = " " + c.Errors.String()
		}

		log.Printf("[http] %s %s %d %v from=%s%s",
			c.Request.Method, path, c.Writer.Status(), time.Since(start), c.ClientIP(), errs)
	}
}

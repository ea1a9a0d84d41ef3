package api

import (
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// Logger logs one line per request: method, path, status, latency, and
// this server's id — the same shape as the teacher's api.Logger, with
// the node id appended since a mesh deployment's logs are aggregated
// across servers.
func Logger(selfID string) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		c.Next()
		log.Printf("[%s] %s %s %d %s", selfID, c.Request.Method, path, c.Writer.Status(), time.Since(start))
	}
}

// Recovery recovers panics inside handlers and responds 500 without ever
// leaking a stack trace to the client, matching the teacher's
// api.Recovery.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				log.Printf("panic recovered: %v", r)
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			}
		}()
		c.Next()
	}
}

// CORS answers preflight requests and annotates every response per
// spec.md §4.4.6 / §6: configured origins, GET/POST/OPTIONS, and the
// custom X-Reality-* headers.
func CORS(origins []string, credentials bool) gin.HandlerFunc {
	allowed := make(map[string]bool, len(origins))
	wildcard := false
	for _, o := range origins {
		if o == "*" {
			wildcard = true
		}
		allowed[o] = true
	}

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		switch {
		case wildcard:
			c.Header("Access-Control-Allow-Origin", "*")
		case allowed[origin]:
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Vary", "Origin")
		}
		if credentials {
			c.Header("Access-Control-Allow-Credentials", "true")
		}
		c.Header("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, X-Reality-Server, X-Reality-Gossip")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

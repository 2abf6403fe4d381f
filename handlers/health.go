package handlers

import (
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
)

var startedAt = time.Now()

// HealthCheck answers load balancer and uptime probes. It deliberately
// touches no dependencies: a live process reports ok even while
// Postgres or the CMS are unreachable.
func HealthCheck(c *gin.Context) {
	version := os.Getenv("SERVICE_VERSION")
	if version == "" {
		version = "dev"
	}
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "mosaic-api",
		"version": version,
		"uptime":  time.Since(startedAt).Round(time.Second).String(),
		"time":    time.Now().UTC().Format(time.RFC3339),
	})
}

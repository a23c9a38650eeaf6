package router

import (
	"net/http"
	"os"
	"runtime"
	"time"

	"booking-inbox/client/pkg/health"

	"github.com/gin-gonic/gin"
)

// setupHealthRoutes registers the public liveness endpoint. The detailed
// component report lives under /api/admin/health.
func (r *Router) setupHealthRoutes() {
	healthHandler := func(c *gin.Context) {
		status := r.Container.Health.Overall()
		code := http.StatusOK
		if status == health.StatusDown {
			code = http.StatusServiceUnavailable
		}

		var memStats runtime.MemStats
		runtime.ReadMemStats(&memStats)

		_, signedIn := r.Container.Session.Identity()

		c.JSON(code, gin.H{
			"status":    status,
			"env":       r.Config.Server.Env,
			"version":   os.Getenv("APP_VERSION"),
			"timestamp": time.Now().Format(time.RFC3339),
			"uptime":    time.Since(startTime).Round(time.Second).String(),
			"session":   signedIn,
			"websocket": gin.H{
				"active_connections": r.Hub.ActiveConnections(),
			},
			"memory": gin.H{
				"alloc_mb":  memStats.Alloc / 1024 / 1024,
				"sys_mb":    memStats.Sys / 1024 / 1024,
				"gc_cycles": memStats.NumGC,
			},
		})
	}

	r.Engine.GET("/health", healthHandler)
	r.Engine.GET("/api/health", healthHandler)
}

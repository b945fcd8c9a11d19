package router

import (
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// setupHealthRoutes registers health, build info and metrics endpoints
func (r *Router) setupHealthRoutes() {
	healthHandler := r.Container.Health.Handler()
	r.Engine.GET("/health", healthHandler)
	r.Engine.GET("/api/health", healthHandler)

	r.Engine.GET("/api/info", func(c *gin.Context) {
		var memStats runtime.MemStats
		runtime.ReadMemStats(&memStats)

		c.JSON(200, gin.H{
			"service": r.Config.Observability.ServiceName,
			"env":     r.Config.Server.Env,
			"driver":  r.Config.Database.Driver,
			"uptime":  time.Since(startTime).Round(time.Second).String(),
			"memory": gin.H{
				"alloc_mb":  memStats.Alloc / 1024 / 1024,
				"sys_mb":    memStats.Sys / 1024 / 1024,
				"gc_cycles": memStats.NumGC,
			},
		})
	})

	r.Engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(r.Container.Registry, promhttp.HandlerOpts{})))
}

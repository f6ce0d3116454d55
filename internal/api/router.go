package api

import (
	"ssl-monitor/internal/conf"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter wires every route onto a new gin engine.
func NewRouter(cfg conf.ServerConfig, domains *DomainHandler, tools *ToolHandler, health *HealthHandler) *gin.Engine {
	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery(), Metrics(), CORS(cfg.CORSOrigins))

	r.GET("/health", health.Health)
	r.GET("/ready", health.Ready)
	r.GET("/live", health.Live)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/api/v1")
	v1.Use(Identity(cfg.JWTSecret))
	{
		v1.GET("/domains", domains.GetDomains)
		v1.POST("/domains", domains.AddDomain)
		v1.POST("/domains/check-all", domains.CheckAll)
		v1.GET("/domains/:id", domains.GetDomain)
		v1.PATCH("/domains/:id", domains.UpdateSettings)
		v1.DELETE("/domains/:id", domains.DeleteDomain)
		v1.POST("/domains/:id/check", domains.CheckDomain)
		v1.GET("/domains/:id/ssl-status", domains.GetSSLStatus)
		v1.GET("/domains/:id/checks", domains.GetHistory)
		v1.GET("/statistics", domains.GetStatistics)
		v1.POST("/notifications/test", domains.TestNotification)
		v1.POST("/tools/decode-cert", tools.DecodeCertificate)
	}

	return r
}

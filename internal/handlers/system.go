package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RegisterSystemRoutes mounts GET /health and, when gatherer is set, GET /metrics.
func RegisterSystemRoutes(r gin.IRouter, gatherer prometheus.Gatherer) {
	r.GET("/health", func(c *gin.Context) {
		respond(c, http.StatusOK, "ok", nil)
	})
	if gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{
			EnableOpenMetrics: true,
		})))
	}
}

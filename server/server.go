// Package server exposes the dispatch registry over HTTP for the map UI.
package server

import (
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"dispatch-route-server/dispatch"
	"dispatch-route-server/routing"
)

// eventBuffer is the per-subscriber queue of the SSE stream.
const eventBuffer = 64

type Server struct {
	registry *dispatch.Registry
	broker   *dispatch.Broker
	renderer routing.Renderer
	gatherer prometheus.Gatherer
	log      *zap.SugaredLogger
}

// New wires the HTTP handlers. broker and gatherer may be nil, in which case
// /api/events and /metrics are not registered.
func New(registry *dispatch.Registry, broker *dispatch.Broker, renderer routing.Renderer, gatherer prometheus.Gatherer, log *zap.SugaredLogger) *Server {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Server{
		registry: registry,
		broker:   broker,
		renderer: renderer,
		gatherer: gatherer,
		log:      log,
	}
}

func (s *Server) Router() *gin.Engine {
	r := gin.Default()

	config := cors.DefaultConfig()
	config.AllowAllOrigins = true
	config.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	config.AllowHeaders = []string{"*"}
	r.Use(cors.New(config))

	r.GET("/health", s.handleHealth)

	api := r.Group("/api")
	{
		api.GET("/facilities", s.handleListFacilities)
		api.POST("/facilities", s.handleAddFacility)
		api.DELETE("/facilities/:id", s.handleRemoveFacility)
		api.PUT("/facilities/:id/visibility", s.handleSetVisibility)
		api.POST("/facilities/:id/toggle", s.handleToggleFacility)

		api.GET("/incidents", s.handleListIncidents)
		api.POST("/incidents", s.handleReportIncident)
		api.POST("/incidents/recompute", s.handleRecompute)
		api.GET("/incidents/:id", s.handleGetIncident)
		api.DELETE("/incidents/:id", s.handleRemoveIncident)
		api.GET("/incidents/:id/route", s.handleIncidentRoute)

		if s.broker != nil {
			api.GET("/events", s.handleEvents)
		}
	}

	if s.gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	}
	return r
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":     "healthy",
		"facilities": len(s.registry.Facilities()),
		"incidents":  len(s.registry.Incidents()),
	})
}

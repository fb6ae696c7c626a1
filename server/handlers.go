package server

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"dispatch-route-server/dispatch"
	"dispatch-route-server/routing"
)

const (
	LegTo   = "to"
	LegFrom = "from"
)

type FacilityView struct {
	dispatch.Facility
	Load      int  `json:"load"`
	Saturated bool `json:"saturated"`
}

type FacilitiesResponse struct {
	Capacity   int            `json:"capacity"`
	Facilities []FacilityView `json:"facilities"`
}

type AddFacilityRequest struct {
	Name string   `json:"name" binding:"required"`
	Lat  *float64 `json:"lat" binding:"required"`
	Lng  *float64 `json:"lng" binding:"required"`
}

type VisibilityRequest struct {
	Visible *bool `json:"visible" binding:"required"`
}

type IncidentRequest struct {
	Lat *float64 `json:"lat" binding:"required"`
	Lng *float64 `json:"lng" binding:"required"`
}

type RouteResponse struct {
	IncidentID int                    `json:"incidentId"`
	FacilityID int                    `json:"facilityId"`
	Leg        string                 `json:"leg"`
	Route      *routing.RenderedRoute `json:"route"`
}

func (s *Server) facilityViews() FacilitiesResponse {
	capacity := s.registry.Capacity()
	facilities := s.registry.Facilities()

	resp := FacilitiesResponse{Capacity: capacity, Facilities: make([]FacilityView, 0, len(facilities))}
	for _, f := range facilities {
		load := s.registry.Load(f.ID)
		resp.Facilities = append(resp.Facilities, FacilityView{
			Facility:  f,
			Load:      load,
			Saturated: load >= capacity-1,
		})
	}
	return resp
}

func (s *Server) handleListFacilities(c *gin.Context) {
	c.JSON(http.StatusOK, s.facilityViews())
}

func (s *Server) handleAddFacility(c *gin.Context) {
	s.log.Info("=== Received add facility request ===")

	var req AddFacilityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.log.Warnf("ERROR: Failed to parse request: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	f, err := s.registry.AddUserFacility(req.Name, *req.Lat, *req.Lng)
	if err != nil {
		s.abort(c, err)
		return
	}
	c.JSON(http.StatusCreated, f)
}

func (s *Server) handleRemoveFacility(c *gin.Context) {
	id, ok := s.paramID(c)
	if !ok {
		return
	}
	if err := s.registry.RemoveFacility(id); err != nil {
		s.abort(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleSetVisibility(c *gin.Context) {
	id, ok := s.paramID(c)
	if !ok {
		return
	}

	var req VisibilityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := s.registry.SetFacilityVisibility(id, *req.Visible); err != nil {
		s.abort(c, err)
		return
	}
	f, err := s.registry.Facility(id)
	if err != nil {
		s.abort(c, err)
		return
	}
	c.JSON(http.StatusOK, f)
}

func (s *Server) handleToggleFacility(c *gin.Context) {
	id, ok := s.paramID(c)
	if !ok {
		return
	}
	visible, err := s.registry.ToggleFacility(id)
	if err != nil {
		s.abort(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "visible": visible})
}

func (s *Server) handleListIncidents(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"incidents": s.registry.Incidents()})
}

func (s *Server) handleReportIncident(c *gin.Context) {
	s.log.Info("=== Received incident report ===")

	var req IncidentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.log.Warnf("ERROR: Failed to parse request: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	inc, err := s.registry.ReportIncident(*req.Lat, *req.Lng)
	if err != nil {
		s.abort(c, err)
		return
	}
	c.JSON(http.StatusCreated, inc)
	s.log.Info("=== Incident report completed ===")
}

func (s *Server) handleGetIncident(c *gin.Context) {
	id, ok := s.paramID(c)
	if !ok {
		return
	}
	inc, err := s.registry.Incident(id)
	if err != nil {
		s.abort(c, err)
		return
	}
	c.JSON(http.StatusOK, inc)
}

func (s *Server) handleRemoveIncident(c *gin.Context) {
	id, ok := s.paramID(c)
	if !ok {
		return
	}
	if err := s.registry.RemoveIncident(id); err != nil {
		s.abort(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleRecompute(c *gin.Context) {
	s.registry.RecomputeAllIncidents()
	c.JSON(http.StatusOK, gin.H{"incidents": s.registry.Incidents()})
}

func (s *Server) handleIncidentRoute(c *gin.Context) {
	id, ok := s.paramID(c)
	if !ok {
		return
	}
	inc, err := s.registry.Incident(id)
	if err != nil {
		s.abort(c, err)
		return
	}

	leg := c.DefaultQuery("leg", LegTo)
	var waypoints []routing.Coordinate
	switch leg {
	case LegTo:
		waypoints = inc.ToRoute
	case LegFrom:
		waypoints = inc.FromRoute
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("leg must be %q or %q", LegTo, LegFrom)})
		return
	}

	if s.renderer == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "route rendering is not configured"})
		return
	}

	s.log.Infof("Rendering %s route for incident %d through %d waypoints", leg, id, len(waypoints))
	route, err := s.renderer.Route(c.Request.Context(), waypoints)
	if err != nil {
		s.log.Warnf("ERROR: Route rendering failed: %v", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": fmt.Sprintf("route rendering failed: %v", err)})
		return
	}
	c.JSON(http.StatusOK, RouteResponse{IncidentID: id, FacilityID: inc.FacilityID, Leg: leg, Route: route})
}

// handleEvents streams registry events as server-sent events until the
// client disconnects.
func (s *Server) handleEvents(c *gin.Context) {
	events, cancel := s.broker.Subscribe(eventBuffer)
	defer cancel()

	s.log.Infof("Event subscriber connected (%d active)", s.broker.Subscribers())
	c.SSEvent("ready", gin.H{"capacity": s.registry.Capacity()})
	c.Writer.Flush()

	c.Stream(func(w io.Writer) bool {
		select {
		case ev, ok := <-events:
			if !ok {
				return false
			}
			c.SSEvent(string(ev.Kind), ev)
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
	s.log.Info("Event subscriber disconnected")
}

func (s *Server) paramID(c *gin.Context) (int, bool) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid id %q", c.Param("id"))})
		return 0, false
	}
	return id, true
}

func (s *Server) abort(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.log.Errorf("ERROR: %s %s: %v", c.Request.Method, c.FullPath(), err)
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, dispatch.ErrUnknownFacility), errors.Is(err, dispatch.ErrUnknownIncident):
		return http.StatusNotFound
	case errors.Is(err, dispatch.ErrNoEligibleFacility):
		return http.StatusConflict
	case errors.Is(err, dispatch.ErrInvalidName), errors.Is(err, dispatch.ErrInvalidCoordinate):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

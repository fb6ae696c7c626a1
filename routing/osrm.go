package routing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

var ErrTooFewWaypoints = errors.New("routing: at least two waypoints are required")

const DefaultOSRMURL = "https://router.project-osrm.org"

// OSRMClient renders routes through an OSRM /route/v1 endpoint.
type OSRMClient struct {
	BaseURL    string
	Profile    string
	HTTPClient *http.Client
}

func NewOSRMClient(baseURL string) *OSRMClient {
	if baseURL == "" {
		baseURL = DefaultOSRMURL
	}
	return &OSRMClient{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		Profile:    "driving",
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *OSRMClient) Route(ctx context.Context, waypoints []Coordinate) (*RenderedRoute, error) {
	if len(waypoints) < 2 {
		return nil, ErrTooFewWaypoints
	}

	// OSRM wants lng,lat pairs separated by ';'
	pairs := make([]string, len(waypoints))
	for i, w := range waypoints {
		pairs[i] = fmt.Sprintf("%.6f,%.6f", w.Lng, w.Lat)
	}

	requestURL := fmt.Sprintf("%s/route/v1/%s/%s?overview=full&geometries=polyline",
		c.BaseURL, c.Profile, strings.Join(pairs, ";"))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build OSRM request: %w", err)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("OSRM request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read OSRM response: %w", err)
	}

	var osrmResp osrmResponse
	if err := json.Unmarshal(body, &osrmResp); err != nil {
		return nil, fmt.Errorf("failed to parse OSRM response (status %d): %w", resp.StatusCode, err)
	}

	if osrmResp.Code != "Ok" || len(osrmResp.Routes) == 0 {
		return nil, fmt.Errorf("OSRM returned no valid routes: %s %s", osrmResp.Code, osrmResp.Message)
	}

	best := osrmResp.Routes[0]
	return &RenderedRoute{
		Waypoints: waypoints,
		DistanceM: best.Distance,
		Duration:  best.Duration,
		Geometry:  best.Geometry,
	}, nil
}

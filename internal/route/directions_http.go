package route

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/jengzang/trip-planner-go/internal/models"
	"github.com/jengzang/trip-planner-go/internal/spatial"
)

// DefaultDirectionsURL is the Google Maps Directions endpoint
const DefaultDirectionsURL = "https://maps.googleapis.com/maps/api/directions/json"

// HTTPDirections calls a Google Directions compatible JSON API
type HTTPDirections struct {
	baseURL    string
	apiKey     string
	mode       string
	httpClient *http.Client
}

// NewHTTPDirections creates a client. An empty baseURL uses Google's.
func NewHTTPDirections(baseURL, apiKey string, httpClient *http.Client) *HTTPDirections {
	if baseURL == "" {
		baseURL = DefaultDirectionsURL
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &HTTPDirections{baseURL: baseURL, apiKey: apiKey, mode: "driving", httpClient: httpClient}
}

// googleDirectionsResponse is the subset of the Directions response we use
type googleDirectionsResponse struct {
	Status       string `json:"status"`
	ErrorMessage string `json:"error_message"`
	Routes       []struct {
		OverviewPolyline struct {
			Points string `json:"points"`
		} `json:"overview_polyline"`
		Legs []struct {
			Distance struct {
				Value float64 `json:"value"`
			} `json:"distance"`
			Duration struct {
				Value float64 `json:"value"`
			} `json:"duration"`
			Steps []struct {
				Polyline struct {
					Points string `json:"points"`
				} `json:"polyline"`
			} `json:"steps"`
		} `json:"legs"`
	} `json:"routes"`
}

// Route implements Directions
func (c *HTTPDirections) Route(ctx context.Context, origin, destination models.LatLng, waypoints []models.LatLng, optimize bool) (*DirectionsResult, error) {
	q := url.Values{}
	q.Set("origin", formatLatLng(origin))
	q.Set("destination", formatLatLng(destination))
	q.Set("mode", c.mode)
	if len(waypoints) > 0 {
		parts := make([]string, 0, len(waypoints)+1)
		if optimize {
			parts = append(parts, "optimize:true")
		}
		for _, w := range waypoints {
			parts = append(parts, formatLatLng(w))
		}
		q.Set("waypoints", strings.Join(parts, "|"))
	}
	if c.apiKey != "" {
		q.Set("key", c.apiKey)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build directions request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call directions: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read directions response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("directions returned HTTP %d", resp.StatusCode)
	}

	var directions googleDirectionsResponse
	if err := json.Unmarshal(body, &directions); err != nil {
		return nil, fmt.Errorf("failed to decode directions response: %w", err)
	}
	switch directions.Status {
	case "OK":
	case "ZERO_RESULTS", "NOT_FOUND":
		return nil, fmt.Errorf("%w: %s", models.ErrNoRoute, directions.Status)
	default:
		return nil, fmt.Errorf("directions status %s: %s", directions.Status, directions.ErrorMessage)
	}
	if len(directions.Routes) == 0 {
		return nil, models.ErrNoRoute
	}

	route := directions.Routes[0]
	overview, err := decode(route.OverviewPolyline.Points)
	if err != nil {
		return nil, fmt.Errorf("failed to decode overview polyline: %w", err)
	}

	out := &DirectionsResult{OverviewPolyline: overview, Legs: make([]DirectionsLeg, len(route.Legs))}
	for i, leg := range route.Legs {
		var line []models.LatLng
		for _, step := range leg.Steps {
			pts, err := decode(step.Polyline.Points)
			if err != nil {
				return nil, fmt.Errorf("failed to decode leg %d polyline: %w", i, err)
			}
			// Consecutive steps share their joining vertex.
			if len(line) > 0 && len(pts) > 0 && line[len(line)-1] == pts[0] {
				pts = pts[1:]
			}
			line = append(line, pts...)
		}
		out.Legs[i] = DirectionsLeg{
			Polyline:       line,
			Duration:       time.Duration(leg.Duration.Value * float64(time.Second)),
			DistanceMeters: leg.Distance.Value,
		}
		// Some providers omit the distance on short legs.
		if out.Legs[i].DistanceMeters == 0 && len(line) > 1 {
			out.Legs[i].DistanceMeters = pathLength(line)
		}
	}
	return out, nil
}

func decode(encoded string) ([]models.LatLng, error) {
	pts, err := spatial.DecodePolyline(encoded)
	if err != nil {
		return nil, err
	}
	out := make([]models.LatLng, len(pts))
	for i, p := range pts {
		out[i] = toLatLng(p)
	}
	return out, nil
}

func pathLength(line []models.LatLng) float64 {
	pts := make([]spatial.Point, len(line))
	for i, p := range line {
		pts[i] = toPoint(p)
	}
	return spatial.PathLength(pts)
}

func formatLatLng(p models.LatLng) string {
	return strconv.FormatFloat(p.Lat, 'f', 6, 64) + "," + strconv.FormatFloat(p.Lng, 'f', 6, 64)
}

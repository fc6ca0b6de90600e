// Package geocode resolves GPS fixes to neighborhood labels through the
// Google reverse geocoding API.
package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/coopertaxi/dispatchd/core/geo"
	"github.com/coopertaxi/dispatchd/core/model"
	"github.com/coopertaxi/dispatchd/infra/logger"
)

const defaultBaseURL = "https://maps.googleapis.com/maps/api/geocode/json"

// Config holds the API credentials.
type Config struct {
	Enabled bool   `json:"enabled"`
	APIKey  string `json:"api_key"`
	BaseURL string `json:"base_url"`
}

// Google is a geo.Geocoder backed by the Google reverse geocoding API.
type Google struct {
	apiKey  string
	baseURL string
	client  *http.Client
	log     logger.Logger
}

func NewGoogle(cfg Config) *Google {
	base := cfg.BaseURL
	if base == "" {
		base = defaultBaseURL
	}
	return &Google{
		apiKey:  cfg.APIKey,
		baseURL: base,
		client:  &http.Client{Timeout: 10 * time.Second},
		log:     logger.New("geocoder"),
	}
}

type geocodeResponse struct {
	Status  string `json:"status"`
	Results []struct {
		AddressComponents []struct {
			LongName string   `json:"long_name"`
			Types    []string `json:"types"`
		} `json:"address_components"`
	} `json:"results"`
}

// SectorFor resolves the coordinates to the most specific locality label the
// API returns.
func (g *Google) SectorFor(ctx context.Context, c model.Coordinates) (string, error) {
	if g.apiKey == "" {
		return "", geo.ErrUnavailable
	}

	q := url.Values{}
	q.Set("latlng", fmt.Sprintf("%f,%f", c.Latitude, c.Longitude))
	q.Set("key", g.apiKey)
	q.Set("result_type", "neighborhood|sublocality|locality")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return "", err
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("reverse geocode: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("reverse geocode: status %d", resp.StatusCode)
	}

	var body geocodeResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("reverse geocode: decode: %w", err)
	}
	if body.Status != "OK" || len(body.Results) == 0 {
		return "", fmt.Errorf("reverse geocode: api status %q", body.Status)
	}

	return pickSector(body), nil
}

// pickSector prefers the most specific component: neighborhood, then
// sublocality, then locality.
func pickSector(body geocodeResponse) string {
	ranked := []string{"neighborhood", "sublocality", "locality"}
	best := ""
	bestRank := len(ranked)
	for _, res := range body.Results {
		for _, comp := range res.AddressComponents {
			for _, t := range comp.Types {
				for rank, want := range ranked {
					if t == want && rank < bestRank {
						best = comp.LongName
						bestRank = rank
					}
				}
			}
		}
	}
	return best
}

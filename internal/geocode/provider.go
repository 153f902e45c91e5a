package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/foker/tgflats-sub000/internal/app/config"
)

// ProviderResponse is the normalized answer of one geocoding backend.
type ProviderResponse struct {
	Lat              float64
	Lng              float64
	FormattedAddress string
	Confidence       float64 // provider-reported, [0,1]
	Rooftop          bool
	Components       []string // district-ish component values, most specific first
}

// GeoProvider is one geocoding backend in the fallback chain.
type GeoProvider interface {
	Name() string
	Geocode(ctx context.Context, query string) (*ProviderResponse, error)
}

// cooldown enforces a minimum interval between successive calls to one
// provider. Callers sleep out the remainder rather than queueing.
type cooldown struct {
	mu       sync.Mutex
	last     time.Time
	interval time.Duration
}

func (c *cooldown) wait() {
	if c.interval <= 0 {
		return
	}
	c.mu.Lock()
	remaining := c.interval - time.Since(c.last)
	if remaining > 0 {
		time.Sleep(remaining)
	}
	c.last = time.Now()
	c.mu.Unlock()
}

// googleProvider queries a Google-style geocoding JSON API.
type googleProvider struct {
	name     string
	baseURL  string
	apiKey   string
	bounds   CityBounds
	client   *http.Client
	cooldown cooldown
}

// NewGoogleProvider returns nil when no API key is configured.
func NewGoogleProvider(cfg config.GeoProviderConfig, bounds CityBounds) GeoProvider {
	if cfg.APIKey == "" || cfg.BaseURL == "" {
		return nil
	}
	return &googleProvider{
		name:     cfg.Name,
		baseURL:  cfg.BaseURL,
		apiKey:   cfg.APIKey,
		bounds:   bounds,
		client:   &http.Client{Timeout: cfg.Timeout},
		cooldown: cooldown{interval: cfg.Cooldown},
	}
}

func (p *googleProvider) Name() string { return p.name }

type googleResponse struct {
	Status  string `json:"status"`
	Results []struct {
		FormattedAddress string `json:"formatted_address"`
		Geometry         struct {
			Location     struct{ Lat, Lng float64 } `json:"location"`
			LocationType string                     `json:"location_type"`
		} `json:"geometry"`
		AddressComponents []struct {
			LongName string   `json:"long_name"`
			Types    []string `json:"types"`
		} `json:"address_components"`
	} `json:"results"`
}

func (p *googleProvider) Geocode(ctx context.Context, query string) (*ProviderResponse, error) {
	p.cooldown.wait()

	params := url.Values{}
	params.Set("address", query)
	params.Set("key", p.apiKey)
	params.Set("region", "ge")
	params.Set("bounds", fmt.Sprintf("%f,%f|%f,%f", p.bounds.MinLat, p.bounds.MinLng, p.bounds.MaxLat, p.bounds.MaxLng))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/maps/api/geocode/json?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("geocoding request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("geocoding returned status %d", resp.StatusCode)
	}

	var gr googleResponse
	if err := json.NewDecoder(resp.Body).Decode(&gr); err != nil {
		return nil, fmt.Errorf("geocoding response decode failed: %w", err)
	}
	if gr.Status != "OK" || len(gr.Results) == 0 {
		return nil, fmt.Errorf("geocoding returned no results (status %s)", gr.Status)
	}

	result := gr.Results[0]
	out := &ProviderResponse{
		Lat:              result.Geometry.Location.Lat,
		Lng:              result.Geometry.Location.Lng,
		FormattedAddress: result.FormattedAddress,
		Confidence:       0.7,
		Rooftop:          result.Geometry.LocationType == "ROOFTOP",
	}
	for _, comp := range result.AddressComponents {
		for _, t := range comp.Types {
			if t == "sublocality" || t == "sublocality_level_1" || t == "neighborhood" {
				out.Components = append(out.Components, comp.LongName)
			}
		}
	}
	return out, nil
}

// opencageProvider queries an OpenCage-style forward geocoding API.
type opencageProvider struct {
	name     string
	baseURL  string
	apiKey   string
	bounds   CityBounds
	client   *http.Client
	cooldown cooldown
}

func NewOpenCageProvider(cfg config.GeoProviderConfig, bounds CityBounds) GeoProvider {
	if cfg.APIKey == "" || cfg.BaseURL == "" {
		return nil
	}
	return &opencageProvider{
		name:     cfg.Name,
		baseURL:  cfg.BaseURL,
		apiKey:   cfg.APIKey,
		bounds:   bounds,
		client:   &http.Client{Timeout: cfg.Timeout},
		cooldown: cooldown{interval: cfg.Cooldown},
	}
}

func (p *opencageProvider) Name() string { return p.name }

type opencageResponse struct {
	Results []struct {
		Formatted  string                     `json:"formatted"`
		Confidence int                        `json:"confidence"` // 1..10
		Geometry   struct{ Lat, Lng float64 } `json:"geometry"`
		Components struct {
			Suburb        string `json:"suburb"`
			CityDistrict  string `json:"city_district"`
			Neighbourhood string `json:"neighbourhood"`
		} `json:"components"`
	} `json:"results"`
}

func (p *opencageProvider) Geocode(ctx context.Context, query string) (*ProviderResponse, error) {
	p.cooldown.wait()

	params := url.Values{}
	params.Set("q", query)
	params.Set("key", p.apiKey)
	params.Set("countrycode", "ge")
	params.Set("bounds", fmt.Sprintf("%f,%f,%f,%f", p.bounds.MinLng, p.bounds.MinLat, p.bounds.MaxLng, p.bounds.MaxLat))
	params.Set("limit", "1")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/geocode/v1/json?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("geocoding request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("geocoding returned status %d", resp.StatusCode)
	}

	var oc opencageResponse
	if err := json.NewDecoder(resp.Body).Decode(&oc); err != nil {
		return nil, fmt.Errorf("geocoding response decode failed: %w", err)
	}
	if len(oc.Results) == 0 {
		return nil, fmt.Errorf("geocoding returned no results")
	}

	result := oc.Results[0]
	out := &ProviderResponse{
		Lat:              result.Geometry.Lat,
		Lng:              result.Geometry.Lng,
		FormattedAddress: result.Formatted,
		Confidence:       float64(result.Confidence) / 10,
	}
	for _, c := range []string{result.Components.Suburb, result.Components.CityDistrict, result.Components.Neighbourhood} {
		if c != "" {
			out.Components = append(out.Components, c)
		}
	}
	return out, nil
}

package geocode

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foker/tgflats-sub000/internal/app/config"
)

func TestGoogleProvider_Geocode(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		assert.Equal(t, "/maps/api/geocode/json", r.URL.Path)
		assert.Equal(t, "Chavchavadze Ave 10", r.URL.Query().Get("address"))
		assert.Equal(t, "secret", r.URL.Query().Get("key"))
		assert.Equal(t, "ge", r.URL.Query().Get("region"))
		assert.NotEmpty(t, r.URL.Query().Get("bounds"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"status": "OK",
			"results": [{
				"formatted_address": "10 Chavchavadze Ave, Tbilisi, Georgia",
				"geometry": {"location": {"lat": 41.7071, "lng": 44.7533}, "location_type": "ROOFTOP"},
				"address_components": [
					{"long_name": "Vake", "types": ["sublocality", "political"]},
					{"long_name": "Tbilisi", "types": ["locality"]}
				]
			}]
		}`))
	}))
	defer srv.Close()

	provider := NewGoogleProvider(config.GeoProviderConfig{
		Name:    "google",
		BaseURL: srv.URL,
		APIKey:  "secret",
		Timeout: 5 * time.Second,
	}, tbilisiBounds)
	require.NotNil(t, provider)

	resp, err := provider.Geocode(context.Background(), "Chavchavadze Ave 10")

	require.NoError(t, err)
	assert.Equal(t, int32(1), requests.Load())
	assert.InDelta(t, 41.7071, resp.Lat, 1e-9)
	assert.InDelta(t, 44.7533, resp.Lng, 1e-9)
	assert.True(t, resp.Rooftop)
	assert.Equal(t, []string{"Vake"}, resp.Components)
}

func TestGoogleProvider_ZeroResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status": "ZERO_RESULTS", "results": []}`))
	}))
	defer srv.Close()

	provider := NewGoogleProvider(config.GeoProviderConfig{
		Name: "google", BaseURL: srv.URL, APIKey: "secret", Timeout: 5 * time.Second,
	}, tbilisiBounds)

	_, err := provider.Geocode(context.Background(), "nowhere")
	assert.Error(t, err)
}

func TestOpenCageProvider_Geocode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/geocode/v1/json", r.URL.Path)
		assert.Equal(t, "ge", r.URL.Query().Get("countrycode"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"results": [{
				"formatted": "Pekini Ave 30, Tbilisi, Georgia",
				"confidence": 9,
				"geometry": {"lat": 41.7251, "lng": 44.7481},
				"components": {"suburb": "Saburtalo"}
			}]
		}`))
	}))
	defer srv.Close()

	provider := NewOpenCageProvider(config.GeoProviderConfig{
		Name: "opencage", BaseURL: srv.URL, APIKey: "secret", Timeout: 5 * time.Second,
	}, tbilisiBounds)
	require.NotNil(t, provider)

	resp, err := provider.Geocode(context.Background(), "Pekini Ave 30")

	require.NoError(t, err)
	assert.InDelta(t, 0.9, resp.Confidence, 1e-9)
	assert.Equal(t, []string{"Saburtalo"}, resp.Components)
}

func TestProviderConstructors_UnconfiguredReturnNil(t *testing.T) {
	assert.Nil(t, NewGoogleProvider(config.GeoProviderConfig{}, tbilisiBounds))
	assert.Nil(t, NewOpenCageProvider(config.GeoProviderConfig{BaseURL: "http://x"}, tbilisiBounds))
}

func TestCooldown_SpacesCalls(t *testing.T) {
	c := &cooldown{interval: 30 * time.Millisecond}

	start := time.Now()
	c.wait()
	c.wait()
	elapsed := time.Since(start)

	assert.GreaterOrEqual(t, elapsed, 30*time.Millisecond)
}

func TestCooldown_ZeroIntervalNoDelay(t *testing.T) {
	c := &cooldown{}

	start := time.Now()
	for i := 0; i < 100; i++ {
		c.wait()
	}
	assert.Less(t, time.Since(start), 50*time.Millisecond)
}

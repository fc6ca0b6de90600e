package geocode

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coopertaxi/dispatchd/core/geo"
	"github.com/coopertaxi/dispatchd/core/model"
)

var bogota = model.Coordinates{Latitude: 4.6486, Longitude: -74.0628}

func TestSectorForPrefersNeighborhood(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-key", r.URL.Query().Get("key"))
		assert.NotEmpty(t, r.URL.Query().Get("latlng"))
		w.Write([]byte(`{
			"status": "OK",
			"results": [{
				"address_components": [
					{"long_name": "Bogota", "types": ["locality", "political"]},
					{"long_name": "Chapinero", "types": ["neighborhood", "political"]}
				]
			}]
		}`))
	}))
	defer srv.Close()

	g := NewGoogle(Config{APIKey: "test-key", BaseURL: srv.URL})
	sector, err := g.SectorFor(context.Background(), bogota)
	require.NoError(t, err)
	assert.Equal(t, "Chapinero", sector)
}

func TestSectorForFallsBackToLocality(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{
			"status": "OK",
			"results": [{
				"address_components": [
					{"long_name": "Bogota", "types": ["locality", "political"]}
				]
			}]
		}`))
	}))
	defer srv.Close()

	g := NewGoogle(Config{APIKey: "test-key", BaseURL: srv.URL})
	sector, err := g.SectorFor(context.Background(), bogota)
	require.NoError(t, err)
	assert.Equal(t, "Bogota", sector)
}

func TestSectorForZeroResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status": "ZERO_RESULTS", "results": []}`))
	}))
	defer srv.Close()

	g := NewGoogle(Config{APIKey: "test-key", BaseURL: srv.URL})
	_, err := g.SectorFor(context.Background(), bogota)
	assert.ErrorContains(t, err, "ZERO_RESULTS")
}

func TestSectorForHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	g := NewGoogle(Config{APIKey: "test-key", BaseURL: srv.URL})
	_, err := g.SectorFor(context.Background(), bogota)
	assert.ErrorContains(t, err, "status 500")
}

func TestSectorForWithoutKey(t *testing.T) {
	g := NewGoogle(Config{})
	_, err := g.SectorFor(context.Background(), bogota)
	assert.ErrorIs(t, err, geo.ErrUnavailable)
}

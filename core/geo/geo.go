package geo

import (
	"context"
	"errors"

	"github.com/coopertaxi/dispatchd/core/logger"
	"github.com/coopertaxi/dispatchd/core/model"
)

// FallbackSector is the display label used when reverse geocoding is
// unavailable or fails. Geocoding is best effort and never blocks a request.
const FallbackSector = "GPS location"

// ErrUnavailable is returned by geocoders that are not configured.
var ErrUnavailable = errors.New("geocoder unavailable")

// Geocoder resolves a GPS fix to a human-readable sector label.
type Geocoder interface {
	SectorFor(ctx context.Context, c model.Coordinates) (string, error)
}

// NopGeocoder always reports ErrUnavailable.
type NopGeocoder struct{}

func (NopGeocoder) SectorFor(context.Context, model.Coordinates) (string, error) {
	return "", ErrUnavailable
}

// BestEffortSector resolves a sector label, degrading to FallbackSector on
// any failure.
func BestEffortSector(ctx context.Context, g Geocoder, c model.Coordinates, log logger.Logger) string {
	if g == nil {
		return FallbackSector
	}
	sector, err := g.SectorFor(ctx, c)
	if err != nil || sector == "" {
		if err != nil && !errors.Is(err, ErrUnavailable) {
			log.Warnf("geocoding failed, using fallback label: %v", err)
		}
		return FallbackSector
	}
	return sector
}

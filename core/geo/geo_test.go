package geo

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/coopertaxi/dispatchd/core/model"
	"github.com/coopertaxi/dispatchd/infra/logger"
)

type stubGeocoder struct {
	sector string
	err    error
}

func (s stubGeocoder) SectorFor(context.Context, model.Coordinates) (string, error) {
	return s.sector, s.err
}

func TestBestEffortSector(t *testing.T) {
	coords := model.Coordinates{Latitude: 4.6097, Longitude: -74.0817}
	log := logger.NopLogger{}

	assert.Equal(t, "Chapinero", BestEffortSector(context.Background(), stubGeocoder{sector: "Chapinero"}, coords, log))
	assert.Equal(t, FallbackSector, BestEffortSector(context.Background(), nil, coords, log))
	assert.Equal(t, FallbackSector, BestEffortSector(context.Background(), NopGeocoder{}, coords, log))
	assert.Equal(t, FallbackSector, BestEffortSector(context.Background(), stubGeocoder{err: errors.New("boom")}, coords, log))
	assert.Equal(t, FallbackSector, BestEffortSector(context.Background(), stubGeocoder{}, coords, log))
}

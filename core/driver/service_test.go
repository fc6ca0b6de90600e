package driver

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coopertaxi/dispatchd/core/model"
	"github.com/coopertaxi/dispatchd/core/store"
	"github.com/coopertaxi/dispatchd/infra/logger"
)

func newService(t *testing.T) (*Service, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemoryStore()
	svc, err := NewService(st, logger.NopLogger{})
	require.NoError(t, err)
	return svc, st
}

func TestRegister(t *testing.T) {
	svc, _ := newService(t)

	drv, err := svc.Register(context.Background(), RegisterParams{
		Name: "Carlos", Phone: "+57 300 555 0001", Plate: "abc123",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, drv.ID)
	assert.Equal(t, "3005550001", drv.Phone)
	assert.Equal(t, "ABC123", drv.Plate)
	assert.True(t, drv.Active)

	_, err = svc.Register(context.Background(), RegisterParams{
		Name: "Impostor", Phone: "3005550001", Plate: "XYZ789",
	})
	assert.ErrorIs(t, err, model.ErrDuplicateDriver)
}

func TestRegisterValidation(t *testing.T) {
	svc, _ := newService(t)

	cases := []struct {
		name string
		p    RegisterParams
	}{
		{"bad phone", RegisterParams{Name: "Carlos", Phone: "123", Plate: "ABC123"}},
		{"bad name", RegisterParams{Name: "C", Phone: "3005550001", Plate: "ABC123"}},
		{"bad plate", RegisterParams{Name: "Carlos", Phone: "3005550001", Plate: "1234"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Register(context.Background(), tc.p)
			assert.True(t, model.IsValidation(err))
		})
	}
}

func TestSetActiveAndInfo(t *testing.T) {
	svc, _ := newService(t)
	_, err := svc.Register(context.Background(), RegisterParams{Name: "Carlos", Phone: "3005550001", Plate: "ABC123"})
	require.NoError(t, err)

	require.NoError(t, svc.SetActive(context.Background(), "3005550001", false))
	drv, err := svc.Info(context.Background(), "3005550001")
	require.NoError(t, err)
	assert.False(t, drv.Active)

	err = svc.SetActive(context.Background(), "3009990000", true)
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestUpdateLocation(t *testing.T) {
	svc, _ := newService(t)
	_, err := svc.Register(context.Background(), RegisterParams{Name: "Carlos", Phone: "3005550001", Plate: "ABC123"})
	require.NoError(t, err)

	require.NoError(t, svc.UpdateLocation(context.Background(), "3005550001", "Centro"))
	drv, err := svc.Info(context.Background(), "3005550001")
	require.NoError(t, err)
	assert.Equal(t, "Centro", drv.Location)

	err = svc.UpdateLocation(context.Background(), "3005550001", "x")
	assert.True(t, model.IsValidation(err))
}

func TestDeleteBlockedByAssignedRide(t *testing.T) {
	svc, st := newService(t)
	drv, err := svc.Register(context.Background(), RegisterParams{Name: "Carlos", Phone: "3005550001", Plate: "ABC123"})
	require.NoError(t, err)

	now := time.Now().UTC()
	require.NoError(t, st.CreateRequest(context.Background(), &model.Request{
		ID: "r1", RequesterPhone: "3005550009", RequesterName: "Ana",
		Location: "Calle 10 #4-32", Status: model.StatusAssigned,
		AssignedDriverID: drv.ID, CreatedAt: now, UpdatedAt: now,
	}))

	assert.ErrorIs(t, svc.Delete(context.Background(), "3005550001"), model.ErrDriverBusy)

	swapped, err := st.TransitionRequest(context.Background(), "r1", model.StatusAssigned, model.StatusCompleted)
	require.NoError(t, err)
	require.True(t, swapped)

	require.NoError(t, svc.Delete(context.Background(), "3005550001"))
	_, err = svc.Info(context.Background(), "3005550001")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestStats(t *testing.T) {
	svc, _ := newService(t)
	_, err := svc.Register(context.Background(), RegisterParams{Name: "Carlos", Phone: "3005550001", Plate: "ABC123"})
	require.NoError(t, err)
	_, err = svc.Register(context.Background(), RegisterParams{Name: "Maria", Phone: "3005550002", Plate: "XYZ789"})
	require.NoError(t, err)
	require.NoError(t, svc.SetActive(context.Background(), "3005550002", false))

	st, err := svc.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, st.Total)
	assert.Equal(t, 1, st.Active)
}

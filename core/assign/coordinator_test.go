package assign

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coopertaxi/dispatchd/core/model"
	"github.com/coopertaxi/dispatchd/core/store"
	"github.com/coopertaxi/dispatchd/infra/logger"
)

func seed(t *testing.T, st *store.MemoryStore, drivers int) []string {
	t.Helper()
	phones := make([]string, 0, drivers)
	for i := 0; i < drivers; i++ {
		phone := fmt.Sprintf("30011122%02d", i)
		err := st.CreateDriver(context.Background(), &model.Driver{
			ID: fmt.Sprintf("d%d", i), Name: "Driver", Phone: phone, Plate: "ABC123", Active: true,
		})
		require.NoError(t, err)
		phones = append(phones, phone)
	}
	return phones
}

func TestTryAcceptFirstWins(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	phones := seed(t, st, 2)
	require.NoError(t, st.CreateRequest(ctx, &model.Request{ID: "r1", RequesterPhone: "3009999999", Status: model.StatusPending}))

	c, err := New(st, logger.NopLogger{}, nil, nil)
	require.NoError(t, err)

	out, err := c.TryAccept(ctx, phones[0])
	require.NoError(t, err)
	assert.Equal(t, OutcomeAssigned, out.Kind)
	require.NotNil(t, out.Request)
	assert.Equal(t, "d0", out.Request.AssignedDriverID)

	out, err = c.TryAccept(ctx, phones[1])
	require.NoError(t, err)
	assert.Equal(t, OutcomeAlreadyTaken, out.Kind)
}

func TestTryAcceptConcurrentExactlyOneWinner(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	phones := seed(t, st, 20)
	require.NoError(t, st.CreateRequest(ctx, &model.Request{ID: "r1", RequesterPhone: "3009999999", Status: model.StatusPending}))

	c, err := New(st, logger.NopLogger{}, nil, nil)
	require.NoError(t, err)

	var wg sync.WaitGroup
	outcomes := make([]Outcome, len(phones))
	for i, phone := range phones {
		wg.Add(1)
		go func(i int, phone string) {
			defer wg.Done()
			out, err := c.TryAccept(ctx, phone)
			assert.NoError(t, err)
			outcomes[i] = out
		}(i, phone)
	}
	wg.Wait()

	winners := 0
	for _, out := range outcomes {
		if out.Kind == OutcomeAssigned {
			winners++
		} else {
			assert.Equal(t, OutcomeAlreadyTaken, out.Kind)
		}
	}
	assert.Equal(t, 1, winners)

	got, err := st.RequestByID(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusAssigned, got.Status)
	assert.NotEmpty(t, got.AssignedDriverID)
}

func TestTryAcceptEligibility(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	require.NoError(t, st.CreateDriver(ctx, &model.Driver{ID: "d1", Name: "Off Duty", Phone: "3001111111", Plate: "ABC123", Active: false}))
	require.NoError(t, st.CreateRequest(ctx, &model.Request{ID: "r1", Status: model.StatusPending}))

	c, err := New(st, logger.NopLogger{}, nil, nil)
	require.NoError(t, err)

	// Unknown sender.
	out, err := c.TryAccept(ctx, "3007777777")
	require.NoError(t, err)
	assert.Equal(t, OutcomeNotEligible, out.Kind)

	// Registered but inactive.
	out, err = c.TryAccept(ctx, "3001111111")
	require.NoError(t, err)
	assert.Equal(t, OutcomeNotEligible, out.Kind)

	got, err := st.RequestByID(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, got.Status)
}

func TestTryAcceptNoPending(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	phones := seed(t, st, 1)

	c, err := New(st, logger.NopLogger{}, nil, nil)
	require.NoError(t, err)

	out, err := c.TryAccept(ctx, phones[0])
	require.NoError(t, err)
	assert.Equal(t, OutcomeAlreadyTaken, out.Kind)
}

// A driver answering the offer for a newer request still wins the oldest
// open one.
func TestTryAcceptTargetsOldestPending(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	phones := seed(t, st, 1)
	require.NoError(t, st.CreateRequest(ctx, &model.Request{ID: "first", RequesterPhone: "a", Status: model.StatusPending}))
	time.Sleep(5 * time.Millisecond)
	require.NoError(t, st.CreateRequest(ctx, &model.Request{ID: "second", RequesterPhone: "b", Status: model.StatusPending}))

	c, err := New(st, logger.NopLogger{}, nil, nil)
	require.NoError(t, err)

	out, err := c.TryAccept(ctx, phones[0])
	require.NoError(t, err)
	require.Equal(t, OutcomeAssigned, out.Kind)
	assert.Equal(t, "first", out.Request.ID)
}

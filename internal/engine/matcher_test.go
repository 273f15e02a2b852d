package engine_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ruijietay/Dabao4Me/internal/engine"
	"github.com/ruijietay/Dabao4Me/internal/models"
)

func TestListAvailableFIFO(t *testing.T) {
	fx := newFixture()
	ctx := context.Background()
	fx.createRequest(t, 1, models.CanteenDeck, "first", "1.00")
	fx.createRequest(t, 2, models.CanteenDeck, "second", "1.00")
	fx.createRequest(t, 3, models.CanteenPGPR, "elsewhere", "1.00")

	listed, err := fx.matcher.ListAvailable(ctx, models.CanteenDeck)
	require.NoError(t, err)
	require.Len(t, listed, 2)
	assert.Equal(t, "first", listed[0].Food)
	assert.Equal(t, "second", listed[1].Food)
}

func TestListAvailableExcludesMatched(t *testing.T) {
	fx := newFixture()
	ctx := context.Background()
	fx.createRequest(t, 1, models.CanteenDeck, "first", "1.00")
	fx.createRequest(t, 2, models.CanteenDeck, "second", "1.00")
	fx.matchRequest(t, models.CanteenDeck, 9)

	listed, err := fx.matcher.ListAvailable(ctx, models.CanteenDeck)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, "second", listed[0].Food)
}

// Scenario: create at "deck", list shows it at position 1, select claims
// it for U2.
func TestSelect(t *testing.T) {
	fx := newFixture()
	ctx := context.Background()
	created := fx.createRequest(t, 1, models.CanteenDeck, "chicken rice", "1.50")

	listed, err := fx.matcher.ListAvailable(ctx, models.CanteenDeck)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, created.ID, listed[0].ID)

	matched, err := fx.matcher.Select(ctx, models.CanteenDeck, engine.Fulfiller{ID: 2, Name: "u2", ChatID: 2}, 1)
	require.NoError(t, err)
	assert.Equal(t, models.StatusInProgress, matched.Status)
	assert.EqualValues(t, 2, matched.FulfillerID)

	stored, err := fx.store.GetByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusInProgress, stored.Status)
	assert.EqualValues(t, 2, stored.FulfillerID)
	assert.Equal(t, "u2", stored.FulfillerName)
}

func TestSelectIndexOutOfRange(t *testing.T) {
	fx := newFixture()
	ctx := context.Background()
	fx.createRequest(t, 1, models.CanteenDeck, "chicken rice", "1.50")

	f := engine.Fulfiller{ID: 2, Name: "u2", ChatID: 2}
	_, err := fx.matcher.Select(ctx, models.CanteenDeck, f, 0)
	assert.ErrorIs(t, err, engine.ErrIndexOutOfRange)
	_, err = fx.matcher.Select(ctx, models.CanteenDeck, f, 2)
	assert.ErrorIs(t, err, engine.ErrIndexOutOfRange)
}

func TestSelectOwnRequestRejected(t *testing.T) {
	fx := newFixture()
	ctx := context.Background()
	req := fx.createRequest(t, 1, models.CanteenDeck, "chicken rice", "1.50")

	_, err := fx.matcher.Select(ctx, models.CanteenDeck, engine.Fulfiller{ID: 1, Name: "u1", ChatID: 1}, 1)
	assert.ErrorIs(t, err, engine.ErrValidation)

	stored, err := fx.store.GetByID(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusAvailable, stored.Status)
	assert.Zero(t, stored.FulfillerID)
}

func TestSelectNeverClaimsNonAvailable(t *testing.T) {
	fx := newFixture()
	ctx := context.Background()
	req := fx.createRequest(t, 1, models.CanteenDeck, "chicken rice", "1.50")
	fx.matchRequest(t, models.CanteenDeck, 2)

	// The request is gone from the listing, so an index pointing at it is
	// out of range rather than a second claim.
	_, err := fx.matcher.Select(ctx, models.CanteenDeck, engine.Fulfiller{ID: 3, Name: "u3", ChatID: 3}, 1)
	assert.ErrorIs(t, err, engine.ErrIndexOutOfRange)

	stored, err := fx.store.GetByID(ctx, req.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 2, stored.FulfillerID)
}

// Two concurrent selects for the same display index: exactly one wins,
// the loser gets a state conflict from the guarded update.
func TestSelectConcurrent(t *testing.T) {
	fx := newFixture()
	ctx := context.Background()
	req := fx.createRequest(t, 1, models.CanteenDeck, "chicken rice", "1.50")

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			f := engine.Fulfiller{ID: int64(10 + i), Name: "racer", ChatID: int64(10 + i)}
			_, errs[i] = fx.matcher.Select(ctx, models.CanteenDeck, f, 1)
		}(i)
	}
	wg.Wait()

	// The loser either loses the guarded update (both listed before the
	// winner claimed) or finds the listing already empty.
	winners, losers := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			winners++
		case errors.Is(err, engine.ErrStateConflict), errors.Is(err, engine.ErrIndexOutOfRange):
			losers++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, winners)
	assert.Equal(t, 1, losers)

	stored, err := fx.store.GetByID(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusInProgress, stored.Status)
}

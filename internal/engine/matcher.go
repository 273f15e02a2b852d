package engine

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/ruijietay/Dabao4Me/internal/metrics"
	"github.com/ruijietay/Dabao4Me/internal/models"
)

// Matcher discovers Available requests per canteen and assigns a
// fulfiller. Assignment is a status-guarded conditional update, so when
// two fulfillers race for the same request exactly one wins.
type Matcher struct {
	requests RequestStore
	ratings  RatingStore
	log      *zap.Logger
}

func NewMatcher(requests RequestStore, ratings RatingStore, log *zap.Logger) *Matcher {
	return &Matcher{requests: requests, ratings: ratings, log: log}
}

// ListAvailable returns the canteen's open requests in submission order.
// The store's index is unordered; ids embed the creation timestamp, so
// sorting by id gives FIFO fairness.
func (m *Matcher) ListAvailable(ctx context.Context, canteen models.Canteen) ([]models.Request, error) {
	if !canteen.Valid() {
		return nil, fmt.Errorf("%w: unknown canteen %q", ErrValidation, canteen)
	}
	reqs, err := m.requests.QueryByCanteen(ctx, canteen, models.StatusAvailable)
	if err != nil {
		return nil, fmt.Errorf("listing %s requests: %w", canteen, err)
	}
	sort.Slice(reqs, func(i, j int) bool { return reqs[i].ID < reqs[j].ID })
	return reqs, nil
}

// Fulfiller identifies the user claiming a request.
type Fulfiller struct {
	ID     int64
	Name   string
	ChatID int64
}

// Select claims the displayIndex-th (1-based) request of the canteen's
// current listing. The listing is re-read at call time, so the index is
// interpreted against what the fulfiller was just shown. The claim itself
// is guarded on the status still being Available; a concurrent winner
// leaves the loser with ErrStateConflict. Claiming one's own request is
// ErrValidation.
func (m *Matcher) Select(ctx context.Context, canteen models.Canteen, f Fulfiller, displayIndex int) (models.Request, error) {
	listed, err := m.ListAvailable(ctx, canteen)
	if err != nil {
		return models.Request{}, err
	}
	if displayIndex < 1 || displayIndex > len(listed) {
		return models.Request{}, fmt.Errorf("%w: %d of %d listed", ErrIndexOutOfRange, displayIndex, len(listed))
	}
	chosen := listed[displayIndex-1]
	if chosen.RequesterID == f.ID {
		return models.Request{}, fmt.Errorf("%w: cannot fulfil your own request", ErrValidation)
	}

	update := RequestUpdate{
		Status:          ptr(models.StatusInProgress),
		FulfillerID:     ptr(f.ID),
		FulfillerName:   ptr(f.Name),
		FulfillerChatID: ptr(f.ChatID),
	}
	if err := m.requests.ConditionalUpdate(ctx, chosen.ID, models.StatusAvailable, update); err != nil {
		return models.Request{}, err
	}

	chosen.Status = models.StatusInProgress
	chosen.FulfillerID = f.ID
	chosen.FulfillerName = f.Name
	chosen.FulfillerChatID = f.ChatID

	metrics.RequestsMatched.Inc()
	m.log.Info("request matched",
		zap.String("request_id", chosen.ID),
		zap.Int64("fulfiller_id", f.ID),
		zap.String("canteen", string(canteen)))
	return chosen, nil
}

// RequesterRating returns the requester's trust summary shown next to
// each listed request.
func (m *Matcher) RequesterRating(ctx context.Context, requesterID int64) (models.RatingRecord, error) {
	return m.ratings.GetOrDefault(ctx, requesterID)
}

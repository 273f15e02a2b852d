package engine

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/ruijietay/Dabao4Me/internal/metrics"
	"github.com/ruijietay/Dabao4Me/internal/models"
)

// Ledger records good/bad ratings after a completed request and reduces
// each user's counters to a displayable trust percentage. Every Rate call
// is a new rating event; duplicates are not collapsed.
type Ledger struct {
	requests RequestStore
	ratings  RatingStore
	log      *zap.Logger
}

func NewLedger(requests RequestStore, ratings RatingStore, log *zap.Logger) *Ledger {
	return &Ledger{requests: requests, ratings: ratings, log: log}
}

// Rate applies the rater's verdict on the counterpart of the given
// request. The request id is explicit so there is never ambiguity about
// which conversation a rating belongs to; the ratee is resolved from the
// stored record.
func (lg *Ledger) Rate(ctx context.Context, requestID string, raterID int64, verdict models.Verdict) error {
	req, err := lg.requests.GetByID(ctx, requestID)
	if err != nil {
		return err
	}
	if req.Status != models.StatusComplete {
		return fmt.Errorf("%w: can only rate a completed request", ErrStateConflict)
	}

	raterRole, ok := req.RoleOf(raterID)
	if !ok {
		return fmt.Errorf("%w: user %d is not a party to this request", ErrValidation, raterID)
	}
	var rateeID int64
	if raterRole == models.RoleRequester {
		rateeID = req.FulfillerID
	} else {
		rateeID = req.RequesterID
	}

	givenField, receivedField := FieldGoodGiven, FieldGoodReceived
	if verdict == models.VerdictBad {
		givenField, receivedField = FieldBadGiven, FieldBadReceived
	}

	if err := lg.ratings.Increment(ctx, raterID, givenField, 1); err != nil {
		return fmt.Errorf("recording rating given: %w", err)
	}
	if err := lg.ratings.Increment(ctx, rateeID, receivedField, 1); err != nil {
		return fmt.Errorf("recording rating received: %w", err)
	}

	metrics.RatingsRecorded.WithLabelValues(string(verdict)).Inc()
	lg.log.Info("rating recorded",
		zap.String("request_id", requestID),
		zap.Int64("rater_id", raterID),
		zap.Int64("ratee_id", rateeID),
		zap.String("verdict", string(verdict)))
	return nil
}

// Percentage returns the user's trust figure: the share of good ratings
// among all ratings received, rounded, or 0 for an unrated user.
func (lg *Ledger) Percentage(ctx context.Context, userID int64) (int, error) {
	rec, err := lg.ratings.GetOrDefault(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("loading ratings for %d: %w", userID, err)
	}
	return rec.Percentage(), nil
}

// Summary returns the full counter record for display alongside a
// request listing.
func (lg *Ledger) Summary(ctx context.Context, userID int64) (models.RatingRecord, error) {
	return lg.ratings.GetOrDefault(ctx, userID)
}

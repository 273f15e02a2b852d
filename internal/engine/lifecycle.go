package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/ruijietay/Dabao4Me/internal/metrics"
	"github.com/ruijietay/Dabao4Me/internal/models"
	"github.com/ruijietay/Dabao4Me/internal/transport"
)

// EditField names the single request field an Edit call changes.
type EditField string

const (
	EditCanteen EditField = "canteen"
	EditFood    EditField = "food"
	EditTip     EditField = "tip"
)

// Lifecycle owns the valid state transitions of a request: create, edit,
// cancel and one-sided close. Matching and completion live in Matcher and
// Handshake.
type Lifecycle struct {
	requests RequestStore
	chat     transport.Transport
	log      *zap.Logger
	now      func() time.Time
}

func NewLifecycle(requests RequestStore, chat transport.Transport, log *zap.Logger) *Lifecycle {
	return &Lifecycle{requests: requests, chat: chat, log: log, now: time.Now}
}

// NewRequest carries the requester's input for Create.
type NewRequest struct {
	RequesterID   int64
	RequesterName string
	ChatID        int64
	Canteen       models.Canteen
	Food          string
	Tip           decimal.Decimal
}

// Create validates the input and stores a fresh Available request. The id
// embeds the creation timestamp so listing order equals submission order.
func (l *Lifecycle) Create(ctx context.Context, in NewRequest) (models.Request, error) {
	if !in.Canteen.Valid() {
		return models.Request{}, fmt.Errorf("%w: unknown canteen %q", ErrValidation, in.Canteen)
	}
	if !models.ValidTip(in.Tip) {
		return models.Request{}, fmt.Errorf("%w: tip must be non-negative with at most two decimal places", ErrValidation)
	}

	created := l.now()
	req := models.Request{
		ID:              models.NewRequestID(created, in.RequesterID),
		RequesterID:     in.RequesterID,
		RequesterName:   in.RequesterName,
		RequesterChatID: in.ChatID,
		Canteen:         in.Canteen,
		Food:            in.Food,
		Tip:             in.Tip,
		Status:          models.StatusAvailable,
		CreatedAt:       created,
	}

	if err := l.requests.Put(ctx, req); err != nil {
		return models.Request{}, fmt.Errorf("storing request: %w", err)
	}

	metrics.RequestsCreated.Inc()
	l.log.Info("request created",
		zap.String("request_id", req.ID),
		zap.Int64("requester_id", req.RequesterID),
		zap.String("canteen", string(req.Canteen)))
	return req, nil
}

// Edit updates exactly one of canteen, food or tip. Permitted while the
// request is Available or InProgress; the id and status never change.
func (l *Lifecycle) Edit(ctx context.Context, id string, field EditField, value string) error {
	var update RequestUpdate
	switch field {
	case EditCanteen:
		canteen := models.Canteen(value)
		if !canteen.Valid() {
			return fmt.Errorf("%w: unknown canteen %q", ErrValidation, value)
		}
		update.Canteen = &canteen
	case EditFood:
		update.Food = &value
	case EditTip:
		tip, err := decimal.NewFromString(value)
		if err != nil || !models.ValidTip(tip) {
			return fmt.Errorf("%w: tip must be non-negative with at most two decimal places", ErrValidation)
		}
		update.Tip = &tip
	default:
		return fmt.Errorf("%w: unknown field %q", ErrValidation, field)
	}

	// Status only moves forward, so trying each editable status in order
	// stays race-free: every attempt is itself an atomic guarded update.
	err := l.requests.ConditionalUpdate(ctx, id, models.StatusAvailable, update)
	if errors.Is(err, ErrStateConflict) {
		err = l.requests.ConditionalUpdate(ctx, id, models.StatusInProgress, update)
	}
	if err != nil {
		return err
	}

	l.log.Info("request edited", zap.String("request_id", id), zap.String("field", string(field)))
	return nil
}

// Cancel hard-deletes a request that nobody has claimed yet. Once matched
// the request can only be closed or completed.
func (l *Lifecycle) Cancel(ctx context.Context, id string) error {
	if err := l.requests.ConditionalDelete(ctx, id, models.StatusAvailable); err != nil {
		return err
	}
	metrics.RequestsCancelled.Inc()
	l.log.Info("request cancelled", zap.String("request_id", id))
	return nil
}

// Close ends a matched conversation one-sidedly and tells the other
// party. Distinct from the mutual completion handshake: a closed request
// never becomes Complete.
func (l *Lifecycle) Close(ctx context.Context, id string, initiator models.Role) error {
	req, err := l.requests.GetByID(ctx, id)
	if err != nil {
		return err
	}

	update := RequestUpdate{Status: ptr(models.StatusClosed)}
	if err := l.requests.ConditionalUpdate(ctx, id, models.StatusInProgress, update); err != nil {
		return err
	}

	metrics.RequestsClosed.Inc()
	l.log.Info("request closed",
		zap.String("request_id", id),
		zap.String("initiator", string(initiator)))

	counterpart := initiator.Counterpart()
	if chatID := req.ChatIDFor(counterpart); chatID != 0 {
		if err := l.chat.Send(ctx, chatID, MsgOtherPartyEnded); err != nil {
			l.log.Warn("notifying counterpart on close", zap.String("request_id", id), zap.Error(err))
		}
	}
	return nil
}

// ListMine returns the caller's still-Available requests in submission
// order, for the modify/cancel menu.
func (l *Lifecycle) ListMine(ctx context.Context, requesterID int64) ([]models.Request, error) {
	reqs, err := l.requests.QueryByRequester(ctx, requesterID, models.StatusAvailable)
	if err != nil {
		return nil, fmt.Errorf("listing requests for %d: %w", requesterID, err)
	}
	sort.Slice(reqs, func(i, j int) bool { return reqs[i].ID < reqs[j].ID })
	return reqs, nil
}

package engine

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/ruijietay/Dabao4Me/internal/models"
)

// RequestUpdate carries the fields a conditional update may change. Nil
// fields are left untouched.
type RequestUpdate struct {
	Canteen         *models.Canteen
	Food            *string
	Tip             *decimal.Decimal
	Status          *models.RequestStatus
	FulfillerID     *int64
	FulfillerName   *string
	FulfillerChatID *int64
}

// RequestStore is the durable home of Request records. Implementations
// must make ConditionalUpdate, ConditionalDelete and ConfirmCompletion
// atomic: the guard check and the write happen as one operation, never as
// a read followed by an unconditional write.
type RequestStore interface {
	Put(ctx context.Context, req models.Request) error

	// GetByID returns ErrNotFound for an unknown id.
	GetByID(ctx context.Context, id string) (models.Request, error)

	// ConditionalUpdate applies update only while the stored status still
	// equals expected. Returns ErrStateConflict when the guard fails and
	// ErrNotFound when the record is gone.
	ConditionalUpdate(ctx context.Context, id string, expected models.RequestStatus, update RequestUpdate) error

	// ConditionalDelete removes the record only while its status still
	// equals expected, with the same error contract as ConditionalUpdate.
	ConditionalDelete(ctx context.Context, id string, expected models.RequestStatus) error

	// ConfirmCompletion atomically sets the given side's confirmation
	// flag and, if the other side had already confirmed, flips the status
	// to Complete in the same write. It returns the record as stored
	// after the update. Errors: ErrNotFound, ErrNotInProgress when the
	// request is not InProgress, ErrAlreadyConfirmed when this side's
	// flag was already set.
	ConfirmCompletion(ctx context.Context, id string, role models.Role) (models.Request, error)

	// QueryByCanteen returns records matching (canteen, status) in no
	// particular order.
	QueryByCanteen(ctx context.Context, canteen models.Canteen, status models.RequestStatus) ([]models.Request, error)

	// QueryByRequester returns records matching (requesterID, status) in
	// no particular order.
	QueryByRequester(ctx context.Context, requesterID int64, status models.RequestStatus) ([]models.Request, error)
}

// RatingField names one of the four reputation counters.
type RatingField string

const (
	FieldGoodGiven    RatingField = "good_given"
	FieldBadGiven     RatingField = "bad_given"
	FieldGoodReceived RatingField = "good_received"
	FieldBadReceived  RatingField = "bad_received"
)

// RatingStore is the durable home of per-user reputation counters.
type RatingStore interface {
	// GetOrDefault returns a zeroed record for users never rated.
	GetOrDefault(ctx context.Context, userID int64) (models.RatingRecord, error)

	// Increment atomically adds delta to one counter, creating the record
	// if absent.
	Increment(ctx context.Context, userID int64, field RatingField, delta int64) error
}

func ptr[T any](v T) *T { return &v }

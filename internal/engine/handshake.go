package engine

import (
	"context"

	"go.uber.org/zap"

	"github.com/ruijietay/Dabao4Me/internal/metrics"
	"github.com/ruijietay/Dabao4Me/internal/models"
	"github.com/ruijietay/Dabao4Me/internal/transport"
)

// CompletionOutcome reports how far the two-sided handshake has moved.
type CompletionOutcome int

const (
	// OutcomeAwaitingOther: the caller's confirmation is recorded, the
	// counterpart has not confirmed yet.
	OutcomeAwaitingOther CompletionOutcome = iota
	// OutcomeBothConfirmed: both sides have confirmed and the request is
	// now Complete.
	OutcomeBothConfirmed
)

// Handshake coordinates the order-independent two-sided completion
// confirmation. The store's ConfirmCompletion does the flag-and-status
// flip in one conditional write, so the transition to Complete fires
// exactly once no matter how the two confirmations interleave.
type Handshake struct {
	requests RequestStore
	chat     transport.Transport
	log      *zap.Logger
}

func NewHandshake(requests RequestStore, chat transport.Transport, log *zap.Logger) *Handshake {
	return &Handshake{requests: requests, chat: chat, log: log}
}

// Complete records one side's completion confirmation and returns the
// request as stored after the update.
//
// Errors: ErrNotInProgress when the request is not matched (the caller's
// session stays where it is), ErrAlreadyConfirmed when this side has
// already confirmed and is still waiting on the other.
func (h *Handshake) Complete(ctx context.Context, id string, role models.Role) (CompletionOutcome, models.Request, error) {
	req, err := h.requests.ConfirmCompletion(ctx, id, role)
	if err != nil {
		return OutcomeAwaitingOther, models.Request{}, err
	}

	callerChat := req.ChatIDFor(role)
	counterpartChat := req.ChatIDFor(role.Counterpart())

	if req.Status == models.StatusComplete {
		metrics.RequestsCompleted.Inc()
		h.log.Info("request completed",
			zap.String("request_id", id),
			zap.String("confirmed_last", string(role)))

		for _, chatID := range []int64{callerChat, counterpartChat} {
			if err := h.chat.Send(ctx, chatID, MsgBothConfirmed); err != nil {
				h.log.Warn("sending completion notice", zap.String("request_id", id), zap.Error(err))
			}
		}
		return OutcomeBothConfirmed, req, nil
	}

	h.log.Info("completion confirmed, awaiting counterpart",
		zap.String("request_id", id),
		zap.String("confirmed_by", string(role)))

	if err := h.chat.Send(ctx, callerChat, MsgAwaitingOther); err != nil {
		h.log.Warn("notifying caller", zap.String("request_id", id), zap.Error(err))
	}
	if err := h.chat.Send(ctx, counterpartChat, MsgCounterpartConfirm); err != nil {
		h.log.Warn("notifying counterpart", zap.String("request_id", id), zap.Error(err))
	}
	return OutcomeAwaitingOther, req, nil
}

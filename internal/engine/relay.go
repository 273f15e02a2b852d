package engine

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/ruijietay/Dabao4Me/internal/metrics"
	"github.com/ruijietay/Dabao4Me/internal/models"
	"github.com/ruijietay/Dabao4Me/internal/transport"
)

// RelayOutcome tells the calling session what happened to its message and
// whether the conversation goes on.
type RelayOutcome int

const (
	// OutcomeForwarded: message delivered to the counterpart, keep going.
	OutcomeForwarded RelayOutcome = iota
	// OutcomeAwaitingMatch: no fulfiller yet, sender told to wait.
	OutcomeAwaitingMatch
	// OutcomeEnded: conversation is over (closed or complete), nothing
	// was forwarded.
	OutcomeEnded
)

// Relay forwards free text between the two matched parties, gated by the
// request's current status. Messages go out in the order Relay is called;
// there is no batching and no retry here, delivery is the transport's
// problem.
type Relay struct {
	requests RequestStore
	chat     transport.Transport
	log      *zap.Logger
}

func NewRelay(requests RequestStore, chat transport.Transport, log *zap.Logger) *Relay {
	return &Relay{requests: requests, chat: chat, log: log}
}

func (r *Relay) Relay(ctx context.Context, id string, sender models.Role, text string) (RelayOutcome, error) {
	req, err := r.requests.GetByID(ctx, id)
	if err != nil {
		return OutcomeEnded, err
	}

	senderChat := req.ChatIDFor(sender)

	switch req.Status {
	case models.StatusClosed:
		if err := r.chat.Send(ctx, senderChat, MsgOtherPartyEnded); err != nil {
			return OutcomeEnded, fmt.Errorf("replying to sender: %w", err)
		}
		return OutcomeEnded, nil

	case models.StatusComplete:
		if err := r.chat.Send(ctx, senderChat, MsgConversationDone); err != nil {
			return OutcomeEnded, fmt.Errorf("replying to sender: %w", err)
		}
		return OutcomeEnded, nil

	case models.StatusAvailable:
		if sender == models.RoleRequester {
			if err := r.chat.Send(ctx, senderChat, MsgStillSearching); err != nil {
				return OutcomeAwaitingMatch, fmt.Errorf("replying to sender: %w", err)
			}
			return OutcomeAwaitingMatch, nil
		}
		return OutcomeEnded, fmt.Errorf("%w: fulfiller has no conversation on an available request", ErrStateConflict)

	case models.StatusInProgress:
		counterpartChat := req.ChatIDFor(sender.Counterpart())
		forwarded := fmt.Sprintf("%s: %s", req.NameFor(sender), text)
		if err := r.chat.Send(ctx, counterpartChat, forwarded); err != nil {
			return OutcomeForwarded, fmt.Errorf("forwarding to counterpart: %w", err)
		}
		metrics.MessagesRelayed.Inc()
		r.log.Debug("message relayed",
			zap.String("request_id", id),
			zap.String("sender", string(sender)))
		return OutcomeForwarded, nil

	default:
		return OutcomeEnded, fmt.Errorf("%w: unexpected status %q", ErrStateConflict, req.Status)
	}
}

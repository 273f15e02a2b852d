// Package bot maps chat events onto the engine: command parsing, inline
// keyboards and the per-chat session state machine. All request state
// lives in the stores; this package only remembers where each chat is in
// the conversational flow.
package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/ruijietay/Dabao4Me/internal/engine"
	"github.com/ruijietay/Dabao4Me/internal/models"
	"github.com/ruijietay/Dabao4Me/internal/transport"
)

type Bot struct {
	lifecycle *engine.Lifecycle
	matcher   *engine.Matcher
	relay     *engine.Relay
	handshake *engine.Handshake
	ledger    *engine.Ledger
	chat      transport.Transport
	sessions  *sessions
	log       *zap.Logger
}

func New(
	lifecycle *engine.Lifecycle,
	matcher *engine.Matcher,
	relay *engine.Relay,
	handshake *engine.Handshake,
	ledger *engine.Ledger,
	chat transport.Transport,
	log *zap.Logger,
) *Bot {
	return &Bot{
		lifecycle: lifecycle,
		matcher:   matcher,
		relay:     relay,
		handshake: handshake,
		ledger:    ledger,
		chat:      chat,
		sessions:  newSessions(),
		log:       log,
	}
}

// Handle processes one inbound event against the chat's session.
//
// Handlers that need to touch the counterpart's session (matching and
// completion fan out to the other chat) schedule it via sess.then; it
// runs after the caller's lock is released, so no two session mutexes
// are ever held at once and lock acquisition cannot cycle.
func (b *Bot) Handle(ctx context.Context, ev transport.Event) {
	sess := b.sessions.get(ev.ChatID)
	sess.mu.Lock()

	switch {
	case ev.Callback != "":
		b.handleCallback(ctx, ev, sess)
	case strings.HasPrefix(ev.Text, "/"):
		b.handleCommand(ctx, ev, sess)
	default:
		b.handleText(ctx, ev, sess)
	}

	then := sess.then
	sess.then = nil
	sess.mu.Unlock()
	if then != nil {
		then()
	}
}

func (b *Bot) handleCommand(ctx context.Context, ev transport.Event, sess *Session) {
	cmd, args := splitCommand(ev.Text)

	switch cmd {
	case "start":
		sess.resetTo(StateChoosingRole)
		b.send(ctx, ev.ChatID, "Welcome to Dabao4Me! What would you like to do today?", roleKeyboard())

	case "help":
		b.send(ctx, ev.ChatID, "Send /start to begin.\n\n"+
			"While connected with another user:\n"+
			"/complete - confirm the order is done\n"+
			"/end - end the conversation\n\n"+
			"/cancel - cancel the current operation", nil)

	case "fulfil":
		b.handleFulfil(ctx, ev, sess, args)

	case "complete":
		b.handleComplete(ctx, ev, sess)

	case "end":
		b.handleEnd(ctx, ev, sess)

	case "cancel":
		b.handleCancel(ctx, ev, sess)

	default:
		b.send(ctx, ev.ChatID, "Unknown command. Send /start to begin using the bot.", nil)
	}
}

func (b *Bot) handleFulfil(ctx context.Context, ev transport.Event, sess *Session, args string) {
	if sess.State != StateBrowsing {
		b.send(ctx, ev.ChatID, "Pick a canteen first. Send /start to begin.", nil)
		return
	}
	index, err := strconv.Atoi(strings.TrimSpace(args))
	if err != nil {
		b.send(ctx, ev.ChatID, "To fulfil a request, use the /fulfil command, followed by the request number. e.g. \"/fulfil 1\"", nil)
		return
	}

	req, err := b.matcher.Select(ctx, sess.Canteen, engine.Fulfiller{
		ID:     ev.UserID,
		Name:   ev.DisplayName,
		ChatID: ev.ChatID,
	}, index)
	switch {
	case errors.Is(err, engine.ErrIndexOutOfRange):
		b.send(ctx, ev.ChatID, "There is no request with that number. Check the list and try again.", nil)
		return
	case errors.Is(err, engine.ErrValidation):
		b.send(ctx, ev.ChatID, "You can't fulfil your own request.", nil)
		return
	case errors.Is(err, engine.ErrStateConflict):
		b.send(ctx, ev.ChatID, "Someone else just took that request. Here is the updated list:", nil)
		b.showListing(ctx, ev.ChatID, sess)
		return
	case err != nil:
		b.fail(ctx, ev.ChatID, "fulfilling request", err)
		return
	}

	sess.State = StateInConversation
	sess.Role = models.RoleFulfiller
	sess.ActiveRequestID = req.ID
	b.send(ctx, ev.ChatID, formatMatchedForFulfiller(req), nil)

	// Flip the requester's session into the conversation too, and show
	// them the fulfiller's trust figures before the chat starts.
	rec, err := b.ledger.Summary(ctx, req.FulfillerID)
	if err != nil {
		b.log.Warn("loading fulfiller rating", zap.String("request_id", req.ID), zap.Error(err))
	}
	sess.then = func() {
		reqSess := b.sessions.get(req.RequesterChatID)
		reqSess.mu.Lock()
		reqSess.State = StateInConversation
		reqSess.Role = models.RoleRequester
		reqSess.ActiveRequestID = req.ID
		reqSess.mu.Unlock()
		b.send(ctx, req.RequesterChatID, formatMatchedForRequester(req, rec), nil)
	}
}

func (b *Bot) handleComplete(ctx context.Context, ev transport.Event, sess *Session) {
	if sess.State != StateInConversation || sess.ActiveRequestID == "" {
		b.send(ctx, ev.ChatID, "You are not in a conversation. Send /start to begin.", nil)
		return
	}

	outcome, req, err := b.handshake.Complete(ctx, sess.ActiveRequestID, sess.Role)
	switch {
	case errors.Is(err, engine.ErrAlreadyConfirmed):
		b.send(ctx, ev.ChatID, "You have already confirmed. Waiting for the other party.", nil)
		return
	case errors.Is(err, engine.ErrNotInProgress):
		b.send(ctx, ev.ChatID, "This conversation is no longer active.", nil)
		return
	case err != nil:
		b.fail(ctx, ev.ChatID, "confirming completion", err)
		return
	}

	if outcome == engine.OutcomeBothConfirmed {
		// Both sides move to the rating wait; the request id rides along
		// in the callback data.
		sess.State = StatePendingRating
		counterpartChat := req.ChatIDFor(sess.Role.Counterpart())
		callerChat := ev.ChatID
		sess.then = func() {
			cpSess := b.sessions.get(counterpartChat)
			cpSess.mu.Lock()
			cpSess.State = StatePendingRating
			cpSess.mu.Unlock()

			for _, chatID := range []int64{callerChat, counterpartChat} {
				b.send(ctx, chatID, engine.MsgRatePrompt, ratingKeyboard(req.ID))
			}
		}
	}
}

func (b *Bot) handleEnd(ctx context.Context, ev transport.Event, sess *Session) {
	if sess.State != StateInConversation || sess.ActiveRequestID == "" {
		b.send(ctx, ev.ChatID, "You are not in a conversation.", nil)
		return
	}
	err := b.lifecycle.Close(ctx, sess.ActiveRequestID, sess.Role)
	if errors.Is(err, engine.ErrStateConflict) {
		b.send(ctx, ev.ChatID, "This conversation has already ended.", nil)
		sess.resetTo(StateIdle)
		return
	}
	if err != nil {
		b.fail(ctx, ev.ChatID, "ending conversation", err)
		return
	}
	sess.resetTo(StateIdle)
	b.send(ctx, ev.ChatID, engine.MsgConversationEnded, nil)
}

func (b *Bot) handleCancel(ctx context.Context, ev transport.Event, sess *Session) {
	if sess.State == StateAwaitingMatch && sess.ActiveRequestID != "" {
		err := b.lifecycle.Cancel(ctx, sess.ActiveRequestID)
		switch {
		case errors.Is(err, engine.ErrStateConflict):
			b.send(ctx, ev.ChatID, "That request has already been picked up and can no longer be cancelled.", nil)
			return
		case errors.Is(err, engine.ErrNotFound):
			// Already gone; treat as cancelled.
		case err != nil:
			b.fail(ctx, ev.ChatID, "cancelling request", err)
			return
		}
		sess.resetTo(StateIdle)
		b.send(ctx, ev.ChatID, "Your request has been cancelled.", nil)
		return
	}

	if sess.State == StateIdle {
		b.send(ctx, ev.ChatID, "There is no ongoing operation to cancel.", nil)
		return
	}
	sess.resetTo(StateIdle)
	b.send(ctx, ev.ChatID, "Current operation cancelled.", nil)
}

func (b *Bot) handleText(ctx context.Context, ev transport.Event, sess *Session) {
	switch sess.State {
	case StateEnteringFood:
		sess.Food = ev.Text
		sess.State = StateEnteringTip
		b.send(ctx, ev.ChatID, "Finally, please state the tip you'd like to offer for this request (excluding food prices).", nil)

	case StateEnteringTip:
		tip, err := decimal.NewFromString(strings.TrimPrefix(strings.TrimSpace(ev.Text), "$"))
		if err != nil || !models.ValidTip(tip) {
			b.send(ctx, ev.ChatID, "That doesn't look like a valid amount. Please state a non-negative tip with at most two decimal places, e.g. 1.50", nil)
			return
		}
		req, err := b.lifecycle.Create(ctx, engine.NewRequest{
			RequesterID:   ev.UserID,
			RequesterName: ev.DisplayName,
			ChatID:        ev.ChatID,
			Canteen:       sess.Canteen,
			Food:          sess.Food,
			Tip:           tip,
		})
		if err != nil {
			b.fail(ctx, ev.ChatID, "placing request", err)
			return
		}
		sess.State = StateAwaitingMatch
		sess.Role = models.RoleRequester
		sess.ActiveRequestID = req.ID
		b.send(ctx, ev.ChatID, formatSummary(req), nil)

	case StateAwaitingMatch, StateInConversation:
		outcome, err := b.relay.Relay(ctx, sess.ActiveRequestID, sess.Role, ev.Text)
		if errors.Is(err, engine.ErrNotFound) {
			sess.resetTo(StateIdle)
			b.send(ctx, ev.ChatID, "That request no longer exists. Send /start to begin again.", nil)
			return
		}
		if err != nil {
			b.fail(ctx, ev.ChatID, "relaying message", err)
			return
		}
		switch outcome {
		case engine.OutcomeForwarded:
			sess.State = StateInConversation
		case engine.OutcomeEnded:
			sess.resetTo(StateIdle)
		}

	case StateModifySelect:
		index, err := strconv.Atoi(strings.TrimSpace(ev.Text))
		if err != nil || index < 1 || index > len(sess.ModifyIDs) {
			b.send(ctx, ev.ChatID, "Please reply with the number of the request you'd like to modify.", nil)
			return
		}
		sess.SelectedID = sess.ModifyIDs[index-1]
		sess.State = StateModifyAction
		b.send(ctx, ev.ChatID, "What would you like to do with this request?", modifyActionKeyboard())

	case StateModifyValue:
		b.applyEdit(ctx, ev, sess, ev.Text)

	default:
		b.send(ctx, ev.ChatID, "Send /start to begin using the bot.", nil)
	}
}

func (b *Bot) handleCallback(ctx context.Context, ev transport.Event, sess *Session) {
	switch {
	case ev.Callback == "role:requester" && sess.State == StateChoosingRole:
		sess.Role = models.RoleRequester
		sess.State = StateChoosingCanteen
		b.send(ctx, ev.ChatID, "You have chosen to be a requester.", nil)
		b.send(ctx, ev.ChatID, "Now, please select from the list of canteens.", canteenKeyboard())

	case ev.Callback == "role:fulfiller" && sess.State == StateChoosingRole:
		sess.Role = models.RoleFulfiller
		sess.State = StateChoosingCanteen
		b.send(ctx, ev.ChatID, "You have chosen to be a fulfiller.", nil)
		b.send(ctx, ev.ChatID, "Now, please select from the list of canteens.", canteenKeyboard())

	case ev.Callback == "role:modify" && sess.State == StateChoosingRole:
		b.showModifyMenu(ctx, ev, sess)

	case strings.HasPrefix(ev.Callback, "canteen:"):
		b.handleCanteen(ctx, ev, sess, models.Canteen(strings.TrimPrefix(ev.Callback, "canteen:")))

	case strings.HasPrefix(ev.Callback, "modify:") && sess.State == StateModifyAction:
		b.handleModifyAction(ctx, ev, sess, strings.TrimPrefix(ev.Callback, "modify:"))

	case strings.HasPrefix(ev.Callback, "rate:"):
		b.handleRating(ctx, ev, sess, strings.TrimPrefix(ev.Callback, "rate:"))

	default:
		b.send(ctx, ev.ChatID, "That choice is no longer valid. Send /start to begin again.", nil)
	}
}

func (b *Bot) handleCanteen(ctx context.Context, ev transport.Event, sess *Session, canteen models.Canteen) {
	if !canteen.Valid() {
		b.send(ctx, ev.ChatID, "Unknown canteen. Send /start to begin again.", nil)
		return
	}

	switch sess.State {
	case StateChoosingCanteen:
		sess.Canteen = canteen
		b.send(ctx, ev.ChatID, fmt.Sprintf("You have chosen %s as your canteen.", canteen.DisplayName()), nil)
		if sess.Role == models.RoleRequester {
			sess.State = StateEnteringFood
			b.send(ctx, ev.ChatID, "Great! Now, please state the food you'd like to order.", nil)
			return
		}
		sess.State = StateBrowsing
		b.showListing(ctx, ev.ChatID, sess)

	case StateModifyValue:
		b.applyEdit(ctx, ev, sess, string(canteen))

	default:
		b.send(ctx, ev.ChatID, "That choice is no longer valid. Send /start to begin again.", nil)
	}
}

// showListing renders the canteen's open requests with each requester's
// trust figures, or ends the browse when there is nothing to show.
func (b *Bot) showListing(ctx context.Context, chatID int64, sess *Session) {
	reqs, err := b.matcher.ListAvailable(ctx, sess.Canteen)
	if err != nil {
		b.fail(ctx, chatID, "listing requests", err)
		return
	}
	if len(reqs) == 0 {
		canteen := sess.Canteen
		sess.resetTo(StateIdle)
		b.send(ctx, chatID, fmt.Sprintf("There are no requests at %s. Use /start to fulfil an order again.", canteen.DisplayName()), nil)
		return
	}

	ratings := make(map[int64]models.RatingRecord, len(reqs))
	for _, req := range reqs {
		if _, ok := ratings[req.RequesterID]; ok {
			continue
		}
		rec, err := b.matcher.RequesterRating(ctx, req.RequesterID)
		if err != nil {
			b.log.Warn("loading requester rating", zap.Int64("requester_id", req.RequesterID), zap.Error(err))
		}
		ratings[req.RequesterID] = rec
	}

	b.send(ctx, chatID, "Great! Here's the list of available requests for the canteen you're currently at:\n\n"+
		formatListing(reqs, ratings), nil)
	b.send(ctx, chatID, "To fulfil a request, use the /fulfil command, followed by the request number. e.g. \"/fulfil 1\"", nil)
}

func (b *Bot) showModifyMenu(ctx context.Context, ev transport.Event, sess *Session) {
	reqs, err := b.lifecycle.ListMine(ctx, ev.UserID)
	if err != nil {
		b.fail(ctx, ev.ChatID, "listing your requests", err)
		return
	}
	if len(reqs) == 0 {
		sess.resetTo(StateIdle)
		b.send(ctx, ev.ChatID, "You have no open requests to modify. Send /start to begin.", nil)
		return
	}

	sess.State = StateModifySelect
	sess.ModifyIDs = sess.ModifyIDs[:0]
	for _, req := range reqs {
		sess.ModifyIDs = append(sess.ModifyIDs, req.ID)
	}
	b.send(ctx, ev.ChatID, "Here are all your currently available orders:\n\n"+formatOwnListing(reqs), nil)
	b.send(ctx, ev.ChatID, "Reply with the number of the request you'd like to modify or cancel.", nil)
}

func (b *Bot) handleModifyAction(ctx context.Context, ev transport.Event, sess *Session, action string) {
	switch action {
	case "cancel":
		err := b.lifecycle.Cancel(ctx, sess.SelectedID)
		switch {
		case errors.Is(err, engine.ErrStateConflict):
			b.send(ctx, ev.ChatID, "That request has already been picked up and can no longer be cancelled.", nil)
		case errors.Is(err, engine.ErrNotFound):
			b.send(ctx, ev.ChatID, "That request no longer exists.", nil)
		case err != nil:
			b.fail(ctx, ev.ChatID, "cancelling request", err)
			return
		default:
			b.send(ctx, ev.ChatID, "Your request has been cancelled.", nil)
		}
		sess.resetTo(StateIdle)

	case "edit_canteen":
		sess.State = StateModifyValue
		sess.EditField = engine.EditCanteen
		b.send(ctx, ev.ChatID, "Please select the new canteen.", canteenKeyboard())

	case "edit_food":
		sess.State = StateModifyValue
		sess.EditField = engine.EditFood
		b.send(ctx, ev.ChatID, "Please state the new food description.", nil)

	case "edit_tip":
		sess.State = StateModifyValue
		sess.EditField = engine.EditTip
		b.send(ctx, ev.ChatID, "Please state the new tip amount.", nil)

	default:
		b.send(ctx, ev.ChatID, "That choice is no longer valid. Send /start to begin again.", nil)
	}
}

func (b *Bot) applyEdit(ctx context.Context, ev transport.Event, sess *Session, value string) {
	if sess.EditField == engine.EditTip {
		value = strings.TrimPrefix(strings.TrimSpace(value), "$")
	}
	err := b.lifecycle.Edit(ctx, sess.SelectedID, sess.EditField, value)
	switch {
	case errors.Is(err, engine.ErrValidation):
		b.send(ctx, ev.ChatID, "That value isn't valid. Please try again.", nil)
		return
	case errors.Is(err, engine.ErrStateConflict):
		b.send(ctx, ev.ChatID, "That request can no longer be edited.", nil)
	case errors.Is(err, engine.ErrNotFound):
		b.send(ctx, ev.ChatID, "That request no longer exists.", nil)
	case err != nil:
		b.fail(ctx, ev.ChatID, "editing request", err)
		return
	default:
		b.send(ctx, ev.ChatID, "Your request has been updated.", nil)
	}
	sess.resetTo(StateIdle)
}

func (b *Bot) handleRating(ctx context.Context, ev transport.Event, sess *Session, payload string) {
	verdictStr, requestID, ok := strings.Cut(payload, ":")
	if !ok {
		b.send(ctx, ev.ChatID, "That choice is no longer valid.", nil)
		return
	}
	verdict := models.Verdict(verdictStr)
	if verdict != models.VerdictGood && verdict != models.VerdictBad {
		b.send(ctx, ev.ChatID, "That choice is no longer valid.", nil)
		return
	}

	err := b.ledger.Rate(ctx, requestID, ev.UserID, verdict)
	switch {
	case errors.Is(err, engine.ErrStateConflict), errors.Is(err, engine.ErrValidation):
		b.send(ctx, ev.ChatID, "This conversation can't be rated.", nil)
		return
	case errors.Is(err, engine.ErrNotFound):
		b.send(ctx, ev.ChatID, "That request no longer exists.", nil)
		return
	case err != nil:
		b.fail(ctx, ev.ChatID, "recording rating", err)
		return
	}

	if sess.State == StatePendingRating {
		sess.resetTo(StateIdle)
	}
	b.send(ctx, ev.ChatID, "Thanks for your feedback! Send /start to use the bot again.", nil)
}

func (b *Bot) send(ctx context.Context, chatID int64, text string, keyboard transport.Keyboard) {
	var err error
	if keyboard != nil {
		err = b.chat.SendKeyboard(ctx, chatID, text, keyboard)
	} else {
		err = b.chat.Send(ctx, chatID, text)
	}
	if err != nil {
		b.log.Warn("sending message", zap.Int64("chat_id", chatID), zap.Error(err))
	}
}

// fail reports an unexpected (store or transport) failure to the user
// without disturbing their session; the engine does not retry.
func (b *Bot) fail(ctx context.Context, chatID int64, op string, err error) {
	b.log.Error(op, zap.Int64("chat_id", chatID), zap.Error(err))
	b.send(ctx, chatID, "Something went wrong on our side. Please try again.", nil)
}

func splitCommand(text string) (cmd, args string) {
	text = strings.TrimPrefix(text, "/")
	cmd, args, _ = strings.Cut(text, " ")
	// Strip the @botname suffix Telegram appends in group chats.
	cmd, _, _ = strings.Cut(cmd, "@")
	return cmd, strings.TrimSpace(args)
}

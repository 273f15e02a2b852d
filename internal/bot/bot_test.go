package bot_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ruijietay/Dabao4Me/internal/bot"
	"github.com/ruijietay/Dabao4Me/internal/engine"
	"github.com/ruijietay/Dabao4Me/internal/models"
	"github.com/ruijietay/Dabao4Me/internal/store"
	"github.com/ruijietay/Dabao4Me/internal/transport"
)

type fixture struct {
	store *store.Memory
	chat  *transport.Recorder
	bot   *bot.Bot
}

func newFixture() *fixture {
	mem := store.NewMemory()
	chat := transport.NewRecorder()
	log := zap.NewNop()
	b := bot.New(
		engine.NewLifecycle(mem, chat, log),
		engine.NewMatcher(mem, mem, log),
		engine.NewRelay(mem, chat, log),
		engine.NewHandshake(mem, chat, log),
		engine.NewLedger(mem, mem, log),
		chat,
		log,
	)
	return &fixture{store: mem, chat: chat, bot: b}
}

func (fx *fixture) text(userID int64, name, text string) {
	fx.bot.Handle(context.Background(), transport.Event{
		UserID: userID, ChatID: userID, DisplayName: name, Text: text,
	})
}

func (fx *fixture) callback(userID int64, name, data string) {
	fx.bot.Handle(context.Background(), transport.Event{
		UserID: userID, ChatID: userID, DisplayName: name, Callback: data,
	})
}

// placeRequest walks a requester through /start -> role -> canteen ->
// food -> tip and returns the stored request.
func (fx *fixture) placeRequest(t *testing.T, userID int64, name, canteen, food, tipAmount string) models.Request {
	t.Helper()
	fx.text(userID, name, "/start")
	fx.callback(userID, name, "role:requester")
	fx.callback(userID, name, "canteen:"+canteen)
	fx.text(userID, name, food)
	fx.text(userID, name, tipAmount)

	reqs, err := fx.store.QueryByRequester(context.Background(), userID, models.StatusAvailable)
	require.NoError(t, err)
	require.NotEmpty(t, reqs)
	return reqs[len(reqs)-1]
}

// browseAndFulfil walks a fulfiller through canteen selection and
// /fulfil.
func (fx *fixture) browseAndFulfil(t *testing.T, userID int64, name, canteen string, index string) {
	t.Helper()
	fx.text(userID, name, "/start")
	fx.callback(userID, name, "role:fulfiller")
	fx.callback(userID, name, "canteen:"+canteen)
	fx.text(userID, name, "/fulfil "+index)
}

func lastText(t *testing.T, sent []transport.Sent) string {
	t.Helper()
	require.NotEmpty(t, sent)
	return sent[len(sent)-1].Text
}

func TestRequesterFlow(t *testing.T) {
	fx := newFixture()
	req := fx.placeRequest(t, 1, "alice", "deck", "chicken rice", "1.50")

	assert.Equal(t, models.CanteenDeck, req.Canteen)
	assert.Equal(t, "chicken rice", req.Food)
	assert.Equal(t, models.StatusAvailable, req.Status)
	assert.Contains(t, lastText(t, fx.chat.SentTo(1)), "Request placed!")
}

func TestRequesterRejectsBadTip(t *testing.T) {
	fx := newFixture()
	fx.text(1, "alice", "/start")
	fx.callback(1, "alice", "role:requester")
	fx.callback(1, "alice", "canteen:deck")
	fx.text(1, "alice", "chicken rice")
	fx.text(1, "alice", "1.505")

	assert.Contains(t, lastText(t, fx.chat.SentTo(1)), "valid amount")

	reqs, err := fx.store.QueryByRequester(context.Background(), 1, models.StatusAvailable)
	require.NoError(t, err)
	assert.Empty(t, reqs)

	// The session is still on the tip prompt; a corrected value works.
	fx.text(1, "alice", "1.50")
	reqs, err = fx.store.QueryByRequester(context.Background(), 1, models.StatusAvailable)
	require.NoError(t, err)
	assert.Len(t, reqs, 1)
}

func TestFulfilAndRelay(t *testing.T) {
	fx := newFixture()
	req := fx.placeRequest(t, 1, "alice", "deck", "chicken rice", "1.50")
	fx.chat.Reset()

	fx.browseAndFulfil(t, 2, "bob", "deck", "1")

	stored, err := fx.store.GetByID(context.Background(), req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusInProgress, stored.Status)
	assert.EqualValues(t, 2, stored.FulfillerID)

	// Requester is told who picked up the request.
	assert.Contains(t, lastText(t, fx.chat.SentTo(1)), "bob has picked up your request")

	// Listing shown to the fulfiller carries the requester's trust line.
	var listing string
	for _, s := range fx.chat.SentTo(2) {
		if strings.Contains(s.Text, "1) Requested on:") {
			listing = s.Text
		}
	}
	require.NotEmpty(t, listing)
	assert.Contains(t, listing, "alice | 0%")
	assert.Contains(t, listing, "Tip Amount: $1.50")

	// Free text now relays both ways.
	fx.chat.Reset()
	fx.text(2, "bob", "on my way")
	assert.Equal(t, "bob: on my way", lastText(t, fx.chat.SentTo(1)))
	fx.text(1, "alice", "thanks!")
	assert.Equal(t, "alice: thanks!", lastText(t, fx.chat.SentTo(2)))
}

func TestBrowseEmptyCanteen(t *testing.T) {
	fx := newFixture()
	fx.text(2, "bob", "/start")
	fx.callback(2, "bob", "role:fulfiller")
	fx.callback(2, "bob", "canteen:pgpr")

	assert.Contains(t, lastText(t, fx.chat.SentTo(2)), "There are no requests at PGPR")
}

// A requester switching to fulfiller browsing and picking their own
// request must be turned away, and handling the command must return
// normally so the chat's session keeps working.
func TestFulfilOwnRequestRejected(t *testing.T) {
	fx := newFixture()
	req := fx.placeRequest(t, 1, "alice", "deck", "chicken rice", "1.50")

	fx.text(1, "alice", "/start")
	fx.callback(1, "alice", "role:fulfiller")
	fx.callback(1, "alice", "canteen:deck")

	done := make(chan struct{})
	go func() {
		defer close(done)
		fx.text(1, "alice", "/fulfil 1")
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("handling /fulfil on own request did not return")
	}

	assert.Contains(t, lastText(t, fx.chat.SentTo(1)), "your own request")

	stored, err := fx.store.GetByID(context.Background(), req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusAvailable, stored.Status)
	assert.Zero(t, stored.FulfillerID)

	// The session is still live: another event gets a normal reply.
	fx.chat.Reset()
	fx.text(1, "alice", "/help")
	assert.NotEmpty(t, fx.chat.SentTo(1))
}

func TestFulfilOutOfRange(t *testing.T) {
	fx := newFixture()
	fx.placeRequest(t, 1, "alice", "deck", "chicken rice", "1.50")
	fx.browseAndFulfil(t, 2, "bob", "deck", "5")

	assert.Contains(t, lastText(t, fx.chat.SentTo(2)), "no request with that number")
}

func TestCompletionHandshakeAndRating(t *testing.T) {
	fx := newFixture()
	req := fx.placeRequest(t, 1, "alice", "deck", "chicken rice", "1.50")
	fx.browseAndFulfil(t, 2, "bob", "deck", "1")
	fx.chat.Reset()

	// First confirmation leaves the request in progress.
	fx.text(2, "bob", "/complete")
	stored, err := fx.store.GetByID(context.Background(), req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusInProgress, stored.Status)
	assert.True(t, stored.FulfillerConfirmed)

	// Second /complete from the same side is rejected.
	fx.text(2, "bob", "/complete")
	assert.Contains(t, lastText(t, fx.chat.SentTo(2)), "already confirmed")

	// Counterpart's confirmation completes the request and prompts both
	// for ratings.
	fx.text(1, "alice", "/complete")
	stored, err = fx.store.GetByID(context.Background(), req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusComplete, stored.Status)

	for _, chatID := range []int64{1, 2} {
		sent := fx.chat.SentTo(chatID)
		prompt := sent[len(sent)-1]
		assert.Equal(t, engine.MsgRatePrompt, prompt.Text)
		require.NotEmpty(t, prompt.Keyboard)
		assert.Contains(t, prompt.Keyboard[0][0].Data, req.ID)
	}

	// Both sides rate.
	fx.callback(1, "alice", "rate:good:"+req.ID)
	fx.callback(2, "bob", "rate:bad:"+req.ID)

	ctx := context.Background()
	alice, err := fx.store.GetOrDefault(ctx, 1)
	require.NoError(t, err)
	assert.EqualValues(t, 1, alice.GoodGiven)
	assert.EqualValues(t, 1, alice.BadReceived)

	bob, err := fx.store.GetOrDefault(ctx, 2)
	require.NoError(t, err)
	assert.EqualValues(t, 1, bob.BadGiven)
	assert.EqualValues(t, 1, bob.GoodReceived)
}

func TestEndConversation(t *testing.T) {
	fx := newFixture()
	req := fx.placeRequest(t, 1, "alice", "deck", "chicken rice", "1.50")
	fx.browseAndFulfil(t, 2, "bob", "deck", "1")
	fx.chat.Reset()

	fx.text(1, "alice", "/end")

	stored, err := fx.store.GetByID(context.Background(), req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusClosed, stored.Status)

	// The fulfiller was notified; anything they send now bounces.
	assert.Equal(t, engine.MsgOtherPartyEnded, lastText(t, fx.chat.SentTo(2)))
	fx.chat.Reset()
	fx.text(2, "bob", "hello?")
	assert.Equal(t, engine.MsgOtherPartyEnded, lastText(t, fx.chat.SentTo(2)))
	assert.Empty(t, fx.chat.SentTo(1))
}

func TestCancelWhileAwaitingMatch(t *testing.T) {
	fx := newFixture()
	req := fx.placeRequest(t, 1, "alice", "deck", "chicken rice", "1.50")

	fx.text(1, "alice", "/cancel")

	_, err := fx.store.GetByID(context.Background(), req.ID)
	assert.ErrorIs(t, err, engine.ErrNotFound)
	assert.Contains(t, lastText(t, fx.chat.SentTo(1)), "cancelled")
}

func TestModifyFlow(t *testing.T) {
	fx := newFixture()
	req := fx.placeRequest(t, 1, "alice", "deck", "chicken rice", "1.50")

	fx.text(1, "alice", "/start")
	fx.callback(1, "alice", "role:modify")
	fx.text(1, "alice", "1")
	fx.callback(1, "alice", "modify:edit_food")
	fx.text(1, "alice", "duck rice")

	stored, err := fx.store.GetByID(context.Background(), req.ID)
	require.NoError(t, err)
	assert.Equal(t, "duck rice", stored.Food)
	assert.Contains(t, lastText(t, fx.chat.SentTo(1)), "updated")
}

func TestModifyCancel(t *testing.T) {
	fx := newFixture()
	req := fx.placeRequest(t, 1, "alice", "deck", "chicken rice", "1.50")

	fx.text(1, "alice", "/start")
	fx.callback(1, "alice", "role:modify")
	fx.text(1, "alice", "1")
	fx.callback(1, "alice", "modify:cancel")

	_, err := fx.store.GetByID(context.Background(), req.ID)
	assert.ErrorIs(t, err, engine.ErrNotFound)
}

func TestUnknownCommand(t *testing.T) {
	fx := newFixture()
	fx.text(1, "alice", "/teleport")
	assert.Contains(t, lastText(t, fx.chat.SentTo(1)), "Unknown command")
}

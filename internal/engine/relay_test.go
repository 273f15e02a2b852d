package engine_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ruijietay/Dabao4Me/internal/engine"
	"github.com/ruijietay/Dabao4Me/internal/models"
)

func TestRelayForwardsInProgress(t *testing.T) {
	fx := newFixture()
	ctx := context.Background()
	req := fx.createRequest(t, 1, models.CanteenDeck, "chicken rice", "1.50")
	fx.matchRequest(t, models.CanteenDeck, 2)
	fx.chat.Reset()

	outcome, err := fx.relay.Relay(ctx, req.ID, models.RoleFulfiller, "on my way")
	require.NoError(t, err)
	assert.Equal(t, engine.OutcomeForwarded, outcome)

	sent := fx.chat.SentTo(1)
	require.Len(t, sent, 1)
	assert.Equal(t, "fulfiller: on my way", sent[0].Text)
}

func TestRelayPreservesOrder(t *testing.T) {
	fx := newFixture()
	ctx := context.Background()
	req := fx.createRequest(t, 1, models.CanteenDeck, "chicken rice", "1.50")
	fx.matchRequest(t, models.CanteenDeck, 2)
	fx.chat.Reset()

	for _, text := range []string{"one", "two", "three"} {
		_, err := fx.relay.Relay(ctx, req.ID, models.RoleRequester, text)
		require.NoError(t, err)
	}

	sent := fx.chat.SentTo(2)
	require.Len(t, sent, 3)
	assert.Equal(t, "requester: one", sent[0].Text)
	assert.Equal(t, "requester: two", sent[1].Text)
	assert.Equal(t, "requester: three", sent[2].Text)
}

func TestRelayWhileAwaitingMatch(t *testing.T) {
	fx := newFixture()
	ctx := context.Background()
	req := fx.createRequest(t, 1, models.CanteenDeck, "chicken rice", "1.50")
	fx.chat.Reset()

	outcome, err := fx.relay.Relay(ctx, req.ID, models.RoleRequester, "anyone?")
	require.NoError(t, err)
	assert.Equal(t, engine.OutcomeAwaitingMatch, outcome)

	sent := fx.chat.SentTo(1)
	require.Len(t, sent, 1)
	assert.Equal(t, engine.MsgStillSearching, sent[0].Text)
}

func TestRelayNeverForwardsAfterClose(t *testing.T) {
	fx := newFixture()
	ctx := context.Background()
	req := fx.createRequest(t, 1, models.CanteenDeck, "chicken rice", "1.50")
	fx.matchRequest(t, models.CanteenDeck, 2)
	require.NoError(t, fx.lifecycle.Close(ctx, req.ID, models.RoleFulfiller))
	fx.chat.Reset()

	outcome, err := fx.relay.Relay(ctx, req.ID, models.RoleRequester, "hello?")
	require.NoError(t, err)
	assert.Equal(t, engine.OutcomeEnded, outcome)

	assert.Empty(t, fx.chat.SentTo(2), "counterpart must not receive anything")
	sent := fx.chat.SentTo(1)
	require.Len(t, sent, 1)
	assert.Equal(t, engine.MsgOtherPartyEnded, sent[0].Text)
}

func TestRelayNeverForwardsAfterComplete(t *testing.T) {
	fx := newFixture()
	ctx := context.Background()
	req := fx.createRequest(t, 1, models.CanteenDeck, "chicken rice", "1.50")
	fx.matchRequest(t, models.CanteenDeck, 2)
	_, _, err := fx.handshake.Complete(ctx, req.ID, models.RoleRequester)
	require.NoError(t, err)
	_, _, err = fx.handshake.Complete(ctx, req.ID, models.RoleFulfiller)
	require.NoError(t, err)
	fx.chat.Reset()

	outcome, err := fx.relay.Relay(ctx, req.ID, models.RoleFulfiller, "thanks again")
	require.NoError(t, err)
	assert.Equal(t, engine.OutcomeEnded, outcome)

	assert.Empty(t, fx.chat.SentTo(1), "counterpart must not receive anything")
	sent := fx.chat.SentTo(2)
	require.Len(t, sent, 1)
	assert.Equal(t, engine.MsgConversationDone, sent[0].Text)
}

func TestRelayUnknownRequest(t *testing.T) {
	fx := newFixture()
	_, err := fx.relay.Relay(context.Background(), "missing", models.RoleRequester, "hello")
	assert.ErrorIs(t, err, engine.ErrNotFound)
}

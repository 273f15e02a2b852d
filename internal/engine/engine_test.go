package engine_test

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ruijietay/Dabao4Me/internal/engine"
	"github.com/ruijietay/Dabao4Me/internal/models"
	"github.com/ruijietay/Dabao4Me/internal/store"
	"github.com/ruijietay/Dabao4Me/internal/transport"
)

type fixture struct {
	store     *store.Memory
	chat      *transport.Recorder
	lifecycle *engine.Lifecycle
	matcher   *engine.Matcher
	relay     *engine.Relay
	handshake *engine.Handshake
	ledger    *engine.Ledger
}

func newFixture() *fixture {
	mem := store.NewMemory()
	chat := transport.NewRecorder()
	log := zap.NewNop()
	return &fixture{
		store:     mem,
		chat:      chat,
		lifecycle: engine.NewLifecycle(mem, chat, log),
		matcher:   engine.NewMatcher(mem, mem, log),
		relay:     engine.NewRelay(mem, chat, log),
		handshake: engine.NewHandshake(mem, chat, log),
		ledger:    engine.NewLedger(mem, mem, log),
	}
}

func tip(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	require.NoError(t, err)
	return d
}

// createRequest posts a request for user u1 with chat id equal to the
// user id, the way Telegram DMs behave.
func (fx *fixture) createRequest(t *testing.T, requesterID int64, canteen models.Canteen, food, tipAmount string) models.Request {
	t.Helper()
	req, err := fx.lifecycle.Create(context.Background(), engine.NewRequest{
		RequesterID:   requesterID,
		RequesterName: "requester",
		ChatID:        requesterID,
		Canteen:       canteen,
		Food:          food,
		Tip:           tip(t, tipAmount),
	})
	require.NoError(t, err)
	return req
}

// matchRequest claims the first listed request of the canteen for the
// given fulfiller.
func (fx *fixture) matchRequest(t *testing.T, canteen models.Canteen, fulfillerID int64) models.Request {
	t.Helper()
	req, err := fx.matcher.Select(context.Background(), canteen, engine.Fulfiller{
		ID:     fulfillerID,
		Name:   "fulfiller",
		ChatID: fulfillerID,
	}, 1)
	require.NoError(t, err)
	return req
}

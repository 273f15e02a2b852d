// Package telegram adapts the Telegram Bot API to the transport contract
// the engine and bot glue depend on.
package telegram

import (
	"context"
	"fmt"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/ruijietay/Dabao4Me/internal/transport"
)

type Client struct {
	api *tgbotapi.BotAPI
	log *zap.Logger
}

func New(token string, log *zap.Logger) (*Client, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}
	log.Info("authorized on telegram", zap.String("account", api.Self.UserName))
	return &Client{api: api, log: log}, nil
}

func (c *Client) Send(_ context.Context, chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := c.api.Send(msg); err != nil {
		return fmt.Errorf("sending to chat %d: %w", chatID, err)
	}
	return nil
}

func (c *Client) SendKeyboard(_ context.Context, chatID int64, text string, keyboard transport.Keyboard) error {
	msg := tgbotapi.NewMessage(chatID, text)
	var rows [][]tgbotapi.InlineKeyboardButton
	for _, row := range keyboard {
		var buttons []tgbotapi.InlineKeyboardButton
		for _, b := range row {
			buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonData(b.Label, b.Data))
		}
		rows = append(rows, buttons)
	}
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(rows...)
	if _, err := c.api.Send(msg); err != nil {
		return fmt.Errorf("sending keyboard to chat %d: %w", chatID, err)
	}
	return nil
}

const chatQueueDepth = 16

// dispatcher fans events out to one worker goroutine per chat, so each
// conversation's events are handled in arrival order while separate
// chats proceed concurrently.
type dispatcher struct {
	handle func(context.Context, transport.Event)
	queues map[int64]chan transport.Event
	wg     sync.WaitGroup
}

func newDispatcher(handle func(context.Context, transport.Event)) *dispatcher {
	return &dispatcher{
		handle: handle,
		queues: make(map[int64]chan transport.Event),
	}
}

// enqueue hands the event to its chat's worker, starting one on first
// contact. Only the Listen loop calls this, so the map needs no lock.
func (d *dispatcher) enqueue(ctx context.Context, ev transport.Event) {
	q, ok := d.queues[ev.ChatID]
	if !ok {
		q = make(chan transport.Event, chatQueueDepth)
		d.queues[ev.ChatID] = q
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			for ev := range q {
				d.handle(ctx, ev)
			}
		}()
	}
	q <- ev
}

// stop closes every queue and waits for the workers to drain them.
func (d *dispatcher) stop() {
	for _, q := range d.queues {
		close(q)
	}
	d.wg.Wait()
}

// Listen converts Telegram updates into transport events and feeds them
// to handle until ctx is cancelled. Events are serialized per chat so a
// user's messages are processed in the order Telegram delivered them.
func (c *Client) Listen(ctx context.Context, handle func(context.Context, transport.Event)) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := c.api.GetUpdatesChan(u)

	d := newDispatcher(handle)
	defer d.stop()

	for {
		select {
		case <-ctx.Done():
			c.api.StopReceivingUpdates()
			return ctx.Err()
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			ev, ok := c.toEvent(update)
			if !ok {
				continue
			}
			d.enqueue(ctx, ev)
		}
	}
}

func (c *Client) toEvent(update tgbotapi.Update) (transport.Event, bool) {
	switch {
	case update.Message != nil && update.Message.From != nil:
		return transport.Event{
			UserID:      update.Message.From.ID,
			ChatID:      update.Message.Chat.ID,
			DisplayName: displayName(update.Message.From),
			Text:        update.Message.Text,
		}, true
	case update.CallbackQuery != nil && update.CallbackQuery.From != nil:
		// Answer the callback so the client stops showing a spinner.
		if _, err := c.api.Request(tgbotapi.NewCallback(update.CallbackQuery.ID, "")); err != nil {
			c.log.Warn("answering callback query", zap.Error(err))
		}
		ev := transport.Event{
			UserID:      update.CallbackQuery.From.ID,
			DisplayName: displayName(update.CallbackQuery.From),
			Callback:    update.CallbackQuery.Data,
		}
		if update.CallbackQuery.Message != nil {
			ev.ChatID = update.CallbackQuery.Message.Chat.ID
		} else {
			ev.ChatID = update.CallbackQuery.From.ID
		}
		return ev, true
	}
	return transport.Event{}, false
}

func displayName(u *tgbotapi.User) string {
	name := u.FirstName
	if u.LastName != "" {
		name += " " + u.LastName
	}
	if name == "" {
		name = u.UserName
	}
	return name
}

package transport

import (
	"context"
	"sync"
)

// Button is one inline keyboard choice; Data is the callback payload
// delivered back when the button is pressed.
type Button struct {
	Label string
	Data  string
}

// Keyboard is rows of buttons.
type Keyboard [][]Button

// Transport is the minimal send contract the engine depends on. Delivery
// guarantees and retries are the implementation's business.
type Transport interface {
	Send(ctx context.Context, chatID int64, text string) error
	SendKeyboard(ctx context.Context, chatID int64, text string, keyboard Keyboard) error
}

// Sent is one captured outbound message.
type Sent struct {
	ChatID   int64
	Text     string
	Keyboard Keyboard
}

// Recorder is a Transport that captures every send, for tests.
type Recorder struct {
	mu   sync.Mutex
	sent []Sent
}

func NewRecorder() *Recorder { return &Recorder{} }

func (r *Recorder) Send(_ context.Context, chatID int64, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, Sent{ChatID: chatID, Text: text})
	return nil
}

func (r *Recorder) SendKeyboard(_ context.Context, chatID int64, text string, keyboard Keyboard) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, Sent{ChatID: chatID, Text: text, Keyboard: keyboard})
	return nil
}

// Messages returns a copy of everything captured so far, in send order.
func (r *Recorder) Messages() []Sent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Sent, len(r.sent))
	copy(out, r.sent)
	return out
}

// SentTo returns the messages captured for one chat, in send order.
func (r *Recorder) SentTo(chatID int64) []Sent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Sent
	for _, s := range r.sent {
		if s.ChatID == chatID {
			out = append(out, s)
		}
	}
	return out
}

// Reset discards everything captured so far.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = nil
}

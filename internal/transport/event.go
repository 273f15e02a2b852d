package transport

// Event is one inbound chat interaction: either free text (possibly a
// command) or a callback token from an inline keyboard press. Exactly one
// of Text and Callback is set.
type Event struct {
	UserID      int64
	ChatID      int64
	DisplayName string
	Text        string
	Callback    string
}

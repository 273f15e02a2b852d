package bot

import (
	"sync"

	"github.com/ruijietay/Dabao4Me/internal/engine"
	"github.com/ruijietay/Dabao4Me/internal/models"
)

// SessionState is where a chat sits in the conversational flow.
type SessionState int

const (
	StateIdle SessionState = iota
	StateChoosingRole
	StateChoosingCanteen
	StateEnteringFood
	StateEnteringTip
	StateAwaitingMatch
	StateBrowsing
	StateInConversation
	StatePendingRating
	StateModifySelect
	StateModifyAction
	StateModifyValue
)

// Session is the typed per-chat state record threaded through the flow.
// Everything a handler needs to resume where the user left off lives
// here; durable state lives in the stores.
//
// Handlers hold mu while reading or writing the fields. At most one
// session mutex is held at a time: anything that must touch another
// chat's session goes through then, which Handle runs only after
// releasing mu.
type Session struct {
	mu sync.Mutex

	State           SessionState
	Role            models.Role
	Canteen         models.Canteen
	Food            string
	ActiveRequestID string

	// Modify flow scratch space.
	ModifyIDs  []string
	SelectedID string
	EditField  engine.EditField

	// then is a cross-chat follow-up scheduled by the current handler;
	// Handle clears and runs it after unlocking mu.
	then func()
}

// resetTo clears the session and lands it in the given state. Callers
// hold mu; assigning a fresh Session value would clobber the held mutex,
// so fields are cleared individually.
func (s *Session) resetTo(state SessionState) {
	s.State = state
	s.Role = ""
	s.Canteen = ""
	s.Food = ""
	s.ActiveRequestID = ""
	s.ModifyIDs = nil
	s.SelectedID = ""
	s.EditField = ""
}

type sessions struct {
	mu   sync.Mutex
	byID map[int64]*Session
}

func newSessions() *sessions {
	return &sessions{byID: make(map[int64]*Session)}
}

// get returns the chat's session, creating an idle one if absent.
func (s *sessions) get(chatID int64) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.byID[chatID]
	if !ok {
		sess = &Session{}
		s.byID[chatID] = sess
	}
	return sess
}

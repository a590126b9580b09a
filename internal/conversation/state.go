package conversation

import (
	"errors"
	"fmt"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
	RoleIPython   = "ipython" // Llama 3.x tool results
)

// Turn is one entry in the conversation history.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
	CallID  int    `json:"call_id,omitempty"` // correlates a call with its result
}

// IsToolResult reports whether the turn carries a tool result. Some dialects
// deliver results under the user role, so the call id decides.
func (t Turn) IsToolResult() bool {
	switch t.Role {
	case RoleTool, RoleIPython:
		return true
	case RoleUser:
		return t.CallID > 0
	}
	return false
}

// IsCall reports whether the turn is an assistant message that requested a tool.
func (t Turn) IsCall() bool {
	return t.Role == RoleAssistant && t.CallID > 0
}

var (
	ErrSystemTurn    = errors.New("conversation already has a system turn")
	ErrUncorrelated  = errors.New("tool result does not answer the preceding call")
	ErrEmptyRole     = errors.New("turn role is required")
	ErrMissingSystem = errors.New("transcript does not start with a system turn")
)

// Recorder persists turns as they are appended.
type Recorder interface {
	RecordTurn(seq int, turn Turn) error
}

// State is the ordered turn log of one session. It only ever appends.
type State struct {
	turns    []Turn
	lastCall int
	recorder Recorder
	onError  func(error)
}

// New starts a conversation with its single system turn.
func New(systemPrompt string) *State {
	return &State{turns: []Turn{{Role: RoleSystem, Content: systemPrompt}}}
}

// Restore rebuilds a state from a persisted transcript. The call counter
// resumes after the highest id in the transcript so ids are never reused.
func Restore(turns []Turn) (*State, error) {
	if len(turns) == 0 || turns[0].Role != RoleSystem {
		return nil, ErrMissingSystem
	}
	s := &State{turns: make([]Turn, 0, len(turns))}
	s.turns = append(s.turns, turns[0])
	for i, t := range turns[1:] {
		if t.Role == RoleSystem {
			return nil, fmt.Errorf("turn %d: %w", i+1, ErrSystemTurn)
		}
		if t.CallID > s.lastCall {
			s.lastCall = t.CallID
		}
		s.turns = append(s.turns, t)
	}
	return s, nil
}

// SetRecorder attaches a persistence hook. onError receives recorder
// failures; the turn is kept in memory either way.
func (s *State) SetRecorder(r Recorder, onError func(error)) {
	s.recorder = r
	s.onError = onError
}

// NextCallID reserves the next correlation id.
func (s *State) NextCallID() int {
	s.lastCall++
	return s.lastCall
}

// Append adds a turn to the end of the log.
func (s *State) Append(t Turn) error {
	if t.Role == "" {
		return ErrEmptyRole
	}
	if t.Role == RoleSystem {
		return ErrSystemTurn
	}
	if t.IsToolResult() {
		last := s.turns[len(s.turns)-1]
		if t.CallID == 0 || t.CallID != s.lastCall || !last.IsCall() || last.CallID != t.CallID {
			return fmt.Errorf("%w: call id %d", ErrUncorrelated, t.CallID)
		}
	}
	s.turns = append(s.turns, t)
	if s.recorder != nil {
		if err := s.recorder.RecordTurn(len(s.turns)-1, t); err != nil && s.onError != nil {
			s.onError(err)
		}
	}
	return nil
}

// Turns returns a copy of the log.
func (s *State) Turns() []Turn {
	out := make([]Turn, len(s.turns))
	copy(out, s.turns)
	return out
}

func (s *State) Len() int { return len(s.turns) }

func (s *State) Last() Turn { return s.turns[len(s.turns)-1] }

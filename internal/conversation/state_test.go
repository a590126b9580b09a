package conversation

import (
	"errors"
	"testing"
)

type memRecorder struct {
	seqs []int
	err  error
}

func (m *memRecorder) RecordTurn(seq int, _ Turn) error {
	m.seqs = append(m.seqs, seq)
	return m.err
}

func TestNew_SystemFirst(t *testing.T) {
	s := New("sys")
	if s.Len() != 1 || s.Last().Role != RoleSystem || s.Last().Content != "sys" {
		t.Fatalf("unexpected initial turns: %+v", s.Turns())
	}
}

func TestAppend_RejectsSecondSystem(t *testing.T) {
	s := New("sys")
	err := s.Append(Turn{Role: RoleSystem, Content: "again"})
	if !errors.Is(err, ErrSystemTurn) {
		t.Errorf("expected ErrSystemTurn, got %v", err)
	}
}

func TestAppend_RejectsEmptyRole(t *testing.T) {
	s := New("sys")
	if err := s.Append(Turn{Content: "x"}); !errors.Is(err, ErrEmptyRole) {
		t.Errorf("expected ErrEmptyRole, got %v", err)
	}
}

func TestAppend_ToolResultMustFollowCall(t *testing.T) {
	s := New("sys")
	s.Append(Turn{Role: RoleUser, Content: "q"})

	// No call reserved yet.
	if err := s.Append(Turn{Role: RoleTool, Content: "r", CallID: 1}); !errors.Is(err, ErrUncorrelated) {
		t.Fatalf("expected ErrUncorrelated, got %v", err)
	}

	id := s.NextCallID()
	if err := s.Append(Turn{Role: RoleAssistant, Content: "call", CallID: id}); err != nil {
		t.Fatalf("append call: %v", err)
	}
	if err := s.Append(Turn{Role: RoleTool, Content: "r", CallID: id + 1}); !errors.Is(err, ErrUncorrelated) {
		t.Errorf("expected ErrUncorrelated for wrong id, got %v", err)
	}
	if err := s.Append(Turn{Role: RoleTool, Content: "r", CallID: id}); err != nil {
		t.Errorf("append result: %v", err)
	}
	// A second result for the same call is not immediately preceded by the call.
	if err := s.Append(Turn{Role: RoleTool, Content: "r2", CallID: id}); !errors.Is(err, ErrUncorrelated) {
		t.Errorf("expected ErrUncorrelated for duplicate result, got %v", err)
	}
}

func TestAppend_UserRoleResult(t *testing.T) {
	s := New("sys")
	id := s.NextCallID()
	s.Append(Turn{Role: RoleAssistant, Content: "call", CallID: id})
	if err := s.Append(Turn{Role: RoleUser, Content: "<tool_response>{}</tool_response>", CallID: id}); err != nil {
		t.Errorf("user-role tool result rejected: %v", err)
	}
	if !s.Last().IsToolResult() {
		t.Error("user turn with call id should be a tool result")
	}
}

func TestNextCallID_Monotonic(t *testing.T) {
	s := New("sys")
	prev := 0
	for i := 0; i < 5; i++ {
		id := s.NextCallID()
		if id <= prev {
			t.Fatalf("id %d not greater than %d", id, prev)
		}
		prev = id
	}
}

func TestTurns_ReturnsCopy(t *testing.T) {
	s := New("sys")
	turns := s.Turns()
	turns[0].Content = "mutated"
	if s.Turns()[0].Content != "sys" {
		t.Error("Turns() leaked internal slice")
	}
}

func TestRecorder(t *testing.T) {
	s := New("sys")
	rec := &memRecorder{err: errors.New("disk full")}
	var got []error
	s.SetRecorder(rec, func(err error) { got = append(got, err) })

	if err := s.Append(Turn{Role: RoleUser, Content: "hi"}); err != nil {
		t.Fatalf("append should not fail on recorder error: %v", err)
	}
	if len(rec.seqs) != 1 || rec.seqs[0] != 1 {
		t.Errorf("recorded seqs = %v, want [1]", rec.seqs)
	}
	if len(got) != 1 {
		t.Errorf("expected 1 reported recorder error, got %d", len(got))
	}
	if s.Len() != 2 {
		t.Errorf("turn should be kept in memory, len = %d", s.Len())
	}
}

func TestRestore(t *testing.T) {
	turns := []Turn{
		{Role: RoleSystem, Content: "sys"},
		{Role: RoleUser, Content: "q"},
		{Role: RoleAssistant, Content: "call", CallID: 3},
		{Role: RoleTool, Content: "r", CallID: 3},
	}
	s, err := Restore(turns)
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if s.Len() != 4 {
		t.Errorf("len = %d, want 4", s.Len())
	}
	if id := s.NextCallID(); id != 4 {
		t.Errorf("next call id = %d, want 4", id)
	}
}

func TestRestore_Invalid(t *testing.T) {
	if _, err := Restore(nil); !errors.Is(err, ErrMissingSystem) {
		t.Errorf("expected ErrMissingSystem, got %v", err)
	}
	_, err := Restore([]Turn{{Role: RoleSystem}, {Role: RoleSystem}})
	if !errors.Is(err, ErrSystemTurn) {
		t.Errorf("expected ErrSystemTurn, got %v", err)
	}
}

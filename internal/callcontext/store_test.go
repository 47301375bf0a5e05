package callcontext

import "testing"

func TestStoreSaveGetDelete(t *testing.T) {
	s := NewStore()

	ctx := Context{AgentID: "agent_1", DynamicVariables: map[string]any{"name": "Ada"}}
	s.Save("call_1", ctx)

	got, ok := s.Get("call_1")
	if !ok {
		t.Fatal("expected context to be present")
	}
	if got.AgentID != "agent_1" {
		t.Errorf("expected agent_1, got %s", got.AgentID)
	}

	s.Delete("call_1")
	if _, ok := s.Get("call_1"); ok {
		t.Error("expected context to be absent after delete")
	}
}

func TestStoreDeleteMissingIsNoOp(t *testing.T) {
	s := NewStore()
	s.Delete("does-not-exist") // must not panic
}

func TestStoreDeleteIdempotent(t *testing.T) {
	s := NewStore()
	s.Save("call_1", Context{AgentID: "a"})
	s.Delete("call_1")
	s.Delete("call_1") // second delete is a no-op, not an error
	if s.Len() != 0 {
		t.Errorf("expected empty store, got len %d", s.Len())
	}
}

package protocol

import "testing"

func TestDecodeThreadStarted(t *testing.T) {
	ev, err := Decode([]byte(`{"type":"thread.started","thread_id":"t-123"}`))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if ev.Type != EventThreadStarted {
		t.Errorf("expected thread.started, got %s", ev.Type)
	}
	if ev.ThreadID != "t-123" {
		t.Errorf("expected thread_id t-123, got %q", ev.ThreadID)
	}
}

func TestDecodeThreadStartedMissingID(t *testing.T) {
	_, err := Decode([]byte(`{"type":"thread.started"}`))
	if err == nil {
		t.Fatal("expected error for missing thread_id")
	}
}

func TestDecodeUnknownTypeDropped(t *testing.T) {
	ev, err := Decode([]byte(`{"type":"vendor.custom","data":1}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ev != nil {
		t.Errorf("expected unknown type to be dropped, got %+v", ev)
	}
}

func TestDecodeInvalidJSONDropped(t *testing.T) {
	ev, err := Decode([]byte(`{not json`))
	if err != nil || ev != nil {
		t.Errorf("expected silent drop, got ev=%v err=%v", ev, err)
	}
}

func TestDecodeItemEvent(t *testing.T) {
	line := `{"type":"item.completed","item":{"id":"i1","item_type":"command_execution","command":"ls","exit_code":0}}`
	ev, err := Decode([]byte(line))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if ev.Item == nil || ev.Item.Kind != ItemCommandExecution {
		t.Fatalf("expected command_execution item, got %+v", ev.Item)
	}
	if ev.Item.ExitCode == nil || *ev.Item.ExitCode != 0 {
		t.Errorf("expected exit_code 0, got %v", ev.Item.ExitCode)
	}
}

func TestDecodeItemEventMissingType(t *testing.T) {
	if _, err := Decode([]byte(`{"type":"item.started","item":{"id":"i1"}}`)); err == nil {
		t.Fatal("expected error for item without item_type")
	}
}

func TestDecodeItemEventUnknownKind(t *testing.T) {
	if _, err := Decode([]byte(`{"type":"item.started","item":{"item_type":"bogus"}}`)); err == nil {
		t.Fatal("expected error for unknown item_type")
	}
}

func TestDecodeTurnFailedDefaultsMessage(t *testing.T) {
	ev, err := Decode([]byte(`{"type":"turn.failed"}`))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if ev.Error == nil || ev.Error.Message == "" {
		t.Error("expected a default error message")
	}
	if !ev.Terminal() {
		t.Error("turn.failed must be terminal")
	}
}

func TestEventPhases(t *testing.T) {
	cases := []struct {
		ev   *Event
		want Phase
	}{
		{NewThreadStarted("t"), PhaseBoot},
		{NewTurnStarted(), PhaseAnalysis},
		{NewTurnCompleted(nil), PhaseCompleted},
		{NewTurnFailed("x"), PhaseCompleted},
		{NewError("x"), PhaseError},
		{NewItemEvent(EventItemUpdated, &Item{Kind: ItemAgentMessage}), PhaseResponding},
		{NewItemEvent(EventItemStarted, &Item{Kind: ItemCommandExecution}), PhaseCommand},
		{NewItemEvent(EventItemStarted, &Item{Kind: ItemFileChange}), PhaseEditing},
		{NewItemEvent(EventItemStarted, &Item{Kind: ItemWebSearch}), PhaseContext},
	}
	for _, tc := range cases {
		if got := tc.ev.Phase(); got != tc.want {
			t.Errorf("%s: expected phase %s, got %s", tc.ev.Type, tc.want, got)
		}
	}
}

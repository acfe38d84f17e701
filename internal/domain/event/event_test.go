package event

import (
	"context"
	"testing"
	"time"
)

func TestType_IsValid(t *testing.T) {
	tests := []struct {
		name      string
		eventType Type
		want      bool
		terminal  bool
	}{
		{name: "instance started", eventType: TypeInstanceStarted, want: true},
		{name: "transition completed", eventType: TypeTransitionCompleted, want: true},
		{name: "transition rejected", eventType: TypeTransitionRejected, want: true},
		{name: "instance completed", eventType: TypeInstanceCompleted, want: true, terminal: true},
		{name: "instance failed", eventType: TypeInstanceFailed, want: true, terminal: true},
		{name: "instance cancelled", eventType: TypeInstanceCancelled, want: true, terminal: true},
		{name: "definition activated", eventType: TypeDefinitionActivated, want: true},
		{name: "definition archived", eventType: TypeDefinitionArchived, want: true},
		{name: "unknown", eventType: Type("instance.approved"), want: false},
		{name: "empty", eventType: Type(""), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.eventType.IsValid(); got != tt.want {
				t.Errorf("Type.IsValid() = %v, want %v", got, tt.want)
			}
			if got := tt.eventType.Terminal(); got != tt.terminal {
				t.Errorf("Type.Terminal() = %v, want %v", got, tt.terminal)
			}
		})
	}
}

func TestNewEvent(t *testing.T) {
	before := time.Now()
	evt := NewEvent(TypeTransitionCompleted, "inst-1", "def-1", map[string]interface{}{
		PayloadFromState: "draft",
		PayloadToState:   "review",
	})
	after := time.Now()

	if evt.ID == "" {
		t.Error("expected generated ID")
	}
	if evt.CorrelationID == "" || evt.CorrelationID == evt.ID {
		t.Errorf("expected distinct correlation ID, got %q", evt.CorrelationID)
	}
	if evt.InstanceID != "inst-1" || evt.DefinitionID != "def-1" {
		t.Errorf("unexpected ids: %+v", evt)
	}
	if evt.Timestamp.Before(before) || evt.Timestamp.After(after) {
		t.Errorf("timestamp %v outside [%v, %v]", evt.Timestamp, before, after)
	}
	if got := evt.GetPayloadString(PayloadToState); got != "review" {
		t.Errorf("payload to_state = %q", got)
	}
}

func TestNewEvent_NilPayload(t *testing.T) {
	evt := NewEvent(TypeInstanceStarted, "inst-1", "def-1", nil)
	if evt.Payload == nil {
		t.Fatal("expected empty payload map")
	}
	if got := evt.GetPayloadString("missing"); got != "" {
		t.Errorf("expected empty string, got %q", got)
	}
}

func TestEvent_Follow(t *testing.T) {
	first := NewEvent(TypeTransitionCompleted, "inst-1", "def-1", nil)
	next := first.Follow(TypeInstanceCompleted, map[string]interface{}{PayloadOutcome: "applied"})

	if next.CorrelationID != first.CorrelationID {
		t.Errorf("correlation not carried: %q vs %q", next.CorrelationID, first.CorrelationID)
	}
	if next.ID == first.ID {
		t.Error("follow-up event must get its own ID")
	}
	if next.InstanceID != "inst-1" || next.DefinitionID != "def-1" {
		t.Errorf("unexpected ids: %+v", next)
	}
}

func TestEvent_WithPayload(t *testing.T) {
	original := NewEvent(TypeTransitionCompleted, "inst-1", "def-1", map[string]interface{}{"a": "1"})
	updated := original.WithPayload("b", 2)

	if _, ok := original.Payload["b"]; ok {
		t.Error("original payload was mutated")
	}
	if updated.GetPayloadString("a") != "1" {
		t.Error("existing payload key lost")
	}
	if updated.GetPayloadInt("b") != 2 {
		t.Error("new payload key missing")
	}
	if updated.ID != original.ID || updated.CorrelationID != original.CorrelationID {
		t.Error("identity fields must be preserved")
	}
}

func TestEvent_GetPayloadInt(t *testing.T) {
	evt := NewEvent(TypeTransitionCompleted, "inst-1", "def-1", map[string]interface{}{
		"int":    3,
		"int64":  int64(4),
		"float":  5.0,
		"string": "6",
	})

	tests := map[string]int64{"int": 3, "int64": 4, "float": 5, "string": 0, "missing": 0}
	for key, want := range tests {
		if got := evt.GetPayloadInt(key); got != want {
			t.Errorf("GetPayloadInt(%q) = %d, want %d", key, got, want)
		}
	}
}

func TestEvent_UniqueIDs(t *testing.T) {
	seen := make(map[string]struct{}, 100)
	for i := 0; i < 100; i++ {
		evt := NewEvent(TypeInstanceStarted, "inst", "def", nil)
		if _, dup := seen[evt.ID]; dup {
			t.Fatalf("duplicate event ID %s", evt.ID)
		}
		seen[evt.ID] = struct{}{}
	}
}

func TestCorrelationContext(t *testing.T) {
	if got := CorrelationFrom(context.Background()); got != "" {
		t.Errorf("CorrelationFrom(empty) = %q, want empty", got)
	}
	ctx := ContextWithCorrelation(context.Background(), "req-1")
	if got := CorrelationFrom(ctx); got != "req-1" {
		t.Errorf("CorrelationFrom() = %q, want req-1", got)
	}
}

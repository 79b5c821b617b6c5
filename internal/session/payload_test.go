package session

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
)

func TestDecodePayloadValid(t *testing.T) {
	lineage := uuid.New()

	tests := []struct {
		typ EventType
		raw string
	}{
		{EventUserInput, `{"text":"I want to train 3 days a week"}`},
		{EventActionCall, `{"name":"log_set","command_id":"abc","args":{"reps":8}}`},
		{EventActionResult, `{"name":"log_set","output":{"total_sets":3}}`},
		{EventModelRequest, `{"model":"coach-v2","body":{"messages":[]},"tokens_in":812}`},
		{EventModelResponse, `{"message":"Nice work, one more set."}`},
		{EventModelResponse, `{"action_name":"log_set"}`},
		{EventKnowledge, `{"source":"assessment","text":"estimated squat 1RM 120kg"}`},
		{EventError, `{"stage":"generate","message":"upstream timeout"}`},
		{EventCheckpoint, `{"reason":"intake confirmed","prior_start_seq":1}`},
		{EventArtifactRef, `{"lineage_id":"` + lineage.String() + `","version":2,"kind":"program"}`},
	}

	for _, tt := range tests {
		t.Run(string(tt.typ), func(t *testing.T) {
			p, err := DecodePayload(tt.typ, json.RawMessage(tt.raw))
			if err != nil {
				t.Fatalf("DecodePayload(%s) error: %v", tt.typ, err)
			}
			if p == nil {
				t.Fatal("DecodePayload returned nil payload")
			}
		})
	}
}

func TestDecodePayloadInvalid(t *testing.T) {
	tests := []struct {
		name string
		typ  EventType
		raw  string
	}{
		{"empty payload", EventUserInput, ""},
		{"user input without text", EventUserInput, `{"source":"speech"}`},
		{"action call without name", EventActionCall, `{"args":{}}`},
		{"action result without name", EventActionResult, `{"output":{}}`},
		{"model request without body", EventModelRequest, `{"model":"coach-v2"}`},
		{"model response without message or action", EventModelResponse, `{}`},
		{"knowledge without source", EventKnowledge, `{"text":"fact"}`},
		{"error without message", EventError, `{"stage":"generate"}`},
		{"checkpoint without reason", EventCheckpoint, `{"prior_start_seq":4}`},
		{"artifact ref without lineage", EventArtifactRef, `{"version":1,"kind":"program"}`},
		{"artifact ref with version zero", EventArtifactRef, `{"lineage_id":"` + uuid.New().String() + `","version":0}`},
		{"malformed json", EventUserInput, `{"text":`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodePayload(tt.typ, json.RawMessage(tt.raw))
			if !errors.Is(err, ErrInvalidPayload) {
				t.Fatalf("DecodePayload() = %v, want ErrInvalidPayload", err)
			}
		})
	}
}

func TestDecodePayloadUnknownType(t *testing.T) {
	_, err := DecodePayload(EventType("telemetry"), json.RawMessage(`{}`))
	if !errors.Is(err, ErrInvalidEventType) {
		t.Fatalf("DecodePayload() = %v, want ErrInvalidEventType", err)
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	raw, err := EncodePayload(&Checkpoint{Reason: "phase confirmed", PriorStartSeq: 7})
	if err != nil {
		t.Fatalf("EncodePayload error: %v", err)
	}

	p, err := DecodePayload(EventCheckpoint, raw)
	if err != nil {
		t.Fatalf("DecodePayload error: %v", err)
	}
	cp, ok := p.(*Checkpoint)
	if !ok {
		t.Fatalf("payload type = %T, want *Checkpoint", p)
	}
	if cp.Reason != "phase confirmed" || cp.PriorStartSeq != 7 {
		t.Errorf("round trip mismatch: %+v", cp)
	}
}

func TestEventTypeValidIsClosed(t *testing.T) {
	known := []EventType{
		EventUserInput, EventActionCall, EventActionResult,
		EventModelRequest, EventModelResponse, EventKnowledge,
		EventError, EventCheckpoint, EventArtifactRef,
	}
	for _, typ := range known {
		if !typ.Valid() {
			t.Errorf("%s should be valid", typ)
		}
	}
	if EventType("model_stream").Valid() {
		t.Error("unknown type should not be valid")
	}
}

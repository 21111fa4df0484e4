package protocol

import (
	"encoding/json"
	"testing"
)

// ---------------------------------------------------------------------------
// Test: Parsing a valid auth message
// ---------------------------------------------------------------------------

func TestParseClientMessage_Auth(t *testing.T) {
	input := []byte(`{"type":"auth","token":"tok-abc123"}`)

	msgType, msg, err := ParseClientMessage(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msgType != TypeAuth {
		t.Fatalf("expected type %q, got %q", TypeAuth, msgType)
	}

	am, ok := msg.(AuthMsg)
	if !ok {
		t.Fatalf("expected AuthMsg, got %T", msg)
	}
	if am.Token != "tok-abc123" {
		t.Errorf("expected token %q, got %q", "tok-abc123", am.Token)
	}
}

// ---------------------------------------------------------------------------
// Test: Parsing a valid chat message
// ---------------------------------------------------------------------------

func TestParseClientMessage_ChatMsg(t *testing.T) {
	input := []byte(`{"type":"message","peer_id":"user-42","text":"Hello!"}`)

	msgType, msg, err := ParseClientMessage(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msgType != TypeMessage {
		t.Fatalf("expected type %q, got %q", TypeMessage, msgType)
	}

	cm, ok := msg.(ChatMsg)
	if !ok {
		t.Fatalf("expected ChatMsg, got %T", msg)
	}
	if cm.PeerID != "user-42" {
		t.Errorf("expected peer_id %q, got %q", "user-42", cm.PeerID)
	}
	if cm.Text != "Hello!" {
		t.Errorf("expected text %q, got %q", "Hello!", cm.Text)
	}
}

// ---------------------------------------------------------------------------
// Test: Parsing like/unmatch messages
// ---------------------------------------------------------------------------

func TestParseClientMessage_Like(t *testing.T) {
	input := []byte(`{"type":"like","target_id":"user-7"}`)

	msgType, msg, err := ParseClientMessage(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msgType != TypeLike {
		t.Fatalf("expected type %q, got %q", TypeLike, msgType)
	}

	lm, ok := msg.(LikeMsg)
	if !ok {
		t.Fatalf("expected LikeMsg, got %T", msg)
	}
	if lm.TargetID != "user-7" {
		t.Errorf("expected target_id %q, got %q", "user-7", lm.TargetID)
	}
}

func TestParseClientMessage_Unmatch(t *testing.T) {
	input := []byte(`{"type":"unmatch","target_id":"user-9"}`)

	msgType, msg, err := ParseClientMessage(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msgType != TypeUnmatch {
		t.Fatalf("expected type %q, got %q", TypeUnmatch, msgType)
	}
	if _, ok := msg.(UnmatchMsg); !ok {
		t.Fatalf("expected UnmatchMsg, got %T", msg)
	}
}

// ---------------------------------------------------------------------------
// Test: Creating server messages
// ---------------------------------------------------------------------------

func TestNewServerMessage_LikeResult(t *testing.T) {
	payload := LikeResultMsg{
		TargetID: "user-7",
		Outcome:  "matched",
	}

	data, err := NewServerMessage(TypeLikeResult, payload)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("result is not valid JSON: %v", err)
	}
	if decoded["type"] != TypeLikeResult {
		t.Errorf("expected type %q, got %v", TypeLikeResult, decoded["type"])
	}
	if decoded["target_id"] != "user-7" {
		t.Errorf("expected target_id %q, got %v", "user-7", decoded["target_id"])
	}
	if decoded["outcome"] != "matched" {
		t.Errorf("expected outcome %q, got %v", "matched", decoded["outcome"])
	}
}

func TestNewServerMessage_InjectsTypeOverPayloadField(t *testing.T) {
	// The Type field on the payload struct is empty; NewServerMessage must
	// still produce the correct discriminator.
	data, err := NewServerMessage(TypePong, PongMsg{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("result is not valid JSON: %v", err)
	}
	if decoded["type"] != TypePong {
		t.Errorf("expected type %q, got %v", TypePong, decoded["type"])
	}
}

// ---------------------------------------------------------------------------
// Test: Error cases
// ---------------------------------------------------------------------------

func TestParseClientMessage_MissingType(t *testing.T) {
	input := []byte(`{"peer_id":"user-42","text":"hi"}`)

	if _, _, err := ParseClientMessage(input); err == nil {
		t.Fatal("expected error for missing type field, got nil")
	}
}

func TestParseClientMessage_UnknownType(t *testing.T) {
	input := []byte(`{"type":"teleport"}`)

	msgType, _, err := ParseClientMessage(input)
	if err == nil {
		t.Fatal("expected error for unknown type, got nil")
	}
	if msgType != "teleport" {
		t.Errorf("expected returned type %q, got %q", "teleport", msgType)
	}
}

func TestParseClientMessage_ServerOnlyType(t *testing.T) {
	// Server -> client types must not be accepted from clients.
	input := []byte(`{"type":"match_event","peer_id":"user-1"}`)

	if _, _, err := ParseClientMessage(input); err == nil {
		t.Fatal("expected error for server-only type, got nil")
	}
}

func TestParseClientMessage_MalformedJSON(t *testing.T) {
	input := []byte(`{"type":"auth",`)

	if _, _, err := ParseClientMessage(input); err == nil {
		t.Fatal("expected error for malformed JSON, got nil")
	}
}

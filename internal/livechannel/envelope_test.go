package livechannel

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestParseEnvelope(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		wantKind string
		wantData string
		wantErr  bool
	}{
		{"data payload", `{"type":"stats_update","data":{"total_threats":3}}`, "stats_update", `{"total_threats":3}`, false},
		{"message payload", `{"type":"notification","message":{"id":7},"timestamp":"2024-01-01T00:00:00Z"}`, "notification", `{"id":7}`, false},
		{"data wins over message", `{"type":"x","data":1,"message":2}`, "x", `1`, false},
		{"no payload", `{"type":"ping"}`, "ping", ``, false},
		{"invalid json", `{"type":`, "", "", true},
		{"not an object", `["type"]`, "", "", true},
		{"missing type", `{"data":{}}`, "", "", true},
		{"non-string type", `{"type":5}`, "", "", true},
		{"empty type", `{"type":""}`, "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, err := ParseEnvelope([]byte(tt.raw))
			if tt.wantErr {
				var malformed *MalformedMessageError
				if !errors.As(err, &malformed) {
					t.Fatalf("Expected MalformedMessageError, got %v", err)
				}
				if string(malformed.Raw) != tt.raw {
					t.Errorf("Expected raw %q, got %q", tt.raw, malformed.Raw)
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if env.Kind != tt.wantKind {
				t.Errorf("Expected kind %s, got %s", tt.wantKind, env.Kind)
			}
			if string(env.Data) != tt.wantData {
				t.Errorf("Expected data %s, got %s", tt.wantData, env.Data)
			}
		})
	}
}

func TestEnvelope_FieldAndDecode(t *testing.T) {
	env, err := ParseEnvelope([]byte(`{"type":"notification","message":{"id":7,"title":"Hi"},"timestamp":"2024-05-01T10:00:00Z"}`))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if got := env.Field("timestamp").String(); got != "2024-05-01T10:00:00Z" {
		t.Errorf("Expected timestamp field, got %q", got)
	}

	var n struct {
		ID    int    `json:"id"`
		Title string `json:"title"`
	}
	if err := env.Decode(&n); err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if n.ID != 7 || n.Title != "Hi" {
		t.Errorf("Unexpected payload %+v", n)
	}

	empty, _ := ParseEnvelope([]byte(`{"type":"ping"}`))
	if err := empty.Decode(&n); err == nil {
		t.Error("Expected error decoding an empty payload")
	}
}

func TestCommand_MarshalJSON(t *testing.T) {
	base := NewCommand("read_notification")
	cmd := base.With("notification_id", 42).With("action", "read_notification")

	if len(base.Params) != 0 {
		t.Errorf("Expected With to leave the original untouched, got %v", base.Params)
	}

	data, err := json.Marshal(cmd)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	var got map[string]any
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if got["type"] != "read_notification" || got["notification_id"] != float64(42) || got["action"] != "read_notification" {
		t.Errorf("Unexpected command %s", data)
	}

	// The kind always wins over a param named "type".
	data, _ = json.Marshal(NewCommand("get_stats").With("type", "other"))
	if string(data) != `{"type":"get_stats"}` {
		t.Errorf("Expected kind to override params, got %s", data)
	}

	if _, err := json.Marshal(Command{}); err == nil {
		t.Error("Expected error for empty kind")
	}
}

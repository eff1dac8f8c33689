package protocol

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		wantType string
		wantErr  error
	}{
		{
			name:     "heartbeat",
			input:    `{"type":"heartbeat","agent_id":"x"}`,
			wantType: TypeHeartbeat,
		},
		{
			name:     "core update with nested features",
			input:    `{"type":"core_update","features":{"wap":100.5,"spread":0.1},"prediction":"BUY"}`,
			wantType: TypeCoreUpdate,
		},
		{
			name:     "unrecognized type still parses",
			input:    `{"type":"something_else"}`,
			wantType: "something_else",
		},
		{
			name:    "invalid json",
			input:   `{"type":"heartbeat"`,
			wantErr: ErrMalformed,
		},
		{
			name:    "array is not an object",
			input:   `[1,2,3]`,
			wantErr: ErrMalformed,
		},
		{
			name:    "null",
			input:   `null`,
			wantErr: ErrMalformed,
		},
		{
			name:    "missing type",
			input:   `{"agent_id":"x"}`,
			wantErr: ErrMissingType,
		},
		{
			name:    "numeric type",
			input:   `{"type":42}`,
			wantErr: ErrMissingType,
		},
		{
			name:    "empty type",
			input:   `{"type":""}`,
			wantErr: ErrMissingType,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := Parse([]byte(tt.input))
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Parse() error = %v, want %v", err, tt.wantErr)
				}
				var pe *ParseError
				if !errors.As(err, &pe) {
					t.Fatalf("Parse() error is %T, want *ParseError", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Parse() unexpected error: %v", err)
			}
			if msg.Type != tt.wantType {
				t.Errorf("Type = %q, want %q", msg.Type, tt.wantType)
			}
			if string(msg.Raw) != tt.input {
				t.Errorf("Raw = %q, want input unchanged", msg.Raw)
			}
		})
	}
}

func TestParseError_TruncatesPrefix(t *testing.T) {
	input := "{" + strings.Repeat("x", 500)

	_, err := Parse([]byte(input))

	var pe *ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("expected *ParseError, got %T", err)
	}
	if len(pe.Prefix) != errorPrefixLen {
		t.Errorf("len(Prefix) = %d, want %d", len(pe.Prefix), errorPrefixLen)
	}
}

func TestMessage_StringField(t *testing.T) {
	msg, err := Parse([]byte(`{"type":"heartbeat","agent_id":"oracle-1","ts":12.5}`))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if got := msg.StringField("agent_id"); got != "oracle-1" {
		t.Errorf("StringField(agent_id) = %q, want oracle-1", got)
	}
	if got := msg.StringField("ts"); got != "" {
		t.Errorf("StringField(ts) = %q, want empty for non-string", got)
	}
	if got := msg.StringField("missing"); got != "" {
		t.Errorf("StringField(missing) = %q, want empty", got)
	}
}

func TestParseRole(t *testing.T) {
	tests := []struct {
		in   string
		want Role
	}{
		{"agent", RoleAgent},
		{"panel", RolePanel},
		{"", RoleUnknown},
		{"Agent", RoleUnknown},
		{"browser", RoleUnknown},
	}

	for _, tt := range tests {
		if got := ParseRole(tt.in); got != tt.want {
			t.Errorf("ParseRole(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
	if RoleUnknown.String() != "unknown" {
		t.Errorf("RoleUnknown.String() = %q, want unknown", RoleUnknown.String())
	}
}

func TestCoreUpdate_WireShape(t *testing.T) {
	ts := int64(1700000000000)
	update := CoreUpdate{
		Type: TypeCoreUpdate,
		Features: Features{
			WAP:                  100.25,
			Spread:               0.5,
			BookImbalance5Levels: 0.3,
			LastBookUpdateTs:     &ts,
		},
		Prediction: "BUY",
	}

	data, err := json.Marshal(update)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	msg, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if msg.Type != TypeCoreUpdate {
		t.Errorf("Type = %q, want core_update", msg.Type)
	}

	var decoded struct {
		Features map[string]any `json:"features"`
	}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	for _, key := range []string{"wap", "spread", "book_imbalance_5_levels", "last_trade_ts"} {
		if _, ok := decoded.Features[key]; !ok {
			t.Errorf("features missing key %q", key)
		}
	}
}

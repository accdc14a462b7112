package protocol

import (
	"encoding/json"
	"testing"
)

func TestDecodeCommand(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    Command
		wantErr bool
	}{
		{"feed", `{"type":"FEED"}`, Command{Type: TypeFeed}, false},
		{"snapshot with id", `{"type":"SNAPSHOT","request_id":"r1"}`, Command{Type: TypeSnapshot, RequestID: "r1"}, false},
		{"history", `{"type":"HISTORY"}`, Command{Type: TypeHistory}, false},
		{"unknown type", `{"type":"DRAIN"}`, Command{}, true},
		{"missing type", `{"request_id":"r1"}`, Command{}, true},
		{"extra field", `{"type":"FEED","mass":500}`, Command{}, true},
		{"wrong type kind", `{"type":1}`, Command{}, true},
		{"not an object", `["FEED"]`, Command{}, true},
		{"malformed", `{"type":`, Command{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeCommand([]byte(tt.in))
			if (err != nil) != tt.wantErr {
				t.Fatalf("DecodeCommand(%s) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("DecodeCommand(%s) = %+v, want %+v", tt.in, got, tt.want)
			}
		})
	}
}

func TestErrorFrameEncoding(t *testing.T) {
	b, err := ErrorFrame("r9", ErrRateLimit, "feed cooldown").Encode()
	if err != nil {
		t.Fatal(err)
	}

	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		t.Fatal(err)
	}
	if m["type"] != TypeError || m["code"] != ErrRateLimit || m["request_id"] != "r9" {
		t.Errorf("unexpected frame %s", b)
	}
	if _, ok := m["seq"]; ok {
		t.Errorf("seq should be omitted on error frames: %s", b)
	}
}

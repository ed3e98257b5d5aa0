package commsutil

import (
	"testing"

	"github.com/morezero/rtbus/pkg/message"
	"github.com/morezero/rtbus/pkg/rtid"
)

func TestCodecByName(t *testing.T) {
	tests := []struct {
		name    string
		want    string
		wantErr bool
	}{
		{"", "json", false},
		{"json", "json", false},
		{"cbor", "cbor", false},
		{"xml", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := CodecByName(tt.name)
			if tt.wantErr {
				if err == nil {
					t.Fatal("commsutil:codec_test - expected error but got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("commsutil:codec_test - unexpected error: %v", err)
			}
			if c.Name() != tt.want {
				t.Errorf("commsutil:codec_test - Name() = %q, want %q", c.Name(), tt.want)
			}
		})
	}
}

func TestCodec_EnvelopeRoundTrip(t *testing.T) {
	for _, name := range []string{"json", "cbor"} {
		t.Run(name, func(t *testing.T) {
			c, err := CodecByName(name)
			if err != nil {
				t.Fatalf("commsutil:codec_test - codec: %v", err)
			}
			p, err := message.NewPayload(message.PayloadCommand, rtid.Frame(7, 0), message.ActionInvoke,
				message.InvokeParams{Name: "click"})
			if err != nil {
				t.Fatalf("commsutil:codec_test - payload: %v", err)
			}
			original := message.NewRequest(p, "sync-1")
			original.CorrelationID = "trace-1"

			data, err := c.Marshal(original)
			if err != nil {
				t.Fatalf("commsutil:codec_test - encode failed: %v", err)
			}
			var decoded message.Message
			if err := c.Unmarshal(data, &decoded); err != nil {
				t.Fatalf("commsutil:codec_test - decode failed: %v", err)
			}
			if err := decoded.Validate(); err != nil {
				t.Fatalf("commsutil:codec_test - decoded envelope invalid: %v", err)
			}
			if decoded.SyncID != "sync-1" || decoded.CorrelationID != "trace-1" {
				t.Errorf("commsutil:codec_test - ids lost: %+v", decoded)
			}
			if !decoded.Payload.Destination.Equal(rtid.Frame(7, 0)) {
				t.Errorf("commsutil:codec_test - destination = %s", decoded.Payload.Destination)
			}
		})
	}
}

func TestDecodePayload_InvalidJSON(t *testing.T) {
	var v map[string]string
	if err := DecodePayload([]byte(`{invalid}`), &v); err == nil {
		t.Fatal("commsutil:codec_test - expected error but got nil")
	}
}

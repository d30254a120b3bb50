package correlation

import "testing"

func TestFromHeader(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
		want  []Key
	}{
		{
			name:  "request id",
			key:   "X-Request-Id",
			value: "REQ-12345",
			want:  []Key{{Type: "request_id", Value: "req-12345"}},
		},
		{
			name:  "correlation id",
			key:   "x-correlation-id",
			value: "corr-abc-789",
			want:  []Key{{Type: "correlation_id", Value: "corr-abc-789"}},
		},
		{
			name:  "traceparent",
			key:   "traceparent",
			value: "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-00",
			want:  []Key{{Type: "trace_id", Value: "4bf92f3577b34da6a3ce929d0e0e4736"}},
		},
		{
			name:  "cloud trace context",
			key:   "x-cloud-trace-context",
			value: "105445aa7843bc8bf206b12000100000/123;o=1",
			want:  []Key{{Type: "trace_id", Value: "105445aa7843bc8bf206b12000100000"}},
		},
		{
			name:  "b3 single",
			key:   "b3",
			value: "80f198ee56343ba864fe8b2a57d3eff7-e457b5a2e4d86bd1-1",
			want:  []Key{{Type: "trace_id", Value: "80f198ee56343ba864fe8b2a57d3eff7"}},
		},
		{
			name:  "amzn trace",
			key:   "X-Amzn-Trace-Id",
			value: "Root=1-5759e988-bd862e3fe1be46a994272793;Sampled=1",
			want:  []Key{{Type: "trace_id", Value: "5759e988bd862e3fe1be46a994272793"}},
		},
		{
			name:  "b3 trace id header",
			key:   "x-b3-traceid",
			value: "80f198ee56343ba864fe8b2a57d3eff7",
			want:  []Key{{Type: "trace_id", Value: "80f198ee56343ba864fe8b2a57d3eff7"}},
		},
		{
			name:  "unsupported header",
			key:   "content-type",
			value: "application/json",
			want:  nil,
		},
		{
			name:  "empty value",
			key:   "x-request-id",
			value: "   ",
			want:  nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FromHeader(tt.key, tt.value)
			if len(got) != len(tt.want) {
				t.Fatalf("expected %d keys, got %d: %#v", len(tt.want), len(got), got)
			}
			for i := range tt.want {
				if got[i] != tt.want[i] {
					t.Fatalf("key[%d] mismatch: got %#v want %#v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestFromMessage(t *testing.T) {
	msg := `error handling request_id=REQ-999 traceparent=00-4bf92f3577b34da6a3ce929d0e0e4736-1111111111111111-01 x-correlation-id:"corr-777"`
	keys := FromMessage(msg)
	if len(keys) != 3 {
		t.Fatalf("expected 3 keys, got %d: %#v", len(keys), keys)
	}

	want := map[string]string{
		"request_id":     "req-999",
		"trace_id":       "4bf92f3577b34da6a3ce929d0e0e4736",
		"correlation_id": "corr-777",
	}
	for _, key := range keys {
		if expected, ok := want[key.Type]; !ok {
			t.Fatalf("unexpected key type: %s", key.Type)
		} else if key.Value != expected {
			t.Fatalf("unexpected %s value: got %s want %s", key.Type, key.Value, expected)
		}
	}
}

func TestFromMessageDedupes(t *testing.T) {
	msg := `request_id=req-123 request-id=req-123 x-request-id=req-123`
	keys := FromMessage(msg)
	if len(keys) != 1 {
		t.Fatalf("expected deduped single key, got %d: %#v", len(keys), keys)
	}
	if keys[0].Type != "request_id" || keys[0].Value != "req-123" {
		t.Fatalf("unexpected key: %#v", keys[0])
	}
}

func TestFromMessageEmpty(t *testing.T) {
	if keys := FromMessage("   "); keys != nil {
		t.Fatalf("expected nil for blank message, got %#v", keys)
	}
	if keys := FromMessage("nothing to see here"); len(keys) != 0 {
		t.Fatalf("expected no keys, got %#v", keys)
	}
}

func TestFromURL(t *testing.T) {
	tests := []struct {
		name string
		url  string
		want []Key
	}{
		{
			name: "request id param",
			url:  "https://api.example.com/v1/orders?request_id=REQ-445566&page=2",
			want: []Key{{Type: "request_id", Value: "req-445566"}},
		},
		{
			name: "trace and correlation params",
			url:  "https://api.example.com/search?traceId=80f198ee56343ba8&correlation_id=corr-1",
			want: []Key{
				{Type: "correlation_id", Value: "corr-1"},
				{Type: "trace_id", Value: "80f198ee56343ba8"},
			},
		},
		{
			name: "no query",
			url:  "https://example.com/path",
			want: nil,
		},
		{
			name: "unrelated params",
			url:  "https://example.com/path?q=hello&page=3",
			want: []Key{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FromURL(tt.url)
			if len(got) != len(tt.want) {
				t.Fatalf("expected %d keys, got %d: %#v", len(tt.want), len(got), got)
			}
			for i := range tt.want {
				if got[i] != tt.want[i] {
					t.Fatalf("key[%d] mismatch: got %#v want %#v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

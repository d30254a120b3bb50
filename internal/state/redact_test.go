package state

import (
	"net/url"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestMaskValue(t *testing.T) {
	tests := []struct {
		name string
		node ReadableNode
		want string
	}{
		{
			"password type masks fully",
			ReadableNode{Attrs: map[string]string{"type": "password", "value": "hunter2secret"}},
			FullMask,
		},
		{
			"sensitive field name masks fully",
			ReadableNode{Attrs: map[string]string{"name": "api_key", "value": "sk-abcdef123456"}},
			FullMask,
		},
		{
			"sensitive autocomplete masks fully",
			ReadableNode{Attrs: map[string]string{"autocomplete": "current-password", "value": "pw"}},
			FullMask,
		},
		{
			"sensitive placeholder masks fully",
			ReadableNode{Attrs: map[string]string{"placeholder": "Card number", "value": "4111111111111111"}},
			FullMask,
		},
		{
			"email type masks partially",
			ReadableNode{Attrs: map[string]string{"type": "email", "value": "alex@example.com"}},
			"al***om",
		},
		{
			"email shape masks partially without type",
			ReadableNode{Attrs: map[string]string{"value": "alex@example.com"}},
			"al***om",
		},
		{
			"phone shape masks partially",
			ReadableNode{Attrs: map[string]string{"value": "+1 (555) 123-4567"}},
			"+1***67",
		},
		{
			"short email masks fully",
			ReadableNode{Attrs: map[string]string{"type": "email", "value": "a@b"}},
			FullMask,
		},
		{
			"plain value passes through",
			ReadableNode{Attrs: map[string]string{"value": "quarterly report"}},
			"quarterly report",
		},
		{
			"empty value stays empty",
			ReadableNode{Attrs: map[string]string{"type": "password"}},
			"",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := MaskValue(tt.node, 0); got != tt.want {
				t.Errorf("MaskValue = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestMaskValueTruncates(t *testing.T) {
	long := strings.Repeat("a", 60)
	n := ReadableNode{Attrs: map[string]string{"value": long}}

	got := MaskValue(n, 0)
	if want := strings.Repeat("a", 40) + "..."; got != want {
		t.Errorf("default truncation = %q (len %d), want 40 runes plus ellipsis", got, len(got))
	}
	if got := MaskValue(n, 10); got != strings.Repeat("a", 10)+"..." {
		t.Errorf("custom truncation = %q", got)
	}
	// Truncation counts runes, not bytes.
	n = ReadableNode{Attrs: map[string]string{"value": strings.Repeat("ü", 50)}}
	if got := MaskValue(n, 0); got != strings.Repeat("ü", 40)+"..." {
		t.Errorf("rune truncation = %q", got)
	}
}

func TestSanitizeURL(t *testing.T) {
	allowed := []string{"page", "tab"}
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{
			"disallowed params stripped",
			"https://app.test/inbox?page=2&session_token=abc123",
			"https://app.test/inbox?page=2",
		},
		{
			"fragment survives",
			"https://app.test/docs?auth=xyz#section-3",
			"https://app.test/docs#section-3",
		},
		{
			"no query untouched",
			"https://app.test/plain",
			"https://app.test/plain",
		},
		{
			"all params stripped leaves bare path",
			"https://app.test/cb?code=secret&state=opaque",
			"https://app.test/cb",
		},
		{
			"empty input",
			"",
			"",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SanitizeURL(tt.raw, allowed); got != tt.want {
				t.Errorf("SanitizeURL(%q) = %q, want %q", tt.raw, got, tt.want)
			}
		})
	}
}

func TestSanitizeURLKeepsAllowedParams(t *testing.T) {
	// Encoding may reorder parameters; compare the parsed query instead of
	// the raw string.
	got := SanitizeURL("https://app.test/list?tab=open&token=x&page=3", []string{"page", "tab"})
	u, err := url.Parse(got)
	if err != nil {
		t.Fatalf("sanitized URL unparseable: %v", err)
	}
	want := url.Values{"tab": {"open"}, "page": {"3"}}
	if diff := cmp.Diff(want, u.Query()); diff != "" {
		t.Errorf("query mismatch (-want +got):\n%s", diff)
	}
}

func TestSanitizeURLUnparseable(t *testing.T) {
	raw := "http://bad host/path?leak=1"
	if got := SanitizeURL(raw, nil); got != "http://bad host/path" {
		t.Errorf("unparseable URL = %q, want everything past ? dropped", got)
	}
}

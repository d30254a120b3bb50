package state

import (
	"net/url"
	"regexp"
	"strings"
)

// FullMask replaces a sensitive value wholesale; length is deliberately
// fixed so masked output leaks nothing about the original.
const FullMask = "********"

// DefaultValueTruncate caps how much of a non-sensitive value the response
// carries.
const DefaultValueTruncate = 40

var (
	sensitiveNameRe = regexp.MustCompile(`(?i)(password|passwd|secret|token|api[-_]?key|ssn|social|cvv|cvc|card[-_]?number|pin|auth|credential)`)
	emailValueRe    = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
	phoneValueRe    = regexp.MustCompile(`^\+?[\d][\d\s().-]{6,}$`)
)

// MaskValue renders a node's value safe for the response. Password-typed or
// sensitively-named fields mask fully; emails and phone numbers keep their
// first and last two characters; everything else truncates past the limit.
// An empty value stays empty.
func MaskValue(n ReadableNode, truncateAt int) string {
	v := n.Value()
	if v == "" {
		return ""
	}
	if truncateAt <= 0 {
		truncateAt = DefaultValueTruncate
	}
	switch {
	case n.Attr("type") == "password", sensitiveName(n):
		return FullMask
	case n.Attr("type") == "email", emailValueRe.MatchString(v):
		return partialMask(v)
	case n.Attr("type") == "tel", phoneValueRe.MatchString(v):
		return partialMask(v)
	default:
		return truncateValue(v, truncateAt)
	}
}

func sensitiveName(n ReadableNode) bool {
	for _, key := range []string{"name", "id", "autocomplete", "placeholder"} {
		if v := n.Attr(key); v != "" && sensitiveNameRe.MatchString(v) {
			return true
		}
	}
	return false
}

// partialMask keeps the first and last two characters. Values too short to
// leave anything hidden mask fully instead.
func partialMask(v string) string {
	r := []rune(v)
	if len(r) <= 4 {
		return FullMask
	}
	return string(r[:2]) + "***" + string(r[len(r)-2:])
}

func truncateValue(v string, max int) string {
	r := []rune(v)
	if len(r) <= max {
		return v
	}
	return string(r[:max]) + "..."
}

// SanitizeURL strips every query parameter not on the allow-list,
// preserving origin, path, and fragment. Unparseable URLs lose everything
// past the first query delimiter rather than passing through unfiltered.
func SanitizeURL(raw string, allowed []string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		if i := strings.IndexByte(raw, '?'); i >= 0 {
			return raw[:i]
		}
		return raw
	}
	if u.RawQuery == "" {
		return u.String()
	}
	allowSet := make(map[string]bool, len(allowed))
	for _, k := range allowed {
		allowSet[k] = true
	}
	q := u.Query()
	for k := range q {
		if !allowSet[k] {
			q.Del(k)
		}
	}
	u.RawQuery = q.Encode()
	return u.String()
}

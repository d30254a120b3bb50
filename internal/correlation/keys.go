// Package correlation pulls request, correlation, and trace identifiers
// out of the traffic a page generates, so console lines and network
// requests can be joined to backend logs through the fact store.
package correlation

import (
	"net/url"
	"regexp"
	"sort"
	"strings"
)

// Key is one normalized correlation identifier.
type Key struct {
	Type  string
	Value string
}

var (
	traceparentPattern = regexp.MustCompile(`(?i)^\s*([0-9a-f]{2})-([0-9a-f]{32})-([0-9a-f]{16})-([0-9a-f]{2})\s*$`)
	cloudTracePattern  = regexp.MustCompile(`(?i)^\s*([0-9a-f]{32})(?:/[0-9]+)?(?:;o=\d+)?\s*$`)
	b3SinglePattern    = regexp.MustCompile(`(?i)^\s*([0-9a-f]{16,32})-[0-9a-f]{16}(?:-[01d](?:-[0-9a-f]{16})?)?\s*$`)
	amznTracePattern   = regexp.MustCompile(`(?i)\broot=1-([0-9a-f]{8})-([0-9a-f]{24})`)

	requestIDPattern   = regexp.MustCompile(`(?i)\b(?:x-request-id|request[_-]?id)\b["']?\s*(?:=|:)\s*["']?([a-z0-9][a-z0-9._:/\-]{5,127})`)
	correlationPattern = regexp.MustCompile(`(?i)\b(?:x-correlation-id|correlation[_-]?id)\b["']?\s*(?:=|:)\s*["']?([a-z0-9][a-z0-9._:/\-]{5,127})`)
	traceIDPattern     = regexp.MustCompile(`(?i)\b(?:x-trace-id|trace[_-]?id|x-b3-traceid)\b["']?\s*(?:=|:)\s*["']?([0-9a-f]{16,64})`)
	traceparentMsgPat  = regexp.MustCompile(`(?i)\btraceparent\b["']?\s*(?:=|:)\s*["']?([0-9a-f]{2}-[0-9a-f]{32}-[0-9a-f]{16}-[0-9a-f]{2})`)
	cloudTraceMsgPat   = regexp.MustCompile(`(?i)\bx-cloud-trace-context\b["']?\s*(?:=|:)\s*["']?([0-9a-f]{32})(?:/[0-9]+)?`)
)

// Headers whose value IS the identifier.
var valueHeaders = map[string]string{
	"x-request-id":     "request_id",
	"request-id":       "request_id",
	"request_id":       "request_id",
	"x-correlation-id": "correlation_id",
	"correlation-id":   "correlation_id",
	"correlation_id":   "correlation_id",
	"x-correlationid":  "correlation_id",
	"x-trace-id":       "trace_id",
	"trace-id":         "trace_id",
	"trace_id":         "trace_id",
	"x-b3-traceid":     "trace_id",
}

// Headers carrying a structured trace context the id must be parsed from.
var parsedHeaders = map[string]func(string) string{
	"traceparent":           traceIDFromTraceparent,
	"x-cloud-trace-context": traceIDFromCloudTrace,
	"b3":                    traceIDFromB3Single,
	"x-amzn-trace-id":       traceIDFromAmzn,
}

// FromHeader extracts correlation keys from one header pair.
func FromHeader(name, value string) []Key {
	headerName := strings.ToLower(strings.TrimSpace(name))
	headerValue := normalizeValue(value)
	if headerName == "" || headerValue == "" {
		return nil
	}

	if typ, ok := valueHeaders[headerName]; ok {
		return []Key{{Type: typ, Value: headerValue}}
	}
	if parse, ok := parsedHeaders[headerName]; ok {
		if traceID := parse(headerValue); traceID != "" {
			return []Key{{Type: "trace_id", Value: traceID}}
		}
	}
	return nil
}

// messageScanners bind a pattern over free text to the key type its capture
// yields. parse post-processes the capture; nil keeps it verbatim.
var messageScanners = []struct {
	typ   string
	re    *regexp.Regexp
	parse func(string) string
}{
	{typ: "request_id", re: requestIDPattern},
	{typ: "correlation_id", re: correlationPattern},
	{typ: "trace_id", re: traceIDPattern},
	{typ: "trace_id", re: traceparentMsgPat, parse: traceIDFromTraceparent},
	{typ: "trace_id", re: cloudTraceMsgPat, parse: traceIDFromCloudTrace},
}

// FromMessage extracts correlation keys from arbitrary log text, most
// usefully console output that echoes a failed request's identifiers.
func FromMessage(message string) []Key {
	msg := strings.ToLower(strings.TrimSpace(message))
	if msg == "" {
		return nil
	}

	keys := make([]Key, 0, 4)
	for _, s := range messageScanners {
		for _, match := range s.re.FindAllStringSubmatch(msg, -1) {
			value := normalizeValue(match[1])
			if s.parse != nil {
				value = s.parse(value)
			}
			if value != "" {
				keys = append(keys, Key{Type: s.typ, Value: value})
			}
		}
	}
	return dedupe(keys)
}

// Query parameters whose values correlate a request with backend logs.
var urlParams = map[string]string{
	"request_id":     "request_id",
	"requestid":      "request_id",
	"correlation_id": "correlation_id",
	"correlationid":  "correlation_id",
	"trace_id":       "trace_id",
	"traceid":        "trace_id",
}

// FromURL extracts correlation keys carried in a URL's query string.
// Output is sorted: query map iteration is not deterministic.
func FromURL(raw string) []Key {
	u, err := url.Parse(raw)
	if err != nil || u.RawQuery == "" {
		return nil
	}
	values, err := url.ParseQuery(u.RawQuery)
	if err != nil {
		return nil
	}

	keys := make([]Key, 0, 2)
	for param, vals := range values {
		typ, ok := urlParams[strings.ToLower(param)]
		if !ok || len(vals) == 0 {
			continue
		}
		if v := normalizeValue(vals[0]); v != "" {
			keys = append(keys, Key{Type: typ, Value: v})
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Type != keys[j].Type {
			return keys[i].Type < keys[j].Type
		}
		return keys[i].Value < keys[j].Value
	})
	return dedupe(keys)
}

func traceIDFromTraceparent(value string) string {
	matches := traceparentPattern.FindStringSubmatch(value)
	if len(matches) != 5 {
		return ""
	}
	return normalizeValue(matches[2])
}

func traceIDFromCloudTrace(value string) string {
	matches := cloudTracePattern.FindStringSubmatch(value)
	if len(matches) != 2 {
		return ""
	}
	return normalizeValue(matches[1])
}

func traceIDFromB3Single(value string) string {
	matches := b3SinglePattern.FindStringSubmatch(value)
	if len(matches) != 2 {
		return ""
	}
	return normalizeValue(matches[1])
}

func traceIDFromAmzn(value string) string {
	matches := amznTracePattern.FindStringSubmatch(value)
	if len(matches) != 3 {
		return ""
	}
	return matches[1] + matches[2]
}

func normalizeValue(value string) string {
	normalized := strings.TrimSpace(strings.ToLower(value))
	normalized = strings.Trim(normalized, "\"'`")
	normalized = strings.TrimRight(normalized, ".,;:)]}")
	return normalized
}

func dedupe(keys []Key) []Key {
	if len(keys) <= 1 {
		return keys
	}

	seen := make(map[string]struct{}, len(keys))
	uniq := make([]Key, 0, len(keys))
	for _, key := range keys {
		if key.Type == "" || key.Value == "" {
			continue
		}
		token := key.Type + ":" + key.Value
		if _, exists := seen[token]; exists {
			continue
		}
		seen[token] = struct{}{}
		uniq = append(uniq, key)
	}
	return uniq
}

package browser

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"statenerd-mcp-server/internal/console"
	"statenerd-mcp-server/internal/correlation"
	"statenerd-mcp-server/internal/mangle"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"go.uber.org/zap"
)

// startEventStream wires CDP events into the session's console buffer and
// the fact sink. Navigation reinstalls the mutation observer under a fresh
// epoch; console and network events become correlation-bearing facts.
func (m *SessionManager) startEventStream(ctx context.Context, sessionID string, page *rod.Page) {
	go func() {
		var wg sync.WaitGroup

		waitNav := page.Context(ctx).EachEvent(func(ev *proto.PageFrameNavigated) {
			m.onNavigated(ctx, sessionID, ev)
		})
		waitRest := page.Context(ctx).EachEvent(
			func(ev *proto.RuntimeConsoleAPICalled) {
				m.onConsole(ctx, sessionID, ev)
			},
			func(ev *proto.NetworkRequestWillBeSent) {
				m.onRequest(ctx, sessionID, ev)
			},
			func(ev *proto.NetworkResponseReceived) {
				m.onResponse(ctx, sessionID, ev)
			},
		)

		wg.Add(2)
		go func() {
			defer wg.Done()
			waitNav()
		}()
		go func() {
			defer wg.Done()
			waitRest()
		}()
		wg.Wait()
	}()
}

// onNavigated handles main-frame navigations. The old document's observer
// is gone with the document, so a fresh one is installed under a new epoch;
// the console buffer resets so health reflects the current document only.
// Registry entries are kept: stale refs surface at action time and trigger
// a re-snapshot there.
func (m *SessionManager) onNavigated(ctx context.Context, sessionID string, ev *proto.PageFrameNavigated) {
	if ev.Frame.ParentID != "" {
		return
	}
	now := time.Now()

	if rec, ok := m.record(sessionID); ok {
		if _, err := rec.bridge.Install(ctx); err != nil {
			m.log.Warn("observer reinstall failed",
				zap.String("session_id", sessionID),
				zap.String("url", ev.Frame.URL),
				zap.Error(err))
		}
		rec.console.Clear()
	}

	m.emitFacts(ctx, sessionID, []mangle.Fact{
		{
			Predicate: "navigation_event",
			Args:      []interface{}{sessionID, ev.Frame.URL, now.UnixMilli()},
			Timestamp: now,
		},
		{
			// current_url is the stateful predicate: where the session IS,
			// not where it has been.
			Predicate: "current_url",
			Args:      []interface{}{sessionID, ev.Frame.URL},
			Timestamp: now,
		},
	})

	m.UpdateMetadata(sessionID, func(s Session) Session {
		s.URL = ev.Frame.URL
		s.LastActive = now
		return s
	})
	m.log.Debug("page navigated",
		zap.String("session_id", sessionID),
		zap.String("url", ev.Frame.URL))
}

func (m *SessionManager) onConsole(ctx context.Context, sessionID string, ev *proto.RuntimeConsoleAPICalled) {
	if !m.cfg.Console.IsEnabled() {
		return
	}
	now := time.Now()
	text := stringifyConsoleArgs(ev.Args)
	level := console.LevelFor(string(ev.Type), text)

	msg := console.Message{Level: level, Method: string(ev.Type), Text: text, At: now}
	if ev.StackTrace != nil && len(ev.StackTrace.CallFrames) > 0 {
		frame := ev.StackTrace.CallFrames[0]
		msg.Source = frame.URL
		msg.Line = frame.LineNumber
	}
	if rec, ok := m.record(sessionID); ok {
		rec.console.Append(msg)
	}

	facts := []mangle.Fact{{
		Predicate: "console_message",
		Args:      []interface{}{sessionID, level, text, now.UnixMilli()},
		Timestamp: now,
	}}
	for _, key := range correlation.FromMessage(text) {
		facts = append(facts, mangle.Fact{
			Predicate: "console_correlation",
			Args:      []interface{}{sessionID, key.Type, key.Value},
			Timestamp: now,
		})
	}
	m.emitFacts(ctx, sessionID, facts)
}

func (m *SessionManager) onRequest(ctx context.Context, sessionID string, ev *proto.NetworkRequestWillBeSent) {
	if ev.Request == nil {
		return
	}
	now := time.Now()
	facts := []mangle.Fact{{
		Predicate: "net_request",
		Args:      []interface{}{sessionID, string(ev.RequestID), ev.Request.Method, ev.Request.URL, now.UnixMilli()},
		Timestamp: now,
	}}

	if initiatorType, parentRef := requestInitiator(ev.Initiator); initiatorType != "" || parentRef != "" {
		facts = append(facts, mangle.Fact{
			Predicate: "request_initiator",
			Args:      []interface{}{string(ev.RequestID), initiatorType, parentRef},
			Timestamp: now,
		})
	}

	for name, value := range ev.Request.Headers {
		for _, key := range correlation.FromHeader(name, value.Str()) {
			facts = append(facts, mangle.Fact{
				Predicate: "request_correlation",
				Args:      []interface{}{string(ev.RequestID), key.Type, key.Value},
				Timestamp: now,
			})
		}
	}
	for _, key := range correlation.FromURL(ev.Request.URL) {
		facts = append(facts, mangle.Fact{
			Predicate: "request_correlation",
			Args:      []interface{}{string(ev.RequestID), key.Type, key.Value},
			Timestamp: now,
		})
	}
	m.emitFacts(ctx, sessionID, facts)
}

func (m *SessionManager) onResponse(ctx context.Context, sessionID string, ev *proto.NetworkResponseReceived) {
	if ev.Response == nil {
		return
	}
	now := time.Now()
	var latency, duration int64
	if ev.Response.Timing != nil {
		// CDP timings are float64 milliseconds; Mangle arithmetic wants ints.
		latency = int64(ev.Response.Timing.ReceiveHeadersEnd)
		duration = int64(ev.Response.Timing.ConnectEnd)
	}

	facts := []mangle.Fact{{
		Predicate: "net_response",
		Args:      []interface{}{string(ev.RequestID), ev.Response.Status, latency, duration},
		Timestamp: now,
	}}
	for name, value := range ev.Response.Headers {
		for _, key := range correlation.FromHeader(name, value.Str()) {
			facts = append(facts, mangle.Fact{
				Predicate: "request_correlation",
				Args:      []interface{}{string(ev.RequestID), key.Type, key.Value},
				Timestamp: now,
			})
		}
	}
	m.emitFacts(ctx, sessionID, facts)
}

// requestInitiator reduces a CDP initiator to (type, parent ref). Request
// chains win over plain URLs; script frames are walked past browser
// internals to the first application frame.
func requestInitiator(in *proto.NetworkInitiator) (string, string) {
	if in == nil {
		return "", ""
	}
	initiatorType := string(in.Type)
	parentRef := coalesceNonEmpty(string(in.RequestID), in.URL)

	if parentRef == "" && in.Stack != nil && len(in.Stack.CallFrames) > 0 {
		frame := in.Stack.CallFrames[0]
		script := frame.URL
		line := frame.LineNumber
		for _, f := range in.Stack.CallFrames {
			if f.URL != "" && !isInternalScript(f.URL) {
				script = f.URL
				line = f.LineNumber
				break
			}
		}
		if script == "" {
			script = string(frame.ScriptID)
		}
		if script != "" {
			parentRef = fmt.Sprintf("%s:%d", script, line)
		}
	}
	return initiatorType, parentRef
}

func stringifyConsoleArgs(args []*proto.RuntimeRemoteObject) string {
	parts := make([]string, 0, len(args))
	for _, a := range args {
		if a == nil {
			continue
		}
		if !a.Value.Nil() {
			parts = append(parts, a.Value.String())
			continue
		}
		if a.Description != "" {
			parts = append(parts, a.Description)
		}
	}
	return strings.Join(parts, " ")
}

func coalesceNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// isInternalScript reports whether the URL is browser machinery rather
// than application code.
func isInternalScript(url string) bool {
	internalPrefixes := []string{
		"chrome://",
		"chrome-extension://",
		"devtools://",
		"about:",
		"data:",
		"blob:",
	}
	for _, prefix := range internalPrefixes {
		if strings.HasPrefix(url, prefix) {
			return true
		}
	}
	return false
}

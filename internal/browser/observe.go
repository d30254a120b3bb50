package browser

import (
	"context"
	"fmt"
	"time"

	"statenerd-mcp-server/internal/mangle"
	"statenerd-mcp-server/internal/state"
)

// Observe captures a fresh snapshot of the session's page and renders it
// through the state manager. Capture failures surface as errors; content
// failures (an empty tree, a mid-render mutation) come back as error
// baselines inside the response.
func (m *SessionManager) Observe(ctx context.Context, sessionID string) (*state.StateResponse, error) {
	rec, ok := m.record(sessionID)
	if !ok {
		return nil, fmt.Errorf("unknown session: %s", sessionID)
	}

	snapCtx, cancel := context.WithTimeout(ctx, m.cfg.State.SnapshotTimeoutDuration())
	defer cancel()

	snap, err := CaptureSnapshot(snapCtx, rec.page, m.cfg.State.GetMaxSnapshotNodes())
	if err != nil {
		return nil, fmt.Errorf("capture snapshot: %w", err)
	}

	resp := rec.state.GenerateResponse(ctx, snap)

	if m.cfg.Console.IsEnabled() {
		resp.Counts.ConsoleErrors = rec.console.Summarize().ErrorCount
	}

	m.UpdateMetadata(sessionID, func(s Session) Session {
		s.URL = snap.URL
		s.Title = snap.Title
		s.LastActive = time.Now()
		return s
	})

	m.emitStateFacts(ctx, sessionID, resp)
	return resp, nil
}

// Navigate drives the session to a URL and waits for the load event.
func (m *SessionManager) Navigate(ctx context.Context, sessionID, url string) error {
	rec, ok := m.record(sessionID)
	if !ok {
		return fmt.Errorf("unknown session: %s", sessionID)
	}
	page := rec.page.Context(ctx).Timeout(m.cfg.Browser.NavigationTimeout())
	if err := page.Navigate(url); err != nil {
		return fmt.Errorf("navigate: %w", err)
	}
	if err := page.WaitLoad(); err != nil {
		return fmt.Errorf("wait load: %w", err)
	}
	return nil
}

// emitStateFacts mirrors a rendered response into the fact store so rules
// can correlate state transitions with console and network events.
func (m *SessionManager) emitStateFacts(ctx context.Context, sessionID string, resp *state.StateResponse) {
	if m.engine == nil || resp == nil {
		return
	}
	now := time.Now()
	h := resp.Handle

	facts := make([]mangle.Fact, 0, 2+len(resp.Actionables)+len(resp.Observations))
	facts = append(facts,
		mangle.Fact{
			Predicate: "state_transition",
			Args:      []interface{}{sessionID, h.Step, h.NavigationType, h.SnapshotID, h.ContentHash, now.UnixMilli()},
			Timestamp: now,
		},
		mangle.Fact{
			Predicate: "layer_active",
			Args:      []interface{}{sessionID, h.Step, string(h.ActiveLayer.Type), h.ActiveLayer.Region},
			Timestamp: now,
		},
	)
	for _, a := range resp.Actionables {
		facts = append(facts, mangle.Fact{
			Predicate: "actionable",
			Args:      []interface{}{sessionID, h.Step, a.EID, string(a.Kind), a.Label},
			Timestamp: now,
		})
	}
	for _, o := range resp.Observations {
		if o.LinkedEID == "" {
			continue
		}
		facts = append(facts, mangle.Fact{
			Predicate: "observation_linked",
			Args:      []interface{}{sessionID, h.Step, o.LinkedEID, string(o.Kind), o.Text},
			Timestamp: now,
		})
	}
	m.emitFacts(ctx, sessionID, facts)
}

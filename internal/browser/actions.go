package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"statenerd-mcp-server/internal/mangle"
	"statenerd-mcp-server/internal/state"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/proto"
	"go.uber.org/zap"
)

// Action verbs accepted by Act.
const (
	ActionClick  = "click"
	ActionFill   = "fill"
	ActionSelect = "select"
	ActionToggle = "toggle"
	ActionClear  = "clear"
	ActionHover  = "hover"
	ActionPress  = "press"
)

// ValidAction reports whether the verb is one Act understands.
func ValidAction(action string) bool {
	switch action {
	case ActionClick, ActionFill, ActionSelect, ActionToggle, ActionClear, ActionHover, ActionPress:
		return true
	}
	return false
}

// Keys accepted by the press action.
var pressKeys = map[string]input.Key{
	"enter":     '\r',
	"tab":       '\t',
	"escape":    '\x1b',
	"backspace": '\b',
	"delete":    '',
	"space":     ' ',
}

// KeyFor resolves a key name for the press action.
func KeyFor(name string) (input.Key, bool) {
	k, ok := pressKeys[strings.ToLower(strings.TrimSpace(name))]
	return k, ok
}

// ActionRequest names one interaction with a tracked element.
type ActionRequest struct {
	SessionID string
	EID       string
	Action    string
	Value     string
	Key       string
	Submit    bool
}

// ActionResult reports what an interaction did, including the mutations the
// observer recorded while it ran.
type ActionResult struct {
	EID          string              `json:"eid"`
	Action       string              `json:"action"`
	Outcome      string              `json:"outcome"`
	Value        string              `json:"value,omitempty"`
	Checked      bool                `json:"checked,omitempty"`
	Refreshed    bool                `json:"refreshed,omitempty"`
	Observations []state.Observation `json:"observations,omitempty"`
}

// errStaleRef marks a ref whose element left the document since the
// snapshot that minted it.
var errStaleRef = errors.New("stale element ref")

// Act performs one interaction against an element addressed by eid. A stale
// ref gets one registry refresh and retry; the observation window opens
// before the verb runs and is read after a short settle so the result
// carries what the action changed.
func (m *SessionManager) Act(ctx context.Context, req ActionRequest) (*ActionResult, error) {
	rec, ok := m.record(req.SessionID)
	if !ok {
		return nil, fmt.Errorf("unknown session: %s", req.SessionID)
	}
	if !ValidAction(req.Action) {
		return nil, fmt.Errorf("unknown action: %s", req.Action)
	}
	if req.Action == ActionPress {
		if _, ok := KeyFor(req.Key); !ok {
			return nil, fmt.Errorf("unknown key: %q", req.Key)
		}
	}

	acc := rec.state.Accumulator()
	if err := acc.MarkActionStart(ctx); err != nil {
		m.log.Warn("action window mark failed",
			zap.String("session_id", req.SessionID), zap.Error(err))
	}

	element, refreshed, err := m.resolveTarget(ctx, rec, req.EID)
	if err != nil {
		m.emitActionFact(ctx, req, "failed")
		return nil, err
	}
	if visible, verr := element.Visible(); verr != nil || !visible {
		m.emitActionFact(ctx, req, "failed")
		return nil, fmt.Errorf("element not visible: %s", req.EID)
	}

	result := &ActionResult{EID: req.EID, Action: req.Action, Outcome: "ok", Refreshed: refreshed}
	if err := m.perform(ctx, rec, element, req, result); err != nil {
		m.emitActionFact(ctx, req, "failed")
		return nil, err
	}

	settle(ctx)

	if obs, oerr := acc.ReadSinceAction(ctx); oerr != nil {
		m.log.Warn("action window read failed",
			zap.String("session_id", req.SessionID), zap.Error(oerr))
	} else {
		result.Observations = obs
	}

	m.emitActionFact(ctx, req, result.Outcome)
	m.UpdateMetadata(req.SessionID, func(s Session) Session {
		s.LastActive = time.Now()
		return s
	})
	m.log.Info("action performed",
		zap.String("session_id", req.SessionID),
		zap.String("eid", req.EID),
		zap.String("action", req.Action),
		zap.Bool("refreshed", refreshed),
		zap.Int("observations", len(result.Observations)))
	return result, nil
}

// resolveTarget turns an eid into a live element handle. A ref that is
// unknown or stale triggers one snapshot-driven registry refresh, then a
// second resolve; the second failure is final.
func (m *SessionManager) resolveTarget(ctx context.Context, rec *sessionRecord, eid string) (*rod.Element, bool, error) {
	if entry, ok := rec.state.Registry().GetByEid(eid); ok {
		el, err := resolveElement(ctx, rec.page, entry.BackendNodeID)
		if err == nil {
			return el, false, nil
		}
		if !errors.Is(err, errStaleRef) {
			return nil, false, err
		}
	}

	if err := m.refreshRegistry(ctx, rec); err != nil {
		return nil, true, fmt.Errorf("resolve %s: %w", eid, err)
	}
	entry, ok := rec.state.Registry().GetByEid(eid)
	if !ok {
		return nil, true, fmt.Errorf("unknown eid: %s", eid)
	}
	el, err := resolveElement(ctx, rec.page, entry.BackendNodeID)
	if err != nil {
		return nil, true, fmt.Errorf("element gone: %s", eid)
	}
	return el, true, nil
}

// resolveElement derefs a compiler-stamped ref into a rod handle. A null
// result means the element was collected or detached.
func resolveElement(ctx context.Context, page *rod.Page, ref int) (*rod.Element, error) {
	p := page.Context(ctx)
	res, err := p.Evaluate(&rod.EvalOptions{
		JS: `
		(ref) => {
			const refs = window.__statenerdRefs;
			if (!refs) return null;
			const weak = refs.els.get(ref);
			const el = weak && weak.deref();
			if (!el || !el.isConnected) return null;
			return el;
		}
		`,
		JSArgs: []interface{}{ref},
	})
	if err != nil {
		return nil, fmt.Errorf("resolve ref %d: %w", ref, err)
	}
	if res == nil || res.Type == proto.RuntimeRemoteObjectTypeUndefined ||
		res.Subtype == proto.RuntimeRemoteObjectSubtypeNull {
		return nil, errStaleRef
	}
	return p.ElementFromObject(res)
}

// refreshRegistry re-snapshots the page and reindexes the registry without
// rendering a response, so pending report windows stay unconsumed.
func (m *SessionManager) refreshRegistry(ctx context.Context, rec *sessionRecord) error {
	snapCtx, cancel := context.WithTimeout(ctx, m.cfg.State.SnapshotTimeoutDuration())
	defer cancel()

	snap, err := CaptureSnapshot(snapCtx, rec.page, m.cfg.State.GetMaxSnapshotNodes())
	if err != nil {
		return fmt.Errorf("refresh snapshot: %w", err)
	}
	if err := snap.Validate(); err != nil {
		return err
	}
	rec.state.Registry().UpdateFromSnapshot(snap, state.DetectLayers(snap))
	return nil
}

func (m *SessionManager) perform(ctx context.Context, rec *sessionRecord, element *rod.Element, req ActionRequest, result *ActionResult) error {
	element = element.Context(ctx)
	switch req.Action {
	case ActionClick:
		if err := element.Click("left", 1); err != nil {
			return fmt.Errorf("click: %w", err)
		}

	case ActionFill:
		if err := element.SelectAllText(); err == nil {
			_ = element.Input("")
		}
		if err := element.Input(req.Value); err != nil {
			return fmt.Errorf("fill: %w", err)
		}
		if req.Submit {
			if err := rec.page.Keyboard.Press('\r'); err != nil {
				return fmt.Errorf("submit: %w", err)
			}
		}
		if prop, err := element.Property("value"); err == nil {
			result.Value = prop.Str()
		}

	case ActionSelect:
		tagProp, _ := element.Property("tagName")
		if tagProp.Str() == "SELECT" {
			if err := element.Select([]string{req.Value}, true, "value"); err != nil {
				if err := element.Select([]string{req.Value}, true, "text"); err != nil {
					return fmt.Errorf("option not found: %s", req.Value)
				}
			}
		} else {
			// Custom dropdowns open on click; the options land in the next
			// snapshot as their own actionables.
			if err := element.Click("left", 1); err != nil {
				return fmt.Errorf("select: %w", err)
			}
		}
		if prop, err := element.Property("value"); err == nil {
			result.Value = prop.Str()
		}

	case ActionToggle:
		if err := element.Click("left", 1); err != nil {
			return fmt.Errorf("toggle: %w", err)
		}
		if prop, err := element.Property("checked"); err == nil {
			result.Checked = prop.Bool()
		}

	case ActionClear:
		if err := element.SelectAllText(); err == nil {
			_ = element.Input("")
		}

	case ActionHover:
		if err := element.Hover(); err != nil {
			return fmt.Errorf("hover: %w", err)
		}

	case ActionPress:
		if err := element.Focus(); err != nil {
			return fmt.Errorf("focus: %w", err)
		}
		key, _ := KeyFor(req.Key)
		if err := rec.page.Keyboard.Press(key); err != nil {
			return fmt.Errorf("press %s: %w", req.Key, err)
		}
	}
	return nil
}

func (m *SessionManager) emitActionFact(ctx context.Context, req ActionRequest, outcome string) {
	now := time.Now()
	m.emitFacts(ctx, req.SessionID, []mangle.Fact{{
		Predicate: "action_event",
		Args:      []interface{}{req.SessionID, req.EID, req.Action, outcome, now.UnixMilli()},
		Timestamp: now,
	}})
}

// settle gives the page a beat for synchronous reactions to land before
// the action window is read.
func settle(ctx context.Context) {
	t := time.NewTimer(120 * time.Millisecond)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

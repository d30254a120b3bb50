package browser

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"statenerd-mcp-server/internal/state"

	"github.com/go-rod/rod"
	"github.com/google/uuid"
)

// compileScript walks the live DOM and emits the readable nodes a snapshot
// is built from. It stamps every emitted element with a per-document ref
// (stable across snapshots, recycled only when the element is collected)
// so Go-side code can address elements without holding remote handles.
//
//go:embed compile.js
var compileScript string

// fallbackMaxNodes caps extraction when the caller passes no limit.
const fallbackMaxNodes = 600

// rawNode mirrors compile.js output for one element.
type rawNode struct {
	Ref      int               `json:"ref"`
	Kind     string            `json:"kind"`
	Label    string            `json:"label"`
	Region   string            `json:"region"`
	Box      state.BoundingBox `json:"box"`
	Stacking int               `json:"stacking"`
	Visible  bool              `json:"visible"`
	Enabled  bool              `json:"enabled"`
	Checked  bool              `json:"checked"`
	Selected bool              `json:"selected"`
	Expanded bool              `json:"expanded"`
	Focused  bool              `json:"focused"`
	Required bool              `json:"required"`
	Invalid  bool              `json:"invalid"`
	ReadOnly bool              `json:"readonly"`
	Attrs    map[string]string `json:"attrs"`
}

type rawCapture struct {
	URL      string         `json:"url"`
	Title    string         `json:"title"`
	Total    int            `json:"total"`
	Viewport state.Viewport `json:"viewport"`
	Nodes    []rawNode      `json:"nodes"`
}

// CaptureSnapshot runs the extraction script against the page and compiles
// the result into a snapshot. Zone assignment happens here rather than in
// the page so the grid math lives in one place.
func CaptureSnapshot(ctx context.Context, page *rod.Page, maxNodes int) (*state.Snapshot, error) {
	if maxNodes <= 0 {
		maxNodes = fallbackMaxNodes
	}
	started := time.Now()

	res, err := page.Context(ctx).Evaluate(&rod.EvalOptions{
		JS:           compileScript,
		JSArgs:       []interface{}{maxNodes},
		ByValue:      true,
		AwaitPromise: true,
	})
	if err != nil {
		return nil, fmt.Errorf("compile snapshot: %w", err)
	}
	if res == nil || res.Value.Nil() {
		return nil, errors.New("compile snapshot: no result")
	}

	raw, err := res.Value.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	var capture rawCapture
	if err := json.Unmarshal(raw, &capture); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}

	return compileCapture(capture, started), nil
}

func compileCapture(capture rawCapture, started time.Time) *state.Snapshot {
	snap := &state.Snapshot{
		ID:         uuid.NewString(),
		URL:        capture.URL,
		Title:      capture.Title,
		CapturedAt: started,
		Viewport:   capture.Viewport,
		Nodes:      make([]state.ReadableNode, 0, len(capture.Nodes)),
	}
	for _, rn := range capture.Nodes {
		snap.Nodes = append(snap.Nodes, state.ReadableNode{
			BackendNodeID: rn.Ref,
			Kind:          state.Kind(rn.Kind),
			Label:         rn.Label,
			Region:        rn.Region,
			Box:           rn.Box,
			Zone:          state.ZoneFor(rn.Box, capture.Viewport.Width, capture.Viewport.Height),
			Stacking:      rn.Stacking,
			Visible:       rn.Visible,
			Enabled:       rn.Enabled,
			Checked:       rn.Checked,
			Selected:      rn.Selected,
			Expanded:      rn.Expanded,
			Focused:       rn.Focused,
			Required:      rn.Required,
			Invalid:       rn.Invalid,
			ReadOnly:      rn.ReadOnly,
			Attrs:         rn.Attrs,
		})
	}
	snap.Meta = state.SnapshotMeta{
		NodeCount:  len(snap.Nodes),
		Duration:   time.Since(started),
		TotalFound: capture.Total,
		Truncated:  capture.Total > len(snap.Nodes),
	}
	return snap
}

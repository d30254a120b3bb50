package state

import "time"

// Baseline reasons. first and navigation are the only planned ones; error
// and concurrent_call are downgrades the orchestrator emits instead of
// propagating failures.
const (
	BaselineFirst      = "first"
	BaselineNavigation = "navigation"
	BaselineError      = "error"
	BaselineConcurrent = "concurrent_call"
)

// StateHandle identifies one rendered state: where the page is, which
// document it is, and which layer an agent should act in.
type StateHandle struct {
	SessionID      string    `json:"session_id"`
	Step           int       `json:"step"`
	SnapshotID     string    `json:"snapshot_id,omitempty"`
	URL            string    `json:"url,omitempty"`
	Origin         string    `json:"origin,omitempty"`
	Title          string    `json:"title,omitempty"`
	DocumentID     string    `json:"document_id,omitempty"`
	NavigationType string    `json:"navigation_type"`
	ActiveLayer    Layer     `json:"active_layer"`
	LayerStack     []Layer   `json:"layer_stack"`
	FocusedEID     string    `json:"focused_eid,omitempty"`
	PointerLocked  bool      `json:"pointer_locked,omitempty"`
	CapturedAt     time.Time `json:"captured_at"`
	ContentHash    string    `json:"content_hash,omitempty"`
}

// Baseline is the full-context block sent when no usable prior context
// exists, the document changed, or processing was short-circuited.
type Baseline struct {
	Reason  string `json:"reason"`
	Message string `json:"message,omitempty"`
}

// Actionable is one element exposed as eligible for interaction. Value is
// already masked; Href already sanitized. Ref carries the backend node id
// the action layer targets through the registry.
type Actionable struct {
	EID     string    `json:"eid"`
	Kind    Kind      `json:"kind"`
	Label   string    `json:"label,omitempty"`
	Value   string    `json:"value,omitempty"`
	Href    string    `json:"href,omitempty"`
	Ref     int       `json:"ref"`
	Layer   LayerType `json:"layer"`
	Focused bool      `json:"focused,omitempty"`
	Zone    string    `json:"zone,omitempty"`
}

// Atoms is the viewport/scroll block: the few raw numbers an agent needs
// that have no element to hang off.
type Atoms struct {
	ViewportWidth  int     `json:"viewport_width"`
	ViewportHeight int     `json:"viewport_height"`
	ScrollX        float64 `json:"scroll_x"`
	ScrollY        float64 `json:"scroll_y"`
	PageHeight     float64 `json:"page_height"`
	ScrollPercent  float64 `json:"scroll_percent"`
}

// Counts reports aggregate sizes and whether caps truncated anything.
type Counts struct {
	TotalNodes          int  `json:"total_nodes"`
	EligibleActionables int  `json:"eligible_actionables"`
	ShownActionables    int  `json:"shown_actionables"`
	Observations        int  `json:"observations"`
	LinkedObservations  int  `json:"linked_observations"`
	ConsoleErrors       int  `json:"console_errors,omitempty"`
	Truncated           bool `json:"truncated,omitempty"`
}

// StateResponse is the one composed output per generateResponse call.
// Exactly one of Baseline or Diff is set.
type StateResponse struct {
	Handle       StateHandle   `json:"handle"`
	Baseline     *Baseline     `json:"baseline,omitempty"`
	Diff         *Diff         `json:"diff,omitempty"`
	Actionables  []Actionable  `json:"actionables"`
	Observations []Observation `json:"observations,omitempty"`
	Atoms        Atoms         `json:"atoms"`
	Counts       Counts        `json:"counts"`
}

// IsBaseline reports whether this response carries a baseline block.
func (r *StateResponse) IsBaseline() bool { return r.Baseline != nil }

func atomsFor(vp Viewport) Atoms {
	a := Atoms{
		ViewportWidth:  vp.Width,
		ViewportHeight: vp.Height,
		ScrollX:        vp.ScrollX,
		ScrollY:        vp.ScrollY,
		PageHeight:     vp.PageHeight,
	}
	if vp.PageHeight > float64(vp.Height) {
		a.ScrollPercent = 100 * vp.ScrollY / (vp.PageHeight - float64(vp.Height))
		if a.ScrollPercent > 100 {
			a.ScrollPercent = 100
		}
		if a.ScrollPercent < 0 {
			a.ScrollPercent = 0
		}
	}
	return a
}

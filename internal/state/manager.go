package state

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// ManagerConfig tunes the orchestrator's response shaping.
type ManagerConfig struct {
	// MaxActionables caps the actionable list. Guaranteed entries (the
	// focused element, modal close affordances) are included even past it.
	MaxActionables int
	// AllowedQueryParams is the sanitization allow-list for URLs and hrefs.
	AllowedQueryParams []string
	// ValueTruncateAt caps non-sensitive value hints.
	ValueTruncateAt int
}

func (c ManagerConfig) withDefaults() ManagerConfig {
	if c.MaxActionables <= 0 {
		c.MaxActionables = 20
	}
	if c.ValueTruncateAt <= 0 {
		c.ValueTruncateAt = DefaultValueTruncate
	}
	return c
}

// Manager orchestrates the core per page: it updates the registry, runs
// layer detection and diffing, links pending observations, and renders one
// StateResponse per snapshot. Generation is serialized with an in-flight
// flag plus a one-slot pending buffer, not a queue: racing calls keep only
// the newest snapshot, trading history for always-current truth.
type Manager struct {
	sessionID string
	cfg       ManagerConfig
	log       *zap.Logger
	registry  *Registry
	acc       *Accumulator

	mu       sync.Mutex // guards the fields below; never held across process
	inFlight bool
	pending  *Snapshot
	step     int
	docID    string
	prev     *Snapshot
}

// NewManager builds a per-page manager. The registry and accumulator are
// owned by the page handle and shared with the action layer; the manager
// never outlives them.
func NewManager(sessionID string, registry *Registry, acc *Accumulator, cfg ManagerConfig, log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{
		sessionID: sessionID,
		cfg:       cfg.withDefaults(),
		log:       log,
		registry:  registry,
		acc:       acc,
	}
}

// Registry exposes the page's registry for the action layer.
func (m *Manager) Registry() *Registry { return m.registry }

// Accumulator exposes the page's observation accumulator.
func (m *Manager) Accumulator() *Accumulator { return m.acc }

// Step returns the number of rendered responses so far.
func (m *Manager) Step() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.step
}

// GenerateResponse renders the state for a snapshot. If a generation is
// already in flight the snapshot is parked in the single pending slot
// (overwriting any previous one) and a transient concurrent_call baseline
// returns immediately. When a generation completes and finds a pending
// snapshot, it recurses on it, so the returned response describes the
// newest snapshot available at completion, not necessarily the argument.
// Nothing escapes: failures render as error baselines.
func (m *Manager) GenerateResponse(ctx context.Context, snap *Snapshot) *StateResponse {
	m.mu.Lock()
	if m.inFlight {
		m.pending = snap
		step := m.step
		m.mu.Unlock()
		m.log.Debug("superseding in-flight generation",
			zap.String("session_id", m.sessionID))
		return m.transientBaseline(step, BaselineConcurrent, "")
	}
	m.inFlight = true
	m.mu.Unlock()

	resp := m.process(ctx, snap)

	m.mu.Lock()
	m.inFlight = false
	next := m.pending
	m.pending = nil
	m.mu.Unlock()

	if next != nil {
		return m.GenerateResponse(ctx, next)
	}
	return resp
}

// process runs the pipeline for one snapshot. Expected data-shape gaps
// (empty trees, missing attributes, unlinkable observations) never error;
// anything genuinely unexpected is caught here, once, and downgraded.
func (m *Manager) process(ctx context.Context, snap *Snapshot) (resp *StateResponse) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("state generation panicked",
				zap.String("session_id", m.sessionID), zap.Any("panic", r))
			resp = m.errorBaseline(snap, fmt.Sprintf("internal error: %v", r))
		}
	}()

	if snap == nil {
		return m.errorBaseline(nil, ErrEmptySnapshot.Error())
	}
	if err := snap.Validate(); err != nil {
		return m.errorBaseline(snap, err.Error())
	}

	docID := DocumentID(snap.URL)
	layers := DetectLayers(snap)
	eids := m.registry.UpdateFromSnapshot(snap, layers)

	var observations []Observation
	if m.acc != nil {
		drained, err := m.acc.DrainSinceReport(ctx)
		if err != nil {
			// Observation loss is survivable; the response just goes out
			// without the ephemeral window.
			m.log.Warn("observation drain failed",
				zap.String("session_id", m.sessionID), zap.Error(err))
		} else {
			observations = LinkObservations(drained, BuildLinkIndex(snap.Nodes, eids, layers))
		}
	}

	m.mu.Lock()
	first := m.docID == ""
	navigated := !first && m.docID != docID
	prev := m.prev
	m.mu.Unlock()

	var baseline *Baseline
	var diff *Diff
	navType := "same_document"
	switch {
	case first:
		baseline = &Baseline{Reason: BaselineFirst}
		navType = BaselineFirst
	case navigated:
		baseline = &Baseline{Reason: BaselineNavigation}
		navType = BaselineNavigation
	default:
		diff = ComputeDiff(prev, snap)
	}

	actionables, eligible := m.selectActionables(snap, eids, layers)

	m.mu.Lock()
	m.prev = snap
	m.docID = docID
	m.step++
	step := m.step
	m.mu.Unlock()

	linked := 0
	for _, o := range observations {
		if o.LinkedEID != "" {
			linked++
		}
	}

	resp = &StateResponse{
		Handle: StateHandle{
			SessionID:      m.sessionID,
			Step:           step,
			SnapshotID:     snap.ID,
			URL:            SanitizeURL(snap.URL, m.cfg.AllowedQueryParams),
			Origin:         Origin(snap.URL),
			Title:          snap.Title,
			DocumentID:     docID,
			NavigationType: navType,
			ActiveLayer:    layers.Active(),
			LayerStack:     layers.Layers,
			FocusedEID:     layers.FocusedEID,
			PointerLocked:  layers.PointerLocked,
			CapturedAt:     snap.CapturedAt,
			ContentHash:    snap.ContentHash(),
		},
		Baseline:     baseline,
		Diff:         diff,
		Actionables:  actionables,
		Observations: observations,
		Atoms:        atomsFor(snap.Viewport),
		Counts: Counts{
			TotalNodes:          len(snap.Nodes),
			EligibleActionables: eligible,
			ShownActionables:    len(actionables),
			Observations:        len(observations),
			LinkedObservations:  linked,
			Truncated:           snap.Meta.Truncated || len(actionables) < eligible,
		},
	}

	m.log.Info("state response rendered",
		zap.String("session_id", m.sessionID),
		zap.Int("step", step),
		zap.String("navigation_type", navType),
		zap.String("active_layer", string(layers.Active().Type)),
		zap.Int("nodes", len(snap.Nodes)),
		zap.Int("actionables", len(actionables)),
		zap.Int("observations", len(observations)))
	return resp
}

// Kinds eligible for the actionable list and their base scores.
var actionableKinds = map[Kind]float64{
	KindButton:   3.0,
	KindLink:     2.5,
	KindInput:    2.5,
	KindCheckbox: 2.5,
	KindRadio:    2.5,
	KindSelect:   2.5,
	KindCombobox: 2.5,
	KindTextarea: 2.5,
	KindSearch:   2.5,
	KindSwitch:   2.5,
	KindSlider:   2.0,
	KindTab:      2.0,
	KindMenuItem: 1.5,
	KindOption:   1.2,
}

var closeLabelRe = regexp.MustCompile(`(?i)(^|\b)(close|cancel|dismiss|got it|no thanks|not now)(\b|$)|^[×✕x]$`)

// selectActionables picks the capped actionable list. The focused element
// always rides along, a modal's close and cancel affordances (up to two)
// always ride along, and remaining slots fill by score.
func (m *Manager) selectActionables(snap *Snapshot, eids []string, layers *LayerStack) ([]Actionable, int) {
	type candidate struct {
		idx      int
		score    float64
		focused  bool
		closer   bool
		inActive bool
	}

	active := layers.Active()
	var cands []candidate
	for i, n := range snap.Nodes {
		base, actionable := actionableKinds[n.Kind]
		if !actionable && !n.Focused {
			continue
		}
		if !n.Focused && (!n.Visible || !n.Enabled) {
			continue
		}
		inActive := layers.Contains(n, eids[i])
		score := base
		if n.Label != "" {
			score += 0.5
		}
		if inActive && active.Type != LayerMain {
			score += 2.0
		}
		if n.Box.Y < float64(snap.Viewport.Height) {
			score += 0.5
		}
		closer := active.IsModal && inActive &&
			(closeLabelRe.MatchString(n.Label) || closeLabelRe.MatchString(n.Attr("aria-label")))
		cands = append(cands, candidate{
			idx: i, score: score, focused: n.Focused, closer: closer, inActive: inActive,
		})
	}

	eligible := len(cands)
	sort.SliceStable(cands, func(i, j int) bool {
		return cands[i].score > cands[j].score
	})

	limit := m.cfg.MaxActionables
	picked := make([]int, 0, limit)
	seen := make(map[int]bool)
	add := func(c candidate) {
		if !seen[c.idx] {
			seen[c.idx] = true
			picked = append(picked, c.idx)
		}
	}

	for _, c := range cands {
		if c.focused {
			add(c)
		}
	}
	closers := 0
	for _, c := range cands {
		if c.closer && closers < 2 {
			add(c)
			closers++
		}
	}
	for _, c := range cands {
		if len(picked) >= limit {
			break
		}
		add(c)
	}

	out := make([]Actionable, 0, len(picked))
	for _, idx := range picked {
		n := snap.Nodes[idx]
		layer := LayerMain
		if layers.Contains(n, eids[idx]) {
			layer = active.Type
		}
		out = append(out, Actionable{
			EID:     eids[idx],
			Kind:    n.Kind,
			Label:   displayLabel(n.Label),
			Value:   MaskValue(n, m.cfg.ValueTruncateAt),
			Href:    SanitizeURL(n.Attr("href"), m.cfg.AllowedQueryParams),
			Ref:     n.BackendNodeID,
			Layer:   layer,
			Focused: n.Focused,
			Zone:    n.Zone,
		})
	}
	return out, eligible
}

// transientBaseline renders the concurrent_call retry signal. The step does
// not advance: nothing was processed.
func (m *Manager) transientBaseline(step int, reason, message string) *StateResponse {
	return &StateResponse{
		Handle: StateHandle{
			SessionID:      m.sessionID,
			Step:           step,
			NavigationType: reason,
			ActiveLayer:    baseLayer(),
			LayerStack:     []Layer{baseLayer()},
		},
		Baseline:    &Baseline{Reason: reason, Message: message},
		Actionables: []Actionable{},
	}
}

// errorBaseline converts a failure into a structured response. The step
// advances: the caller observed a rendered (if degraded) state.
func (m *Manager) errorBaseline(snap *Snapshot, message string) *StateResponse {
	m.mu.Lock()
	m.step++
	step := m.step
	m.mu.Unlock()

	h := StateHandle{
		SessionID:      m.sessionID,
		Step:           step,
		NavigationType: BaselineError,
		ActiveLayer:    baseLayer(),
		LayerStack:     []Layer{baseLayer()},
	}
	if snap != nil {
		h.SnapshotID = snap.ID
		h.URL = SanitizeURL(snap.URL, m.cfg.AllowedQueryParams)
		h.Origin = Origin(snap.URL)
		h.Title = snap.Title
		h.CapturedAt = snap.CapturedAt
	}
	return &StateResponse{
		Handle:      h,
		Baseline:    &Baseline{Reason: BaselineError, Message: message},
		Actionables: []Actionable{},
	}
}

func baseLayer() Layer {
	return Layer{Type: LayerMain, Stacking: 0, Confidence: 1}
}

// displayLabel caps labels for the response the same way the extraction
// pipeline caps them for facts.
func displayLabel(label string) string {
	r := []rune(label)
	if len(r) <= 50 {
		return label
	}
	return string(r[:50]) + "..."
}

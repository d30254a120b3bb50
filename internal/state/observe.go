package state

import (
	"context"
	_ "embed"
	"math"
	"strconv"
	"strings"
	"sync"
)

// ObservationKind distinguishes element insertions from removals.
type ObservationKind string

const (
	ObservationAppeared    ObservationKind = "appeared"
	ObservationDisappeared ObservationKind = "disappeared"
)

// Significance weights and the retention threshold, shared between this
// package and the in-page script (rendered into it at install time so the
// two can never disagree). A single semantic signal is enough to retain an
// entry; a single structural one is not.
const (
	WeightSemantic   = 3
	WeightVisual     = 2
	WeightStructural = 1

	SignificanceThreshold = 3
)

// Signal vocabulary emitted by the observer script.
const (
	SignalAlertRole        = "alert-role"
	SignalLiveRegion       = "live-region"
	SignalDialog           = "dialog"
	SignalFixedPosition    = "fixed-position"
	SignalHighStacking     = "high-stacking"
	SignalLargeCoverage    = "large-coverage"
	SignalBodyChild        = "body-child"
	SignalInteractiveChild = "interactive-child"
	SignalInViewport       = "in-viewport"
	SignalHasText          = "has-text"
)

var signalWeights = map[string]int{
	SignalAlertRole:        WeightSemantic,
	SignalLiveRegion:       WeightSemantic,
	SignalDialog:           WeightSemantic,
	SignalFixedPosition:    WeightVisual,
	SignalHighStacking:     WeightVisual,
	SignalLargeCoverage:    WeightVisual,
	SignalBodyChild:        WeightStructural,
	SignalInteractiveChild: WeightStructural,
	SignalInViewport:       WeightStructural,
	SignalHasText:          WeightStructural,
}

// SignificanceScore sums the weights of known signals. Unknown signal names
// count as structural so a script/host vocabulary drift degrades softly
// instead of zeroing entries out.
func SignificanceScore(signals []string) int {
	total := 0
	for _, s := range signals {
		if w, ok := signalWeights[s]; ok {
			total += w
		} else {
			total += WeightStructural
		}
	}
	return total
}

// Observation is one ephemeral mutation record pulled from the page. It
// carries no backend node id; the linker recovers an eid from the tag,
// role, and text signals when it can.
type Observation struct {
	Seq       int64           `json:"seq"`
	Kind      ObservationKind `json:"kind"`
	Tag       string          `json:"tag"`
	Role      string          `json:"role,omitempty"`
	Text      string          `json:"text,omitempty"`
	Signals   []string        `json:"signals,omitempty"`
	Score     int             `json:"score"`
	At        int64           `json:"at"`
	LinkedEID string          `json:"linked_eid,omitempty"`
}

// ObserverBatch is the wire shape the script's read() returns: the script
// epoch, the current head sequence, the entries past the requested cursor,
// and how many retained entries the FIFO cap has evicted so far.
type ObserverBatch struct {
	Epoch   string        `json:"epoch"`
	Head    int64         `json:"head"`
	Entries []Observation `json:"entries"`
	Dropped int           `json:"dropped"`
}

// ScriptBridge is the accumulator's only way to reach the page. The browser
// package implements it over an eval round-trip; tests implement it with a
// fake. Pull-only: the page never pushes into the host.
type ScriptBridge interface {
	Read(ctx context.Context, afterSeq int64) (ObserverBatch, error)
	Reset(ctx context.Context) error
}

// Accumulator owns the host side of observation: two monotonic cursors over
// the script's buffer. The report cursor advances on every drain, giving
// the "since previous report" window; the action cursor is pinned at action
// start and read without advancing anything, giving the "during this
// action" window. The two windows may overlap; that is intentional.
type Accumulator struct {
	mu           sync.Mutex
	bridge       ScriptBridge
	epoch        string
	reportCursor int64
	actionCursor int64
}

// NewAccumulator wires an accumulator to a script bridge.
func NewAccumulator(bridge ScriptBridge) *Accumulator {
	return &Accumulator{bridge: bridge}
}

// DrainSinceReport returns every retained entry recorded since the previous
// drain and advances the report cursor to the buffer head. Entries whose
// recomputed significance falls below the threshold are discarded; the
// script should never send them, but the host does not trust it to.
func (a *Accumulator) DrainSinceReport(ctx context.Context) ([]Observation, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	batch, err := a.readLocked(ctx, a.reportCursor)
	if err != nil {
		return nil, err
	}
	a.reportCursor = batch.Head
	return filterSignificant(batch.Entries), nil
}

// MarkActionStart pins the action cursor at the current buffer head so a
// later ReadSinceAction sees exactly the mutations the action caused.
func (a *Accumulator) MarkActionStart(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	batch, err := a.readLocked(ctx, math.MaxInt64)
	if err != nil {
		return err
	}
	a.actionCursor = batch.Head
	return nil
}

// ReadSinceAction returns entries recorded since MarkActionStart without
// advancing the report cursor, so the next report still sees them.
func (a *Accumulator) ReadSinceAction(ctx context.Context) ([]Observation, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	batch, err := a.readLocked(ctx, a.actionCursor)
	if err != nil {
		return nil, err
	}
	return filterSignificant(batch.Entries), nil
}

// Reset clears the script buffer and both cursors. Called on navigation,
// when the old document's mutations stop meaning anything.
func (a *Accumulator) Reset(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.reportCursor = 0
	a.actionCursor = 0
	a.epoch = ""
	return a.bridge.Reset(ctx)
}

// readLocked pulls one batch, detecting script reinstallation: a changed
// epoch means the buffer and its sequence restarted, so stale cursors would
// silently hide everything. On an epoch change both cursors drop to zero
// and the read repeats from the start of the new buffer.
func (a *Accumulator) readLocked(ctx context.Context, after int64) (ObserverBatch, error) {
	batch, err := a.bridge.Read(ctx, after)
	if err != nil {
		return ObserverBatch{}, err
	}
	if batch.Epoch != a.epoch {
		a.epoch = batch.Epoch
		a.reportCursor = 0
		a.actionCursor = 0
		if after != 0 {
			batch, err = a.bridge.Read(ctx, 0)
			if err != nil {
				return ObserverBatch{}, err
			}
		}
	}
	return batch, nil
}

func filterSignificant(entries []Observation) []Observation {
	out := make([]Observation, 0, len(entries))
	for _, e := range entries {
		if SignificanceScore(e.Signals) >= SignificanceThreshold {
			out = append(out, e)
		}
	}
	return out
}

// ObserverLimits bounds the in-page script's memory: retained-entry FIFO
// size, concurrent shadow-root watchers, and captured text length.
type ObserverLimits struct {
	BufferCap int
	ShadowCap int
	TextCap   int
}

// DefaultObserverLimits returns the caps used when config leaves them zero.
func DefaultObserverLimits() ObserverLimits {
	return ObserverLimits{BufferCap: 64, ShadowCap: 32, TextCap: 120}
}

func (l ObserverLimits) withDefaults() ObserverLimits {
	d := DefaultObserverLimits()
	if l.BufferCap <= 0 {
		l.BufferCap = d.BufferCap
	}
	if l.ShadowCap <= 0 {
		l.ShadowCap = d.ShadowCap
	}
	if l.TextCap <= 0 {
		l.TextCap = d.TextCap
	}
	return l
}

// ObserverGlobal is the window property the installed script hangs its
// read/reset surface on.
const ObserverGlobal = "__statenerdObserver"

//go:embed observer.js
var observerTemplate string

// ObserverScript renders the in-page observer with the given epoch and
// limits plus this package's significance constants baked in.
func ObserverScript(epoch string, limits ObserverLimits) string {
	l := limits.withDefaults()
	return strings.NewReplacer(
		"@EPOCH@", epoch,
		"@SEMANTIC@", strconv.Itoa(WeightSemantic),
		"@VISUAL@", strconv.Itoa(WeightVisual),
		"@STRUCTURAL@", strconv.Itoa(WeightStructural),
		"@THRESHOLD@", strconv.Itoa(SignificanceThreshold),
		"@BUFFER_CAP@", strconv.Itoa(l.BufferCap),
		"@SHADOW_CAP@", strconv.Itoa(l.ShadowCap),
		"@TEXT_CAP@", strconv.Itoa(l.TextCap),
	).Replace(observerTemplate)
}

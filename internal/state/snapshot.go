// Package state implements the page-state tracking core: element identity,
// the per-page element registry, overlay layer detection, snapshot diffing,
// ephemeral mutation observation, and the orchestrator that renders one
// response per snapshot. Nothing in this package performs blocking I/O;
// the only out-call is the observation ScriptBridge, which is injected.
package state

import (
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/zeebo/blake3"
)

// ErrEmptySnapshot is returned by Validate when a snapshot carries no nodes.
// The State Manager downgrades it to an "error" baseline; it never escapes
// the orchestrator.
var ErrEmptySnapshot = errors.New("snapshot contains no nodes")

// Kind is the semantic classification of a node, derived from tag, ARIA
// role, and input type by the snapshot compiler.
type Kind string

const (
	KindButton     Kind = "button"
	KindLink       Kind = "link"
	KindInput      Kind = "input"
	KindCheckbox   Kind = "checkbox"
	KindRadio      Kind = "radio"
	KindSelect     Kind = "select"
	KindCombobox   Kind = "combobox"
	KindTextarea   Kind = "textarea"
	KindSlider     Kind = "slider"
	KindSwitch     Kind = "switch"
	KindSearch     Kind = "search"
	KindTab        Kind = "tab"
	KindMenu       Kind = "menu"
	KindMenuItem   Kind = "menuitem"
	KindOption     Kind = "option"
	KindDialog     Kind = "dialog"
	KindAlert      Kind = "alert"
	KindStatus     Kind = "status"
	KindNavigation Kind = "navigation"
	KindHeading    Kind = "heading"
	KindImage      Kind = "image"
	KindList       Kind = "list"
	KindListItem   Kind = "listitem"
	KindProgress   Kind = "progress"
	KindText       Kind = "text"
	KindGeneric    Kind = "generic"
)

// BoundingBox is a node's layout rectangle in CSS pixels, viewport-relative.
type BoundingBox struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Center returns the box midpoint.
func (b BoundingBox) Center() (float64, float64) {
	return b.X + b.Width/2, b.Y + b.Height/2
}

// Area returns the box area in square pixels.
func (b BoundingBox) Area() float64 {
	if b.Width <= 0 || b.Height <= 0 {
		return 0
	}
	return b.Width * b.Height
}

// ReadableNode is one semantically relevant element as produced by the
// snapshot compiler. Free-form attributes (role, href, value, input type,
// placeholder, name, id, class) live in Attrs so the core stays agnostic
// to what the compiler chooses to surface.
type ReadableNode struct {
	BackendNodeID int         `json:"backend_node_id"`
	Kind          Kind        `json:"kind"`
	Label         string      `json:"label,omitempty"`
	Region        string      `json:"region,omitempty"`
	Box           BoundingBox `json:"box"`
	Zone          string      `json:"zone,omitempty"`
	Stacking      int         `json:"stacking,omitempty"`

	Visible  bool `json:"visible"`
	Enabled  bool `json:"enabled"`
	Checked  bool `json:"checked,omitempty"`
	Selected bool `json:"selected,omitempty"`
	Expanded bool `json:"expanded,omitempty"`
	Focused  bool `json:"focused,omitempty"`
	Required bool `json:"required,omitempty"`
	Invalid  bool `json:"invalid,omitempty"`
	ReadOnly bool `json:"readonly,omitempty"`

	Attrs map[string]string `json:"attrs,omitempty"`
}

// Attr returns a free-form attribute or "".
func (n ReadableNode) Attr(key string) string {
	if n.Attrs == nil {
		return ""
	}
	return n.Attrs[key]
}

// Role returns the node's ARIA role attribute, if captured.
func (n ReadableNode) Role() string { return n.Attr("role") }

// Value returns the node's current value attribute, if captured.
func (n ReadableNode) Value() string { return n.Attr("value") }

// Viewport describes the visible area and scroll position at capture time.
type Viewport struct {
	Width      int     `json:"width"`
	Height     int     `json:"height"`
	ScrollX    float64 `json:"scroll_x"`
	ScrollY    float64 `json:"scroll_y"`
	PageHeight float64 `json:"page_height"`
}

// SnapshotMeta carries capture diagnostics alongside the node list.
type SnapshotMeta struct {
	NodeCount  int           `json:"node_count"`
	Duration   time.Duration `json:"duration"`
	Partial    bool          `json:"partial,omitempty"`
	Truncated  bool          `json:"truncated,omitempty"`
	Warnings   []string      `json:"warnings,omitempty"`
	TotalFound int           `json:"total_found,omitempty"`
}

// Snapshot is one point-in-time capture of a page's semantically relevant
// elements. It is immutable after Validate; the manager retains at most the
// previous one.
type Snapshot struct {
	ID         string         `json:"id"`
	URL        string         `json:"url"`
	Title      string         `json:"title,omitempty"`
	CapturedAt time.Time      `json:"captured_at"`
	Viewport   Viewport       `json:"viewport"`
	Nodes      []ReadableNode `json:"nodes"`
	Meta       SnapshotMeta   `json:"meta"`
}

// Validate checks snapshot health and normalizes obvious gaps in place.
// Nodes without a kind are coerced to generic with a warning rather than
// rejected; an empty node list is the one unrecoverable condition.
func (s *Snapshot) Validate() error {
	if s == nil || len(s.Nodes) == 0 {
		return ErrEmptySnapshot
	}
	coerced := 0
	for i := range s.Nodes {
		if s.Nodes[i].Kind == "" {
			s.Nodes[i].Kind = KindGeneric
			coerced++
		}
	}
	if coerced > 0 {
		s.Meta.Warnings = append(s.Meta.Warnings,
			fmt.Sprintf("%d nodes missing kind, coerced to generic", coerced))
	}
	if s.Meta.NodeCount == 0 {
		s.Meta.NodeCount = len(s.Nodes)
	}
	return nil
}

// ContentHash digests each node's identity inputs and state flags into a
// short stable hash, used by the response handle for change detection
// without shipping node payloads.
func (s *Snapshot) ContentHash() string {
	h := blake3.New()
	for _, n := range s.Nodes {
		fmt.Fprintf(h, "%s\x1f%s\x1f%s\x1f%s\x1f%t%t%t%t%t\x1e",
			n.Kind, NormalizeLabel(n.Label), n.Region, n.Zone,
			n.Visible, n.Enabled, n.Checked, n.Selected, n.Expanded)
	}
	sum := h.Sum(nil)
	return hex.EncodeToString(sum[:8])
}

// DocumentID reduces a URL to its document identity: origin plus path,
// excluding query and fragment, so in-page state changes encoded in the
// query string are never misclassified as navigation.
func DocumentID(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		// Unparseable or scheme-less input: strip query/fragment by hand.
		if i := strings.IndexAny(rawURL, "?#"); i >= 0 {
			return rawURL[:i]
		}
		return rawURL
	}
	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	return u.Scheme + "://" + u.Host + path
}

// Origin returns the scheme://host portion of a URL, or "" when it cannot
// be determined.
func Origin(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}

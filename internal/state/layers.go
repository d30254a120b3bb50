package state

import (
	"regexp"
	"sort"
)

// LayerType classifies an interaction context on the page.
type LayerType string

const (
	LayerMain    LayerType = "main"
	LayerModal   LayerType = "modal"
	LayerDrawer  LayerType = "drawer"
	LayerPopover LayerType = "popover"
)

// Confidence cutoff a node must strictly exceed to become a layer root,
// and the stacking-order bands the signals key off.
const (
	layerCutoff       = 0.6
	stackingVeryHigh  = 1000
	stackingModerate  = 100
	stackingLow       = 10
	largeCoverageFrac = 0.4
)

var (
	modalMarkers   = regexp.MustCompile(`(?i)\b(modal|overlay|backdrop|lightbox|dimmer)`)
	drawerMarkers  = regexp.MustCompile(`(?i)\b(drawer|sidebar|offcanvas|off-canvas|slideout|slide-out)`)
	popoverMarkers = regexp.MustCompile(`(?i)\b(dropdown|popover|tooltip|flyout|menu)`)
)

// Layer is one entry in the overlay stack. Box and Region stay off the wire;
// they exist so membership checks do not need the source snapshot.
type Layer struct {
	Type       LayerType   `json:"type"`
	IsModal    bool        `json:"is_modal"`
	RootEID    string      `json:"root_eid,omitempty"`
	Stacking   int         `json:"stacking"`
	Confidence float64     `json:"confidence"`
	Box        BoundingBox `json:"-"`
	Region     string      `json:"-"`
}

// LayerStack is the ordered result of layer detection. It always holds at
// least the implicit main entry.
type LayerStack struct {
	Layers        []Layer `json:"layers"`
	FocusedEID    string  `json:"focused_eid,omitempty"`
	PointerLocked bool    `json:"pointer_locked,omitempty"`
}

// Active returns the layer an agent should interact with: the stack's last
// entry.
func (s *LayerStack) Active() Layer {
	return s.Layers[len(s.Layers)-1]
}

// HasModal reports whether any entry in the stack is a modal.
func (s *LayerStack) HasModal() bool {
	for _, l := range s.Layers {
		if l.IsModal {
			return true
		}
	}
	return false
}

// Contains reports whether a node belongs to the active layer. For the main
// layer every node qualifies; for an overlay, membership means the node's
// center falls inside the root's box, the node shares the root's region, or
// the node is the root itself.
func (s *LayerStack) Contains(n ReadableNode, eid string) bool {
	active := s.Active()
	if active.Type == LayerMain {
		return true
	}
	if eid != "" && eid == active.RootEID {
		return true
	}
	if active.Region != "" && n.Region == active.Region {
		return true
	}
	cx, cy := n.Box.Center()
	return cx >= active.Box.X && cx <= active.Box.X+active.Box.Width &&
		cy >= active.Box.Y && cy <= active.Box.Y+active.Box.Height
}

// DetectLayers classifies overlay stacking from a single snapshot. Pure:
// same snapshot in, same stack out. Each node is scored against the three
// overlay types with weighted signals; it becomes a layer root only when
// its best accumulated confidence strictly exceeds the cutoff.
func DetectLayers(snap *Snapshot) *LayerStack {
	stack := &LayerStack{
		Layers: []Layer{{Type: LayerMain, Stacking: 0, Confidence: 1}},
	}
	if snap == nil || len(snap.Nodes) == 0 {
		return stack
	}

	eids := AssignEids(snap.Nodes)
	var roots []Layer
	for i, n := range snap.Nodes {
		lt, conf := classifyOverlay(n, snap.Viewport)
		if conf > layerCutoff {
			if conf > 1 {
				conf = 1
			}
			roots = append(roots, Layer{
				Type:       lt,
				IsModal:    lt == LayerModal,
				RootEID:    eids[i],
				Stacking:   n.Stacking,
				Confidence: conf,
				Box:        n.Box,
				Region:     n.Region,
			})
		}
		if n.Focused && stack.FocusedEID == "" {
			stack.FocusedEID = eids[i]
		}
	}

	sort.SliceStable(roots, func(i, j int) bool {
		return roots[i].Stacking < roots[j].Stacking
	})
	// Entries after main run highest to lowest stacking order, so the tail,
	// which Active() returns, is the lowest qualifying overlay when several
	// qualify at once.
	// TODO: confirm whether the topmost overlay should win instead before
	// changing this push order.
	for i := len(roots) - 1; i >= 0; i-- {
		stack.Layers = append(stack.Layers, roots[i])
		if roots[i].IsModal {
			stack.PointerLocked = true
		}
	}
	return stack
}

// classifyOverlay returns the best-scoring overlay type for a node and its
// confidence. Modal wins ties over drawer, drawer over popover.
func classifyOverlay(n ReadableNode, vp Viewport) (LayerType, float64) {
	m := modalConfidence(n, vp)
	d := drawerConfidence(n, vp)
	p := popoverConfidence(n)
	switch {
	case m >= d && m >= p:
		return LayerModal, m
	case d >= p:
		return LayerDrawer, d
	default:
		return LayerPopover, p
	}
}

func modalConfidence(n ReadableNode, vp Viewport) float64 {
	conf := 0.0
	switch n.Role() {
	case "dialog", "alertdialog":
		conf += 0.7
	}
	if n.Attr("aria-modal") == "true" {
		conf += 0.5
	}
	if n.Kind == KindDialog && n.Attr("open") == "true" {
		conf += 0.7
	}
	if matchesMarkers(n, modalMarkers) {
		conf += 0.4
	}
	if vp.Width > 0 && vp.Height > 0 {
		cover := n.Box.Area() / (float64(vp.Width) * float64(vp.Height))
		if cover >= largeCoverageFrac && n.Stacking >= stackingVeryHigh {
			conf += 0.4
		}
	}
	return conf
}

func drawerConfidence(n ReadableNode, vp Viewport) float64 {
	conf := 0.0
	role := n.Role()
	pinnedRole := role == "complementary" || role == "navigation" || n.Kind == KindNavigation
	if pinnedRole && edgePinned(n.Box, vp) && n.Stacking >= stackingModerate {
		conf += 0.7
	}
	if matchesMarkers(n, drawerMarkers) {
		conf += 0.5
	}
	return conf
}

func popoverConfidence(n ReadableNode) float64 {
	if n.Stacking < stackingLow {
		return 0
	}
	conf := 0.0
	switch n.Role() {
	case "menu", "listbox", "tree", "tooltip":
		conf += 0.7
	}
	if matchesMarkers(n, popoverMarkers) {
		conf += 0.5
	}
	return conf
}

// edgePinned reports whether a box hugs a viewport edge with enough extent
// along it to read as a drawer rather than a floating panel.
func edgePinned(b BoundingBox, vp Viewport) bool {
	vw, vh := float64(vp.Width), float64(vp.Height)
	if vw <= 0 || vh <= 0 {
		return false
	}
	const snap = 2.0
	tall := b.Height >= vh/2
	wide := b.Width >= vw/2
	switch {
	case b.X <= snap && tall: // left
		return true
	case b.X+b.Width >= vw-snap && tall: // right
		return true
	case b.Y <= snap && wide: // top
		return true
	case b.Y+b.Height >= vh-snap && wide: // bottom
		return true
	}
	return false
}

func matchesMarkers(n ReadableNode, re *regexp.Regexp) bool {
	if c := n.Attr("class"); c != "" && re.MatchString(c) {
		return true
	}
	if id := n.Attr("id"); id != "" && re.MatchString(id) {
		return true
	}
	return false
}

package state

import "testing"

func viewport1080() Viewport {
	return Viewport{Width: 1920, Height: 1080}
}

func TestDetectLayersMainOnly(t *testing.T) {
	snap := &Snapshot{ID: "s", URL: "https://app.test/", Viewport: viewport1080(), Nodes: []ReadableNode{
		{BackendNodeID: 1, Kind: KindButton, Label: "Save", Visible: true, Enabled: true,
			Box: BoundingBox{X: 10, Y: 10, Width: 80, Height: 30}},
		{BackendNodeID: 2, Kind: KindLink, Label: "Docs", Visible: true, Enabled: true,
			Box: BoundingBox{X: 100, Y: 10, Width: 80, Height: 30}},
	}}
	stack := DetectLayers(snap)
	if len(stack.Layers) != 1 {
		t.Fatalf("expected only the main layer, got %d entries", len(stack.Layers))
	}
	if stack.Active().Type != LayerMain {
		t.Errorf("active = %s, want main", stack.Active().Type)
	}
	if stack.PointerLocked {
		t.Error("pointer lock without a modal")
	}
}

func TestDetectLayersModal(t *testing.T) {
	tests := []struct {
		name string
		node ReadableNode
		want bool
	}{
		{
			"dialog role alone qualifies",
			ReadableNode{Kind: KindDialog, Stacking: 500,
				Box:   BoundingBox{X: 700, Y: 300, Width: 500, Height: 400},
				Attrs: map[string]string{"role": "dialog"}},
			true,
		},
		{
			"aria-modal alone stays below the cutoff",
			ReadableNode{Kind: KindGeneric, Stacking: 500,
				Box:   BoundingBox{X: 700, Y: 300, Width: 500, Height: 400},
				Attrs: map[string]string{"aria-modal": "true"}},
			false,
		},
		{
			"aria-modal plus backdrop class qualifies",
			ReadableNode{Kind: KindGeneric, Stacking: 500,
				Box:   BoundingBox{X: 700, Y: 300, Width: 500, Height: 400},
				Attrs: map[string]string{"aria-modal": "true", "class": "app-modal-backdrop"}},
			true,
		},
		{
			"open native dialog qualifies",
			ReadableNode{Kind: KindDialog, Stacking: 0,
				Box:   BoundingBox{X: 700, Y: 300, Width: 500, Height: 400},
				Attrs: map[string]string{"open": "true"}},
			true,
		},
		{
			"large high-stacking box alone stays below the cutoff",
			ReadableNode{Kind: KindGeneric, Stacking: 5000,
				Box: BoundingBox{X: 0, Y: 0, Width: 1920, Height: 1080}},
			false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snap := &Snapshot{ID: "s", URL: "https://app.test/", Viewport: viewport1080(),
				Nodes: []ReadableNode{tt.node}}
			stack := DetectLayers(snap)
			gotModal := stack.Active().Type == LayerModal
			if gotModal != tt.want {
				t.Errorf("modal detected = %v, want %v (confidence stack %+v)", gotModal, tt.want, stack.Layers)
			}
			if tt.want && !stack.PointerLocked {
				t.Error("modal present but pointer lock not set")
			}
		})
	}
}

func TestDetectLayersMarkerAloneInsufficient(t *testing.T) {
	// An overlay class by itself accumulates 0.4, below the 0.6 cutoff.
	// Plenty of static page chrome carries these class names.
	node := ReadableNode{Kind: KindGeneric, Stacking: 50,
		Box:   BoundingBox{X: 700, Y: 300, Width: 400, Height: 300},
		Attrs: map[string]string{"class": "site-overlay"}}
	snap := &Snapshot{ID: "s", URL: "https://app.test/", Viewport: viewport1080(),
		Nodes: []ReadableNode{node}}
	stack := DetectLayers(snap)
	if len(stack.Layers) != 1 {
		t.Errorf("marker-only confidence 0.4 must not create a layer: %+v", stack.Layers)
	}
}

func TestDetectLayersDrawer(t *testing.T) {
	drawer := ReadableNode{Kind: KindNavigation, Stacking: 300,
		Box:   BoundingBox{X: 0, Y: 0, Width: 320, Height: 1080},
		Attrs: map[string]string{"role": "navigation", "class": "app-drawer"}}
	snap := &Snapshot{ID: "s", URL: "https://app.test/", Viewport: viewport1080(),
		Nodes: []ReadableNode{drawer}}
	stack := DetectLayers(snap)
	if stack.Active().Type != LayerDrawer {
		t.Fatalf("active = %s, want drawer", stack.Active().Type)
	}
	if stack.Active().IsModal {
		t.Error("drawer must not be modal")
	}
	if stack.PointerLocked {
		t.Error("pointer lock is modal-only")
	}
}

func TestDetectLayersPopover(t *testing.T) {
	popover := ReadableNode{Kind: KindMenu, Stacking: 50,
		Box:   BoundingBox{X: 400, Y: 100, Width: 240, Height: 300},
		Attrs: map[string]string{"role": "menu", "class": "account-dropdown"}}
	snap := &Snapshot{ID: "s", URL: "https://app.test/", Viewport: viewport1080(),
		Nodes: []ReadableNode{popover}}
	stack := DetectLayers(snap)
	if stack.Active().Type != LayerPopover {
		t.Fatalf("active = %s, want popover", stack.Active().Type)
	}
}

// Two simultaneous overlays: the stack tail, and therefore the active
// layer, is the LOWER stacking order. Pinned on purpose; see the push
// order in DetectLayers.
func TestDetectLayersLowestOverlayWins(t *testing.T) {
	lower := ReadableNode{BackendNodeID: 1, Kind: KindDialog, Label: "Settings", Stacking: 100,
		Box:   BoundingBox{X: 100, Y: 100, Width: 600, Height: 500},
		Attrs: map[string]string{"role": "dialog"}}
	upper := ReadableNode{BackendNodeID: 2, Kind: KindDialog, Label: "Confirm", Stacking: 9000,
		Box:   BoundingBox{X: 700, Y: 300, Width: 400, Height: 300},
		Attrs: map[string]string{"role": "alertdialog"}}
	snap := &Snapshot{ID: "s", URL: "https://app.test/", Viewport: viewport1080(),
		Nodes: []ReadableNode{upper, lower}}
	stack := DetectLayers(snap)

	if len(stack.Layers) != 3 {
		t.Fatalf("expected main + 2 overlays, got %d", len(stack.Layers))
	}
	if stack.Layers[0].Type != LayerMain {
		t.Errorf("stack head = %s, want main", stack.Layers[0].Type)
	}
	if got := stack.Active().Stacking; got != 100 {
		t.Errorf("active stacking = %d, want the lower overlay (100)", got)
	}
}

func TestDetectLayersFocusedEid(t *testing.T) {
	snap := &Snapshot{ID: "s", URL: "https://app.test/", Viewport: viewport1080(), Nodes: []ReadableNode{
		{BackendNodeID: 1, Kind: KindInput, Label: "Email", Visible: true, Enabled: true,
			Box: BoundingBox{X: 100, Y: 200, Width: 300, Height: 40}},
		{BackendNodeID: 2, Kind: KindInput, Label: "Password", Focused: true, Visible: true, Enabled: true,
			Box: BoundingBox{X: 100, Y: 260, Width: 300, Height: 40}},
	}}
	stack := DetectLayers(snap)
	eids := AssignEids(snap.Nodes)
	if stack.FocusedEID != eids[1] {
		t.Errorf("focused eid = %q, want %q", stack.FocusedEID, eids[1])
	}
}

func TestLayerStackContains(t *testing.T) {
	modalRoot := ReadableNode{BackendNodeID: 1, Kind: KindDialog, Label: "Confirm", Stacking: 1000,
		Region: "dialog:confirm",
		Box:    BoundingBox{X: 700, Y: 300, Width: 500, Height: 400},
		Attrs:  map[string]string{"role": "dialog"}}
	inside := ReadableNode{BackendNodeID: 2, Kind: KindButton, Label: "OK",
		Box: BoundingBox{X: 900, Y: 600, Width: 80, Height: 40}}
	outside := ReadableNode{BackendNodeID: 3, Kind: KindLink, Label: "Home",
		Box: BoundingBox{X: 10, Y: 10, Width: 80, Height: 20}}
	sameRegion := ReadableNode{BackendNodeID: 4, Kind: KindText, Label: "Are you sure?",
		Region: "dialog:confirm",
		Box:    BoundingBox{X: 0, Y: 0, Width: 0, Height: 0}}

	snap := &Snapshot{ID: "s", URL: "https://app.test/", Viewport: viewport1080(),
		Nodes: []ReadableNode{modalRoot, inside, outside, sameRegion}}
	stack := DetectLayers(snap)
	if stack.Active().Type != LayerModal {
		t.Fatalf("expected modal active, got %s", stack.Active().Type)
	}

	eids := AssignEids(snap.Nodes)
	tests := []struct {
		name string
		node ReadableNode
		eid  string
		want bool
	}{
		{"root itself", modalRoot, eids[0], true},
		{"geometric containment", inside, eids[1], true},
		{"outside the box", outside, eids[2], false},
		{"region match without geometry", sameRegion, eids[3], true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := stack.Contains(tt.node, tt.eid); got != tt.want {
				t.Errorf("Contains = %v, want %v", got, tt.want)
			}
		})
	}
}

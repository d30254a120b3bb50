package state

import (
	"encoding/base32"
	"strconv"
	"strings"

	"github.com/zeebo/blake3"
)

// eidEncoding spells fingerprints in lowercase base32 so eids read cleanly
// inside selectors and logs.
var eidEncoding = base32.NewEncoding("abcdefghijklmnopqrstuvwxyz234567").WithPadding(base32.NoPadding)

const eidLength = 6

// Fingerprint derives a node's base eid from its identity inputs: semantic
// kind, normalized label, region context, and coarse screen zone. Raw pixel
// positions are deliberately excluded so minor layout shift does not move
// identity. Missing inputs hash as empty strings; they reduce
// differentiation, which the collision resolver absorbs.
func Fingerprint(kind Kind, label, region, zone string) string {
	key := string(kind) + "\x1f" + NormalizeLabel(label) + "\x1f" +
		strings.ToLower(strings.TrimSpace(region)) + "\x1f" + zone
	sum := blake3.Sum256([]byte(key))
	return eidEncoding.EncodeToString(sum[:5])[:eidLength]
}

// NodeFingerprint is Fingerprint applied to a ReadableNode.
func NodeFingerprint(n ReadableNode) string {
	return Fingerprint(n.Kind, n.Label, n.Region, n.Zone)
}

// AssignEids computes an eid per node, resolving base-fingerprint
// collisions with "-2", "-3", ... suffixes in node-array order. The first
// occurrence keeps the bare fingerprint. The returned slice aligns with
// nodes by index.
func AssignEids(nodes []ReadableNode) []string {
	eids := make([]string, len(nodes))
	seen := make(map[string]int, len(nodes))
	for i, n := range nodes {
		base := NodeFingerprint(n)
		seen[base]++
		if c := seen[base]; c > 1 {
			eids[i] = base + "-" + strconv.Itoa(c)
		} else {
			eids[i] = base
		}
	}
	return eids
}

// NormalizeLabel collapses whitespace, trims, lowercases, and caps a label
// at 40 runes. Both identity and linker text matching go through it so the
// two agree on what "the same label" means.
func NormalizeLabel(s string) string {
	s = strings.ToLower(strings.Join(strings.Fields(s), " "))
	r := []rune(s)
	if len(r) > 40 {
		return string(r[:40])
	}
	return s
}

// ZoneFor buckets a bounding box into a 3x3 viewport grid. Boxes whose
// center falls outside the viewport bucket to "offscreen"; a degenerate
// viewport buckets everything there too.
func ZoneFor(box BoundingBox, viewportWidth, viewportHeight int) string {
	if viewportWidth <= 0 || viewportHeight <= 0 {
		return "offscreen"
	}
	cx, cy := box.Center()
	if cx < 0 || cy < 0 || cx > float64(viewportWidth) || cy > float64(viewportHeight) {
		return "offscreen"
	}
	cols := [3]string{"left", "center", "right"}
	rows := [3]string{"top", "middle", "bottom"}
	col := gridIndex(cx, float64(viewportWidth))
	row := gridIndex(cy, float64(viewportHeight))
	return rows[row] + "-" + cols[col]
}

func gridIndex(v, extent float64) int {
	i := int(v / (extent / 3))
	if i < 0 {
		return 0
	}
	if i > 2 {
		return 2
	}
	return i
}

package state

import (
	"sync"
	"time"
)

// RegistryEntry is the reverse-map record for an eid: enough to re-target
// the element (snapshot + backend node id) plus the node itself and its
// layer membership at registration time.
type RegistryEntry struct {
	EID           string       `json:"eid"`
	SnapshotID    string       `json:"snapshot_id"`
	BackendNodeID int          `json:"backend_node_id"`
	Node          ReadableNode `json:"node"`
	InActiveLayer bool         `json:"in_active_layer"`
	RecordedAt    time.Time    `json:"recorded_at"`
}

type forwardKey struct {
	snapshotID    string
	backendNodeID int
}

// Registry maps element identity both ways for one page: forward from
// (snapshot id, backend node id) to eid, reverse from eid to the latest
// node seen under it. Reverse entries for eids absent from a newer snapshot
// are retained on purpose: the caller resolves staleness by
// re-snapshot-and-retry, and entries live until Clear. The zero eviction
// policy beyond page close is deliberate.
type Registry struct {
	mu         sync.RWMutex
	forward    map[forwardKey]string
	reverse    map[string]RegistryEntry
	generation int
}

// NewRegistry returns an empty per-page registry.
func NewRegistry() *Registry {
	return &Registry{
		forward: make(map[forwardKey]string),
		reverse: make(map[string]RegistryEntry),
	}
}

// UpdateFromSnapshot computes identity for every node and records both
// maps. Must run once per snapshot before any lookup against it. Forward
// entries are write-once: a (snapshot id, backend node id) pair keeps its
// first-assigned eid. Reverse entries overwrite per eid so lookups always
// answer with the newest sighting. Returns the assigned eids aligned with
// snap.Nodes.
func (r *Registry) UpdateFromSnapshot(snap *Snapshot, layers *LayerStack) []string {
	if snap == nil {
		return nil
	}
	eids := AssignEids(snap.Nodes)
	now := time.Now()

	r.mu.Lock()
	defer r.mu.Unlock()
	for i, n := range snap.Nodes {
		fk := forwardKey{snapshotID: snap.ID, backendNodeID: n.BackendNodeID}
		if _, exists := r.forward[fk]; !exists {
			r.forward[fk] = eids[i]
		}
		inActive := layers != nil && layers.Contains(n, eids[i])
		r.reverse[eids[i]] = RegistryEntry{
			EID:           eids[i],
			SnapshotID:    snap.ID,
			BackendNodeID: n.BackendNodeID,
			Node:          n,
			InActiveLayer: inActive,
			RecordedAt:    now,
		}
	}
	r.generation++
	return eids
}

// GetByEid returns the newest entry recorded under an eid. The entry may be
// stale relative to the live DOM; callers detect that by failing to resolve
// the backend node and re-snapshotting.
func (r *Registry) GetByEid(eid string) (RegistryEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.reverse[eid]
	return e, ok
}

// EidByBackendNode answers the forward map for a (snapshot id, backend node
// id) pair. Pairs from superseded snapshots keep answering until Clear.
func (r *Registry) EidByBackendNode(snapshotID string, backendNodeID int) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	eid, ok := r.forward[forwardKey{snapshotID: snapshotID, backendNodeID: backendNodeID}]
	return eid, ok
}

// Clear wipes both maps. Called on page close and on cross-document
// navigation, when every backend node id dies with the old document.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.forward = make(map[forwardKey]string)
	r.reverse = make(map[string]RegistryEntry)
	r.generation++
}

// Count returns the number of distinct eids currently resolvable.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.reverse)
}

// Generation increments on every update or clear; the action layer uses it
// to tell whether a failed resolution raced a registry rebuild.
func (r *Registry) Generation() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.generation
}

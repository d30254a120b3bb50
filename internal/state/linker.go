package state

import "strings"

// Link scoring: a candidate earns the kind base for being in the
// observation's candidate-kind set, bonuses for role and text agreement,
// and a context bonus for sitting in the active layer or being a dialog.
// Only a strict threshold crossing links; a near miss stays unlinked, which
// callers represent as an absent eid, never an error.
const (
	linkKindBase       = 2.0
	linkRoleBonus      = 1.0
	linkExactTextBonus = 2.0
	linkFuzzyMax       = 1.5
	linkContextBonus   = 0.5
	linkThreshold      = 3.0
	linkFuzzyFloor     = 0.6
)

// kindRule maps an observed tag/role pair to the snapshot kinds it could
// have compiled into. Empty tag or role matches anything; rules are
// evaluated in order and the first hit wins, so role rules sit above tag
// rules and the generic fallback closes the table.
type kindRule struct {
	tag   string
	role  string
	kinds []Kind
}

var kindRules = []kindRule{
	{role: "alert", kinds: []Kind{KindAlert, KindStatus, KindDialog, KindGeneric}},
	{role: "status", kinds: []Kind{KindStatus, KindAlert, KindGeneric}},
	{role: "log", kinds: []Kind{KindStatus, KindGeneric}},
	{role: "dialog", kinds: []Kind{KindDialog, KindAlert, KindGeneric}},
	{role: "alertdialog", kinds: []Kind{KindDialog, KindAlert}},
	{role: "button", kinds: []Kind{KindButton}},
	{role: "link", kinds: []Kind{KindLink}},
	{role: "menuitem", kinds: []Kind{KindMenuItem, KindOption}},
	{role: "menu", kinds: []Kind{KindMenu, KindNavigation}},
	{role: "listbox", kinds: []Kind{KindSelect, KindCombobox, KindMenu}},
	{role: "tab", kinds: []Kind{KindTab}},
	{role: "tooltip", kinds: []Kind{KindStatus, KindGeneric}},
	{tag: "button", kinds: []Kind{KindButton}},
	{tag: "a", kinds: []Kind{KindLink}},
	{tag: "input", kinds: []Kind{KindInput, KindCheckbox, KindRadio, KindSearch}},
	{tag: "select", kinds: []Kind{KindSelect, KindCombobox}},
	{tag: "textarea", kinds: []Kind{KindTextarea}},
	{tag: "dialog", kinds: []Kind{KindDialog, KindAlert}},
	{tag: "nav", kinds: []Kind{KindNavigation}},
	{tag: "img", kinds: []Kind{KindImage}},
	{tag: "ul", kinds: []Kind{KindList, KindMenu}},
	{tag: "ol", kinds: []Kind{KindList}},
	{tag: "li", kinds: []Kind{KindListItem, KindMenuItem, KindOption}},
	{tag: "h1", kinds: []Kind{KindHeading}},
	{tag: "h2", kinds: []Kind{KindHeading}},
	{tag: "h3", kinds: []Kind{KindHeading}},
	{tag: "h4", kinds: []Kind{KindHeading}},
	{tag: "h5", kinds: []Kind{KindHeading}},
	{tag: "h6", kinds: []Kind{KindHeading}},
	{kinds: []Kind{KindGeneric, KindText}},
}

// candidateKinds resolves the kinds an observation's tag/role pair could
// appear under in a snapshot.
func candidateKinds(tag, role string) []Kind {
	tag = strings.ToLower(strings.TrimSpace(tag))
	role = strings.ToLower(strings.TrimSpace(role))
	for _, r := range kindRules {
		if r.tag != "" && r.tag != tag {
			continue
		}
		if r.role != "" && r.role != role {
			continue
		}
		return r.kinds
	}
	return []Kind{KindGeneric}
}

// LinkTarget is one snapshot node as the linker sees it: its eid and
// whether it sits in the active layer.
type LinkTarget struct {
	EID           string
	Node          ReadableNode
	InActiveLayer bool
}

// LinkIndex groups a snapshot's nodes by kind for candidate lookup.
type LinkIndex map[Kind][]LinkTarget

// BuildLinkIndex indexes snapshot nodes by kind. The eids slice must align
// with nodes (as returned by Registry.UpdateFromSnapshot or AssignEids), so
// every linked eid is guaranteed to exist in the snapshot used for linking.
func BuildLinkIndex(nodes []ReadableNode, eids []string, layers *LayerStack) LinkIndex {
	idx := make(LinkIndex)
	for i, n := range nodes {
		if i >= len(eids) {
			break
		}
		inActive := layers != nil && layers.Contains(n, eids[i])
		idx[n.Kind] = append(idx[n.Kind], LinkTarget{EID: eids[i], Node: n, InActiveLayer: inActive})
	}
	return idx
}

// LinkObservations tries to recover an eid for each observation and returns
// the observations with LinkedEID filled where a candidate strictly beat
// the threshold. Only appeared observations are considered; a disappeared
// node is absent from the current snapshot by definition.
func LinkObservations(observations []Observation, idx LinkIndex) []Observation {
	out := make([]Observation, len(observations))
	copy(out, observations)
	for i := range out {
		if out[i].Kind != ObservationAppeared {
			continue
		}
		if eid, ok := linkOne(out[i], idx); ok {
			out[i].LinkedEID = eid
		}
	}
	return out
}

func linkOne(ob Observation, idx LinkIndex) (string, bool) {
	var candidates []LinkTarget
	for _, k := range candidateKinds(ob.Tag, ob.Role) {
		candidates = append(candidates, idx[k]...)
	}
	if len(candidates) == 0 {
		return "", false
	}

	obText := NormalizeLabel(ob.Text)
	obRole := strings.ToLower(strings.TrimSpace(ob.Role))

	// The fuzzy bonus only applies when no candidate matches the text
	// exactly; an exact match anywhere disables it for all of them.
	exactExists := false
	if obText != "" {
		for _, c := range candidates {
			if NormalizeLabel(c.Node.Label) == obText {
				exactExists = true
				break
			}
		}
	}

	bestScore := 0.0
	bestEID := ""
	for _, c := range candidates {
		score := linkKindBase
		if obRole != "" && obRole == strings.ToLower(c.Node.Role()) {
			score += linkRoleBonus
		}
		if obText != "" {
			label := NormalizeLabel(c.Node.Label)
			if label == obText {
				score += linkExactTextBonus
			} else if !exactExists && label != "" {
				if sim := textSimilarity(obText, label); sim >= linkFuzzyFloor {
					score += sim * linkFuzzyMax
				}
			}
		}
		if c.InActiveLayer || c.Node.Kind == KindDialog {
			score += linkContextBonus
		}
		if score > bestScore {
			bestScore = score
			bestEID = c.EID
		}
	}
	if bestScore > linkThreshold {
		return bestEID, true
	}
	return "", false
}

// textSimilarity is 1 minus the normalized Levenshtein distance.
func textSimilarity(a, b string) float64 {
	if a == b {
		return 1
	}
	ra, rb := []rune(a), []rune(b)
	longest := len(ra)
	if len(rb) > longest {
		longest = len(rb)
	}
	if longest == 0 {
		return 0
	}
	return 1 - float64(levenshtein(ra, rb))/float64(longest)
}

// levenshtein computes edit distance with the two-row method.
func levenshtein(a, b []rune) int {
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = minInt(curr[j-1]+1, prev[j]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}

func minInt(values ...int) int {
	m := values[0]
	for _, v := range values[1:] {
		if v < m {
			m = v
		}
	}
	return m
}

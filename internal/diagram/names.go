package diagram

import (
	"fmt"
	"strings"
)

// DisplayNames maps identity IDs to the names used in output. A label held
// by exactly one identity is used as-is; when several identities share a
// label, every one of them becomes label_ordinal.
func DisplayNames(ids []NodeIdentity) map[string]string {
	counts := make(map[string]int, len(ids))
	seen := make(map[string]bool, len(ids))
	for _, n := range ids {
		if seen[n.ID] {
			continue
		}
		seen[n.ID] = true
		counts[n.Label]++
	}

	names := make(map[string]string, len(ids))
	for _, n := range ids {
		if counts[n.Label] > 1 {
			names[n.ID] = fmt.Sprintf("%s_%d", n.Label, n.Ordinal)
		} else {
			names[n.ID] = n.Label
		}
	}
	return names
}

// NormalizeLabel folds a label or node reference for loose comparison:
// lowercase, a leading "node_" dropped, underscores as spaces.
func NormalizeLabel(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.TrimPrefix(s, "node_")
	s = strings.ReplaceAll(s, "_", " ")
	return strings.Join(strings.Fields(s), " ")
}

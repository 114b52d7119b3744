package strategy

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/efebarandurmaz/graphsight/internal/diagram"
)

// Mermaid treats these as keywords when used as bare node ids.
var reservedIDs = map[string]bool{
	"end": true, "graph": true, "subgraph": true, "flowchart": true,
	"style": true, "class": true, "click": true, "state": true,
}

// idTable assigns each node a Mermaid-safe identifier derived from its
// display name, keeping identifiers unique.
type idTable struct {
	byID map[string]string
	used map[string]bool
}

func newIDTable(nodes []diagram.NodeRef) *idTable {
	t := &idTable{byID: make(map[string]string, len(nodes)), used: make(map[string]bool, len(nodes))}
	for _, n := range nodes {
		base := mermaidID(n.Name)
		id := base
		for i := 2; t.used[id]; i++ {
			id = fmt.Sprintf("%s_%d", base, i)
		}
		t.used[id] = true
		t.byID[n.ID] = id
	}
	return t
}

func (t *idTable) get(id string) string {
	if v, ok := t.byID[id]; ok {
		return v
	}
	return mermaidID(id)
}

func mermaidID(name string) string {
	var b strings.Builder
	lastUnderscore := false
	for _, r := range name {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			b.WriteRune(r)
			lastUnderscore = false
			continue
		}
		if !lastUnderscore && b.Len() > 0 {
			b.WriteByte('_')
			lastUnderscore = true
		}
	}
	id := strings.TrimRight(b.String(), "_")
	switch {
	case id == "":
		id = "node"
	case unicode.IsDigit(rune(id[0])):
		id = "n_" + id
	}
	if reservedIDs[strings.ToLower(id)] {
		id += "_"
	}
	return id
}

// quoteLabel makes text safe inside a Mermaid ["..."] label.
func quoteLabel(s string) string {
	s = strings.ReplaceAll(s, `"`, "#quot;")
	s = strings.ReplaceAll(s, "\n", " ")
	return `"` + s + `"`
}

// edgeText makes text safe between |pipes| or after a colon.
func edgeText(s string) string {
	s = strings.ReplaceAll(s, "|", "/")
	s = strings.ReplaceAll(s, `"`, "'")
	s = strings.ReplaceAll(s, "\n", " ")
	return strings.TrimSpace(s)
}

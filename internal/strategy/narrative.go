package strategy

import (
	"fmt"
	"strings"

	"github.com/efebarandurmaz/graphsight/internal/diagram"
)

// narrate renders a merged graph as plain prose, one sentence per edge.
func narrate(kind, verb string, raw diagram.RawResult) string {
	names := make(map[string]string, len(raw.Nodes))
	list := make([]string, 0, len(raw.Nodes))
	for _, n := range raw.Nodes {
		names[n.ID] = n.Name
		list = append(list, n.Name)
	}
	name := func(id string) string {
		if n, ok := names[id]; ok {
			return n
		}
		return id
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "This %s has %d %s and %d %s.", kind,
		len(raw.Nodes), plural(len(raw.Nodes), "node", "nodes"),
		len(raw.Edges), plural(len(raw.Edges), "connection", "connections"))
	if len(list) > 0 {
		sb.WriteString(" Nodes: " + strings.Join(list, ", ") + ".")
	}
	for _, e := range raw.Edges {
		sb.WriteString("\n- " + name(e.From) + " " + verb + " " + name(e.To))
		if e.Label != "" {
			sb.WriteString(" (" + e.Label + ")")
		}
		sb.WriteString(".")
	}
	return sb.String()
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}

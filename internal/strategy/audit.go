package strategy

import (
	"sort"
	"strings"

	"github.com/efebarandurmaz/graphsight/internal/diagram"
)

// Auditor is implemented by strategies whose graphs can be re-checked node
// by node once the crawl is over.
type Auditor interface {
	AuditInstructions(claim AuditClaim) string
}

// AuditClaim is what the merged graph currently says about one node.
// Neighbors are display names.
type AuditClaim struct {
	Name     string
	Focus    diagram.Focus
	Incoming []string
	Outgoing []string
}

const auditSchema = `Reply with JSON only:
{"confirmed_incoming": ["name", ...], "confirmed_outgoing": ["name", ...], "notes": "..."}
Use the names given above for known nodes and the visible label for any other.`

func (b base) auditInstructions(what string, c AuditClaim) string {
	var sb strings.Builder
	sb.WriteString("You audit a graph read from this " + what + ". Check the claimed connections of one node against the image.\n\n")
	sb.WriteString("Node: " + c.Name + "\n")
	if c.Focus.Label != "" && c.Focus.Label != c.Name {
		sb.WriteString("Label: " + c.Focus.Label + "\n")
	}
	switch {
	case len(c.Focus.Grid) > 0:
		sb.WriteString("Location: grid " + strings.Join(c.Focus.Grid, ", ") + "\n")
	case !c.Focus.BBox.IsZero():
		sb.WriteString("Location: bbox " + c.Focus.BBox.String() + "\n")
	}
	sb.WriteString("Claimed incoming: " + nameList(c.Incoming) + "\n")
	sb.WriteString("Claimed outgoing: " + nameList(c.Outgoing) + "\n\n")
	sb.WriteString("For each claim, follow the line. Drop it when no line joins the two nodes, or the line stops short or only crosses another.\n")
	sb.WriteString("Add any connection the claims missed, even to a distant node.\n")
	sb.WriteString("Two nodes sitting close together are not connected unless a line joins them.\n\n")
	sb.WriteString(auditSchema)
	return sb.String()
}

func nameList(names []string) string {
	if len(names) == 0 {
		return "(none)"
	}
	sorted := append([]string(nil), names...)
	sort.Strings(sorted)
	return strings.Join(sorted, ", ")
}

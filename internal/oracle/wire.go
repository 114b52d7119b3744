package oracle

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/efebarandurmaz/graphsight/internal/diagram"
	"github.com/efebarandurmaz/graphsight/internal/llmutil"
)

type wireNode struct {
	ID        string    `json:"id"`
	Label     string    `json:"label"`
	BBox      []float64 `json:"bbox"`
	Grid      []string  `json:"grid"`
	GridRefs  []string  `json:"grid_refs"`
	Revisit   bool      `json:"revisit"`
	RevisitOf string    `json:"revisit_of"`
}

type wireEdge struct {
	From  string `json:"from"`
	To    string `json:"to"`
	Label string `json:"label"`
}

type wireFocus struct {
	ID          string    `json:"id"`
	SuggestedID string    `json:"suggested_id,omitempty"`
	Label       string    `json:"label"`
	Description string    `json:"description,omitempty"`
	BBox        []float64 `json:"bbox,omitempty"`
	Grid        []string  `json:"grid,omitempty"`
	GridRefs    []string  `json:"grid_refs,omitempty"`
	EdgeLabel   string    `json:"edge_label,omitempty"`
}

type wireStep struct {
	Nodes     *[]wireNode `json:"nodes"`
	Edges     []wireEdge  `json:"edges"`
	Reasoning string      `json:"reasoning"`
	Next      []wireFocus `json:"next"`
	Terminal  bool        `json:"terminal"`
}

type wireAudit struct {
	ConfirmedIncoming      *[]string `json:"confirmed_incoming"`
	ConfirmedOutgoing      *[]string `json:"confirmed_outgoing"`
	AuditConfirmedIncoming *[]string `json:"audit_confirmed_incoming"`
	AuditConfirmedOutgoing *[]string `json:"audit_confirmed_outgoing"`
	Notes                  string    `json:"notes"`
	AuditNotes             string    `json:"audit_notes"`
}

type wireInitial struct {
	StartNodes []wireFocus `json:"start_nodes"`
	Foci       []wireFocus `json:"foci"`
	Next       []wireFocus `json:"next"`
}

func decodeStep(content string) (*Response, error) {
	var w wireStep
	if err := unmarshal(content, &w); err != nil {
		return nil, err
	}
	if w.Nodes == nil {
		return nil, errors.New(`reply has no "nodes" field`)
	}

	resp := &Response{Reasoning: strings.TrimSpace(w.Reasoning), Terminal: w.Terminal}
	for _, n := range *w.Nodes {
		label := strings.TrimSpace(n.Label)
		if label == "" {
			label = strings.TrimSpace(n.ID)
		}
		resp.Nodes = append(resp.Nodes, diagram.NodeMention{
			Key:       strings.TrimSpace(n.ID),
			Label:     label,
			BBox:      toBBox(n.BBox),
			Grid:      firstNonEmpty(n.Grid, n.GridRefs),
			Revisit:   n.Revisit || n.RevisitOf != "",
			RevisitOf: strings.TrimSpace(n.RevisitOf),
		})
	}
	for _, e := range w.Edges {
		resp.Edges = append(resp.Edges, diagram.EdgeMention{
			From:  strings.TrimSpace(e.From),
			To:    strings.TrimSpace(e.To),
			Label: strings.TrimSpace(e.Label),
		})
	}
	for _, f := range w.Next {
		resp.Next = append(resp.Next, f.focus())
	}
	return resp, nil
}

func decodeAudit(content string) (*Response, error) {
	var w wireAudit
	if err := unmarshal(content, &w); err != nil {
		return nil, err
	}
	out := firstList(w.ConfirmedOutgoing, w.AuditConfirmedOutgoing)
	if out == nil {
		return nil, errors.New(`reply has no "confirmed_outgoing" field`)
	}
	c := &Confirmation{Outgoing: trimAll(*out)}
	if in := firstList(w.ConfirmedIncoming, w.AuditConfirmedIncoming); in != nil {
		c.Incoming = trimAll(*in)
	}
	notes := w.Notes
	if notes == "" {
		notes = w.AuditNotes
	}
	return &Response{Confirmed: c, Reasoning: strings.TrimSpace(notes)}, nil
}

func firstList(lists ...*[]string) *[]string {
	for _, l := range lists {
		if l != nil {
			return l
		}
	}
	return nil
}

// trimAll trims refs and drops empty ones. The result is never nil.
func trimAll(refs []string) []string {
	out := make([]string, 0, len(refs))
	for _, r := range refs {
		if r = strings.TrimSpace(r); r != "" {
			out = append(out, r)
		}
	}
	return out
}

func decodeInitial(content string) (*Response, error) {
	var w wireInitial
	if err := unmarshal(content, &w); err != nil {
		return nil, err
	}
	var foci []wireFocus
	for _, list := range [][]wireFocus{w.StartNodes, w.Foci, w.Next} {
		if len(list) > 0 {
			foci = list
			break
		}
	}
	if len(foci) == 0 {
		return nil, errors.New("reply names no starting nodes")
	}
	resp := &Response{}
	for _, f := range foci {
		resp.Next = append(resp.Next, f.focus())
	}
	return resp, nil
}

func unmarshal(content string, v any) error {
	raw, err := llmutil.ExtractJSON(content)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return fmt.Errorf("decode reply: %w", err)
	}
	return nil
}

func (f wireFocus) focus() diagram.Focus {
	id := strings.TrimSpace(f.ID)
	if id == "" {
		id = strings.TrimSpace(f.SuggestedID)
	}
	label := strings.TrimSpace(f.Label)
	if label == "" {
		label = strings.TrimSpace(f.Description)
	}
	return diagram.Focus{
		ID:          id,
		Label:       label,
		Description: strings.TrimSpace(f.Description),
		BBox:        toBBox(f.BBox),
		Grid:        firstNonEmpty(f.Grid, f.GridRefs),
		EdgeLabel:   strings.TrimSpace(f.EdgeLabel),
	}
}

func focusToWire(f diagram.Focus) wireFocus {
	w := wireFocus{
		ID:          f.ID,
		Label:       f.Label,
		Description: f.Description,
		Grid:        f.Grid,
		EdgeLabel:   f.EdgeLabel,
	}
	if !f.BBox.IsZero() {
		w.BBox = f.BBox[:]
	}
	return w
}

// toBBox accepts only four coordinates and clamps them to 0..1000.
func toBBox(v []float64) diagram.BBox {
	var b diagram.BBox
	if len(v) != 4 {
		return b
	}
	for i, c := range v {
		b[i] = min(max(c, 0), 1000)
	}
	return b
}

func firstNonEmpty(lists ...[]string) []string {
	for _, l := range lists {
		if len(l) > 0 {
			return l
		}
	}
	return nil
}

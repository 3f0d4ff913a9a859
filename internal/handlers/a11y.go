package handlers

import (
	"context"
	"encoding/json"

	"github.com/localcdp/browserd/internal/rpcerr"
	"github.com/localcdp/browserd/internal/session"
)

// A11yParams prune the accessibility tree: a maximum render depth and an
// interactable-only filter.
type A11yParams struct {
	Depth        int  `json:"depth,omitempty"`
	Interactable bool `json:"interactable,omitempty"`
}

// A11yNode is one rendered accessibility node.
type A11yNode struct {
	Role     string      `json:"role"`
	Name     string      `json:"name,omitempty"`
	Value    string      `json:"value,omitempty"`
	Children []*A11yNode `json:"children,omitempty"`
}

type axValue struct {
	Value any `json:"value"`
}

type axNode struct {
	NodeID       string   `json:"nodeId"`
	ParentID     string   `json:"parentId"`
	Ignored      bool     `json:"ignored"`
	Role         *axValue `json:"role"`
	Name         *axValue `json:"name"`
	Value        *axValue `json:"value"`
	ChildIDs     []string `json:"childIds"`
	BackendDOMID *int     `json:"backendDOMNodeId"`
}

// interactableRoles are the AX roles kept when pruning to interactable
// nodes; their ancestors are kept for structure.
var interactableRoles = map[string]bool{
	"button": true, "link": true, "textbox": true, "checkbox": true,
	"radio": true, "combobox": true, "listbox": true, "menuitem": true,
	"tab": true, "slider": true, "switch": true, "searchbox": true,
	"option": true, "spinbutton": true,
}

// A11y fetches the full accessibility tree and renders it depth-limited,
// optionally pruned to interactable nodes and their ancestors.
func (h *H) A11y(ctx context.Context, s *session.Session, p A11yParams) (*A11yNode, error) {
	res, err := s.CallPage(ctx, "Accessibility.getFullAXTree", map[string]any{})
	if err != nil {
		return nil, err
	}
	var tree struct {
		Nodes []axNode `json:"nodes"`
	}
	if err := json.Unmarshal(res, &tree); err != nil {
		return nil, rpcerr.Wrap(rpcerr.ProtocolError, err, "decoding AX tree")
	}
	if len(tree.Nodes) == 0 {
		return &A11yNode{Role: "none"}, nil
	}

	byID := make(map[string]*axNode, len(tree.Nodes))
	for i := range tree.Nodes {
		byID[tree.Nodes[i].NodeID] = &tree.Nodes[i]
	}

	root := &tree.Nodes[0]
	for i := range tree.Nodes {
		if tree.Nodes[i].ParentID == "" {
			root = &tree.Nodes[i]
			break
		}
	}

	maxDepth := p.Depth
	if maxDepth <= 0 {
		maxDepth = 10
	}
	rendered := renderAXNode(root, byID, maxDepth)
	if rendered == nil {
		rendered = &A11yNode{Role: "none"}
	}
	if p.Interactable {
		rendered = pruneToInteractable(rendered)
		if rendered == nil {
			rendered = &A11yNode{Role: "none"}
		}
	}
	s.Touch()
	return rendered, nil
}

func renderAXNode(n *axNode, byID map[string]*axNode, depthLeft int) *A11yNode {
	if n == nil || n.Ignored || depthLeft == 0 {
		return nil
	}
	out := &A11yNode{
		Role: axString(n.Role),
		Name: axString(n.Name),
	}
	if v := axString(n.Value); v != "" {
		out.Value = v
	}
	for _, childID := range n.ChildIDs {
		child := renderAXNode(byID[childID], byID, depthLeft-1)
		if child != nil {
			out.Children = append(out.Children, child)
		}
	}
	return out
}

// pruneToInteractable keeps interactable nodes and any ancestor that
// leads to one.
func pruneToInteractable(n *A11yNode) *A11yNode {
	var kept []*A11yNode
	for _, c := range n.Children {
		if p := pruneToInteractable(c); p != nil {
			kept = append(kept, p)
		}
	}
	if len(kept) == 0 && !interactableRoles[n.Role] {
		return nil
	}
	out := *n
	out.Children = kept
	return &out
}

func axString(v *axValue) string {
	if v == nil {
		return ""
	}
	if s, ok := v.Value.(string); ok {
		return s
	}
	return ""
}

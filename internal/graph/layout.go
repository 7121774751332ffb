package graph

// LayoutOptions sets the pixel spacing between columns and rows.
type LayoutOptions struct {
	ColumnWidth float64 `json:"column_width"`
	RowHeight   float64 `json:"row_height"`
}

// DefaultLayoutOptions matches the canvas card size.
func DefaultLayoutOptions() LayoutOptions {
	return LayoutOptions{ColumnWidth: 320, RowHeight: 240}
}

// PositionedNode is an artifact placed on the canvas grid.
type PositionedNode struct {
	ID       string  `json:"id"`
	Locator  string  `json:"locator"`
	ParentID string  `json:"parent_id,omitempty"`
	Column   int     `json:"column"`
	Row      int     `json:"row"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
}

// Edge connects a parent to an artifact derived from it.
type Edge struct {
	ID     string `json:"id"`
	Source string `json:"source"`
	Target string `json:"target"`
}

// Layout is the positioned forest, nodes and edges in pre-order.
type Layout struct {
	Nodes   []PositionedNode `json:"nodes"`
	Edges   []Edge           `json:"edges"`
	Rows    int              `json:"rows"`
	Columns int              `json:"columns"`
}

// Layout positions the forest using the graph's spacing.
func (g *Graph) Layout() Layout {
	return g.LayoutWith(g.layout)
}

// LayoutWith positions the forest: each root starts a band of rows in column 0,
// children sit one column to the right of their parent stacked on increasing
// rows, and a parent shares the first row of its subtree. A subtree's rows are
// never reused by the next sibling, so sibling subtrees do not overlap.
// The result depends only on the graph contents and insertion order.
func (g *Graph) LayoutWith(opts LayoutOptions) Layout {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := Layout{
		Nodes: make([]PositionedNode, 0, len(g.nodes)),
		Edges: []Edge{},
	}
	cursor := 0
	for _, id := range g.roots {
		_, cursor = g.placeLocked(id, 0, cursor, &out)
	}
	out.Rows = cursor

	for i := range out.Nodes {
		n := &out.Nodes[i]
		n.X = float64(n.Column) * opts.ColumnWidth
		n.Y = float64(n.Row) * opts.RowHeight
		if n.Column+1 > out.Columns {
			out.Columns = n.Column + 1
		}
	}
	return out
}

// placeLocked lays out the subtree rooted at id starting at row cursor. It returns
// the row given to id and the first row free after the subtree.
func (g *Graph) placeLocked(id string, column, cursor int, out *Layout) (row, next int) {
	n := g.nodes[id]
	idx := len(out.Nodes)
	out.Nodes = append(out.Nodes, PositionedNode{
		ID:       id,
		Locator:  n.artifact.Locator,
		ParentID: n.parentID,
		Column:   column,
	})

	if len(n.children) == 0 {
		out.Nodes[idx].Row = cursor
		return cursor, cursor + 1
	}

	row = -1
	next = cursor
	for _, child := range n.children {
		out.Edges = append(out.Edges, Edge{ID: id + "->" + child, Source: id, Target: child})
		var childRow int
		childRow, next = g.placeLocked(child, column+1, next, out)
		if row < 0 || childRow < row {
			row = childRow
		}
	}
	out.Nodes[idx].Row = row
	return row, next
}

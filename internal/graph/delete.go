package graph

import (
	"fmt"
	"sort"

	"github.com/timmy/lookbook/internal/domain"
)

// DeletePolicy decides what happens to the descendants of a deleted artifact.
type DeletePolicy string

const (
	// DeleteCascade removes the artifact and everything derived from it.
	DeleteCascade DeletePolicy = "cascade"
	// DeleteOrphan removes the artifact; its children become roots.
	DeleteOrphan DeletePolicy = "orphan"
	// DeleteReparent removes the artifact; its children take its place under its parent.
	DeleteReparent DeletePolicy = "reparent"
)

// ParseDeletePolicy parses a policy name. The empty string is not accepted.
func ParseDeletePolicy(s string) (DeletePolicy, error) {
	switch p := DeletePolicy(s); p {
	case DeleteCascade, DeleteOrphan, DeleteReparent:
		return p, nil
	}
	return "", fmt.Errorf("unknown delete policy %q (want cascade, orphan or reparent)", s)
}

// DeleteResult reports the effect of a Delete.
type DeleteResult struct {
	Removed    []string          `json:"removed"`
	Reparented []domain.Artifact `json:"reparented,omitempty"`
}

// Delete removes id according to policy.
func (g *Graph) Delete(id string, policy DeletePolicy) (DeleteResult, error) {
	if _, err := ParseDeletePolicy(string(policy)); err != nil {
		return DeleteResult{}, err
	}

	g.mu.Lock()
	n, ok := g.nodes[id]
	if !ok {
		g.mu.Unlock()
		return DeleteResult{}, fmt.Errorf("%w: %s", ErrArtifactNotFound, id)
	}

	var (
		result  DeleteResult
		removed []domain.Artifact
	)
	switch policy {
	case DeleteCascade:
		subtree := g.subtreeLocked(id)
		g.detachLocked(n, id, nil)
		for _, sub := range subtree {
			removed = append(removed, g.nodes[sub].snapshot())
			delete(g.nodes, sub)
		}
		result.Removed = subtree

	case DeleteOrphan:
		g.detachLocked(n, id, nil)
		for _, child := range n.children {
			g.nodes[child].parentID = ""
			result.Reparented = append(result.Reparented, g.nodes[child].snapshot())
		}
		g.roots = append(g.roots, n.children...)
		g.sortLocked(&g.roots)
		removed = append(removed, n.snapshot())
		delete(g.nodes, id)
		result.Removed = []string{id}

	case DeleteReparent:
		g.detachLocked(n, id, n.children)
		for _, child := range n.children {
			g.nodes[child].parentID = n.parentID
			result.Reparented = append(result.Reparented, g.nodes[child].snapshot())
		}
		// Siblings stay in creation order, the order a reload from the store
		// produces.
		g.sortLocked(g.siblingsLocked(n.parentID))
		removed = append(removed, n.snapshot())
		delete(g.nodes, id)
		result.Removed = []string{id}
	}
	g.mu.Unlock()

	events := make([]Event, 0, len(removed)+len(result.Reparented))
	for _, a := range removed {
		events = append(events, Event{Type: EventRemoved, WorkspaceID: g.scope, Artifact: a})
	}
	for _, a := range result.Reparented {
		events = append(events, Event{Type: EventReparented, WorkspaceID: g.scope, Artifact: a})
	}
	g.notify(events...)
	return result, nil
}

// siblingsLocked returns the child list of parentID, or the roots for "".
func (g *Graph) siblingsLocked(parentID string) *[]string {
	if parentID == "" {
		return &g.roots
	}
	return &g.nodes[parentID].children
}

func (g *Graph) sortLocked(list *[]string) {
	sort.SliceStable(*list, func(i, j int) bool {
		return g.nodes[(*list)[i]].seq < g.nodes[(*list)[j]].seq
	})
}

// detachLocked removes id from its parent's child list (or the roots) and splices
// replacement into the same slot.
func (g *Graph) detachLocked(n *node, id string, replacement []string) {
	list := g.siblingsLocked(n.parentID)
	for i, cur := range *list {
		if cur != id {
			continue
		}
		spliced := make([]string, 0, len(*list)-1+len(replacement))
		spliced = append(spliced, (*list)[:i]...)
		spliced = append(spliced, replacement...)
		spliced = append(spliced, (*list)[i+1:]...)
		*list = spliced
		return
	}
}

// Package graph keeps the derivation forest of one workspace: which artifact was
// produced from which. Every artifact has at most one parent and no artifact is
// its own ancestor; both are enforced on insertion.
package graph

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/timmy/lookbook/internal/domain"
)

// EventType names a change to the graph.
type EventType string

const (
	EventRegistered EventType = "artifact.registered"
	EventRemoved    EventType = "artifact.removed"
	EventReparented EventType = "artifact.reparented"
)

// Event is delivered to observers after a mutation is committed.
type Event struct {
	Type        EventType       `json:"type"`
	WorkspaceID string          `json:"workspace_id"`
	Artifact    domain.Artifact `json:"artifact"`
}

// Observer receives graph events. It is called synchronously, outside the graph
// lock, so it may read the graph but should not block.
type Observer func(Event)

type node struct {
	artifact domain.Artifact
	parentID string
	seq      uint64
	children []string
}

func (n *node) snapshot() domain.Artifact {
	a := n.artifact
	a.DerivedFromID = nil
	if n.parentID != "" {
		parent := n.parentID
		a.DerivedFromID = &parent
	}
	return a
}

type subscription struct {
	id int
	fn Observer
}

// Graph owns the artifacts of one workspace. It is safe for concurrent use;
// mutations are serialized.
type Graph struct {
	mu     sync.RWMutex
	scope  string
	nodes  map[string]*node
	roots  []string
	seq    uint64
	layout LayoutOptions

	observers []subscription
	nextObs   int

	newID func() string
	now   func() time.Time
}

// Option configures a Graph.
type Option func(*Graph)

// WithIDGenerator replaces the id source for newly registered artifacts.
func WithIDGenerator(fn func() string) Option {
	return func(g *Graph) { g.newID = fn }
}

// WithClock replaces the clock stamping newly registered artifacts.
func WithClock(now func() time.Time) Option {
	return func(g *Graph) { g.now = now }
}

// WithLayoutOptions sets the spacing used by Layout.
func WithLayoutOptions(opts LayoutOptions) Option {
	return func(g *Graph) { g.layout = opts }
}

// New creates an empty graph for the given workspace.
func New(scope string, opts ...Option) *Graph {
	g := &Graph{
		scope:  scope,
		nodes:  make(map[string]*node),
		layout: DefaultLayoutOptions(),
		newID:  func() string { return uuid.New().String() },
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Scope returns the workspace the graph belongs to.
func (g *Graph) Scope() string {
	return g.scope
}

// RegisterRoot records a newly generated artifact with no parent.
func (g *Graph) RegisterRoot(locator string) domain.Artifact {
	// A root with a fresh id has nothing to violate.
	a, _ := g.Register(domain.Artifact{Locator: locator})
	return a
}

// RegisterDerived records an artifact produced from parentID.
func (g *Graph) RegisterDerived(locator, parentID string) (domain.Artifact, error) {
	return g.Register(domain.Artifact{Locator: locator, DerivedFromID: &parentID})
}

// Register records tmpl under a fresh id. The parent, if any, is taken from
// tmpl.DerivedFromID and must exist.
func (g *Graph) Register(tmpl domain.Artifact) (domain.Artifact, error) {
	tmpl.ID = g.newID()
	if tmpl.CreatedAt.IsZero() {
		tmpl.CreatedAt = g.now()
	}
	if err := g.Insert(tmpl); err != nil {
		return domain.Artifact{}, err
	}
	a, _ := g.Get(tmpl.ID)
	return a, nil
}

// Insert records an artifact whose id was assigned elsewhere, such as a row
// loaded from the database. Parents must be inserted before their children.
func (g *Graph) Insert(a domain.Artifact) error {
	if a.ID == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidArtifact)
	}
	if a.WorkspaceID == "" {
		a.WorkspaceID = g.scope
	}

	g.mu.Lock()
	if g.scope != "" && a.WorkspaceID != g.scope {
		g.mu.Unlock()
		return fmt.Errorf("%w: artifact %s belongs to workspace %q, not %q", ErrInvalidArtifact, a.ID, a.WorkspaceID, g.scope)
	}
	if _, exists := g.nodes[a.ID]; exists {
		g.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrDuplicateArtifact, a.ID)
	}
	parentID := a.ParentID()
	if parentID != "" {
		if err := g.checkParentLocked(a.ID, parentID); err != nil {
			g.mu.Unlock()
			return err
		}
	}

	g.seq++
	n := &node{artifact: a, parentID: parentID, seq: g.seq}
	g.nodes[a.ID] = n
	if parentID == "" {
		g.roots = append(g.roots, a.ID)
	} else {
		parent := g.nodes[parentID]
		parent.children = append(parent.children, a.ID)
	}
	snap := n.snapshot()
	g.mu.Unlock()

	g.notify(Event{Type: EventRegistered, WorkspaceID: g.scope, Artifact: snap})
	return nil
}

// checkParentLocked rejects self-parenting, missing parents and ancestor loops.
func (g *Graph) checkParentLocked(id, parentID string) error {
	if parentID == id {
		return &CycleError{ArtifactID: id, Path: []string{id}}
	}
	if _, ok := g.nodes[parentID]; !ok {
		return &UnknownParentError{ParentID: parentID}
	}
	var path []string
	for cur := parentID; cur != ""; {
		path = append(path, cur)
		if cur == id || len(path) > len(g.nodes) {
			return &CycleError{ArtifactID: id, Path: path}
		}
		n, ok := g.nodes[cur]
		if !ok {
			break
		}
		cur = n.parentID
	}
	return nil
}

// Get returns the artifact with id.
func (g *Graph) Get(id string) (domain.Artifact, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n, ok := g.nodes[id]
	if !ok {
		return domain.Artifact{}, false
	}
	return n.snapshot(), true
}

// Len returns the number of artifacts in the graph.
func (g *Graph) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes)
}

// ChildrenOf returns the artifacts derived directly from id, in insertion order.
// Unknown ids have no children.
func (g *Graph) ChildrenOf(id string) []domain.Artifact {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n, ok := g.nodes[id]
	if !ok {
		return []domain.Artifact{}
	}
	return g.collectLocked(n.children)
}

// Roots returns the artifacts that were not derived from another, in insertion order.
func (g *Graph) Roots() []domain.Artifact {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.collectLocked(g.roots)
}

// Descendants returns everything derived from id, directly or transitively, in
// pre-order.
func (g *Graph) Descendants(id string) []domain.Artifact {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n, ok := g.nodes[id]
	if !ok {
		return []domain.Artifact{}
	}
	out := []domain.Artifact{}
	for _, childID := range n.children {
		for _, sub := range g.subtreeLocked(childID) {
			out = append(out, g.nodes[sub].snapshot())
		}
	}
	return out
}

// Lineage returns id followed by its ancestors up to the root.
func (g *Graph) Lineage(id string) []domain.Artifact {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := []domain.Artifact{}
	for cur := id; cur != ""; {
		n, ok := g.nodes[cur]
		if !ok {
			break
		}
		out = append(out, n.snapshot())
		cur = n.parentID
	}
	return out
}

// Artifacts returns every artifact in insertion order.
func (g *Graph) Artifacts() []domain.Artifact {
	g.mu.RLock()
	defer g.mu.RUnlock()
	all := make([]*node, 0, len(g.nodes))
	for _, n := range g.nodes {
		all = append(all, n)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].seq < all[j].seq })
	out := make([]domain.Artifact, len(all))
	for i, n := range all {
		out[i] = n.snapshot()
	}
	return out
}

func (g *Graph) collectLocked(ids []string) []domain.Artifact {
	out := make([]domain.Artifact, 0, len(ids))
	for _, id := range ids {
		out = append(out, g.nodes[id].snapshot())
	}
	return out
}

// subtreeLocked returns id and its descendants in pre-order.
func (g *Graph) subtreeLocked(id string) []string {
	out := []string{id}
	for _, child := range g.nodes[id].children {
		out = append(out, g.subtreeLocked(child)...)
	}
	return out
}

// Subscribe registers an observer and returns a function that removes it.
func (g *Graph) Subscribe(fn Observer) (cancel func()) {
	g.mu.Lock()
	g.nextObs++
	id := g.nextObs
	g.observers = append(g.observers, subscription{id: id, fn: fn})
	g.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			defer g.mu.Unlock()
			for i, sub := range g.observers {
				if sub.id == id {
					g.observers = append(g.observers[:i:i], g.observers[i+1:]...)
					return
				}
			}
		})
	}
}

func (g *Graph) notify(events ...Event) {
	g.mu.RLock()
	subs := make([]subscription, len(g.observers))
	copy(subs, g.observers)
	g.mu.RUnlock()

	for _, evt := range events {
		for _, sub := range subs {
			sub.fn(evt)
		}
	}
}

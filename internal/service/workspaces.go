package service

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/timmy/lookbook/internal/domain"
	"github.com/timmy/lookbook/internal/graph"
	"github.com/timmy/lookbook/internal/logger"
)

// ArtifactStore persists artifacts.
type ArtifactStore interface {
	Create(ctx context.Context, artifact *domain.Artifact) error
	GetByID(ctx context.Context, id string) (*domain.Artifact, error)
	ListByWorkspace(ctx context.Context, workspaceID string) ([]domain.Artifact, error)
	ApplyDeletion(ctx context.Context, workspaceID string, ids []string, reparented []domain.Artifact) error
}

// lockStripes bounds the number of workspace locks.
const lockStripes = 64

// Workspaces keeps one derivation graph per workspace. Graphs are built from the
// store on first use and kept in an LRU cache; an evicted graph is rebuilt from
// the store the next time it is needed.
//
// Loading a workspace and writing to it through Update take the same lock, so a
// rebuild never reads the store halfway through a write.
type Workspaces struct {
	locks  [lockStripes]sync.Mutex
	cache  *lru.Cache[string, *graph.Graph]
	store  ArtifactStore
	hub    *Hub
	opts   []graph.Option
	logger *logger.Logger
}

// NewWorkspaces creates the workspace cache. hub may be nil.
func NewWorkspaces(store ArtifactStore, hub *Hub, size int, log *logger.Logger, opts ...graph.Option) (*Workspaces, error) {
	if size <= 0 {
		size = 128
	}
	cache, err := lru.New[string, *graph.Graph](size)
	if err != nil {
		return nil, fmt.Errorf("create workspace cache: %w", err)
	}
	return &Workspaces{
		cache:  cache,
		store:  store,
		hub:    hub,
		opts:   opts,
		logger: log,
	}, nil
}

// ValidateWorkspaceID rejects ids that cannot name a workspace.
func ValidateWorkspaceID(id string) error {
	if strings.TrimSpace(id) == "" {
		return invalidf("workspace id is required")
	}
	if len(id) > 128 || strings.ContainsAny(id, "/\\") {
		return invalidf("workspace id %q is not allowed", id)
	}
	return nil
}

// Get returns the graph of workspaceID, loading it if needed. The graph may be
// evicted at any time; callers that change it must use Update.
func (w *Workspaces) Get(ctx context.Context, workspaceID string) (*graph.Graph, error) {
	if err := ValidateWorkspaceID(workspaceID); err != nil {
		return nil, err
	}
	if g, ok := w.cache.Get(workspaceID); ok {
		return g, nil
	}

	l := w.lockFor(workspaceID)
	l.Lock()
	defer l.Unlock()
	return w.getLocked(ctx, workspaceID)
}

// Update runs fn with the graph of workspaceID while holding the workspace lock.
// fn changes the graph and the store together; the graph is not rebuilt from
// the store until fn returns.
func (w *Workspaces) Update(ctx context.Context, workspaceID string, fn func(g *graph.Graph) error) error {
	if err := ValidateWorkspaceID(workspaceID); err != nil {
		return err
	}
	l := w.lockFor(workspaceID)
	l.Lock()
	defer l.Unlock()

	g, err := w.getLocked(ctx, workspaceID)
	if err != nil {
		return err
	}
	return fn(g)
}

func (w *Workspaces) lockFor(workspaceID string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(workspaceID))
	return &w.locks[h.Sum32()%lockStripes]
}

func (w *Workspaces) getLocked(ctx context.Context, workspaceID string) (*graph.Graph, error) {
	if g, ok := w.cache.Get(workspaceID); ok {
		return g, nil
	}
	g, err := w.load(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	if w.hub != nil {
		hub := w.hub
		g.Subscribe(func(evt graph.Event) { hub.Publish(evt) })
	}
	w.cache.Add(workspaceID, g)
	return g, nil
}

// Invalidate drops the cached graph of workspaceID. It does not take the
// workspace lock and may be called from inside Update.
func (w *Workspaces) Invalidate(workspaceID string) {
	w.cache.Remove(workspaceID)
}

// load rebuilds a graph from the stored rows. Rows normally arrive parents first;
// rows whose parent arrives later are retried, and rows whose parent is gone are
// kept as roots.
func (w *Workspaces) load(ctx context.Context, workspaceID string) (*graph.Graph, error) {
	rows, err := w.store.ListByWorkspace(ctx, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("load workspace %s: %w", workspaceID, err)
	}

	g := graph.New(workspaceID, w.opts...)
	pending := rows
	for len(pending) > 0 {
		var deferred []domain.Artifact
		for _, a := range pending {
			err := g.Insert(a)
			var unknown *graph.UnknownParentError
			switch {
			case err == nil:
			case errors.As(err, &unknown):
				deferred = append(deferred, a)
			default:
				return nil, fmt.Errorf("restore artifact %s: %w", a.ID, err)
			}
		}
		if len(deferred) > 0 && len(deferred) == len(pending) {
			// No progress: the first stuck row lost its parent. Its own
			// descendants can attach once it is in.
			a := deferred[0]
			w.logger.WithFields(logger.Fields{
				logger.FieldWorkspaceID: workspaceID,
				logger.FieldArtifactID:  a.ID,
			}).Warnf("Parent %s missing, restoring as root", a.ParentID())
			a.DerivedFromID = nil
			if err := g.Insert(a); err != nil {
				return nil, fmt.Errorf("restore artifact %s: %w", a.ID, err)
			}
			deferred = deferred[1:]
		}
		pending = deferred
	}

	logger.With(logger.Fields{
		logger.FieldWorkspaceID: workspaceID,
		logger.FieldCount:       g.Len(),
	}).Debug(ctx, "Workspace graph loaded")
	return g, nil
}

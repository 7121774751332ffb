package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/timmy/lookbook/internal/domain"
	"github.com/timmy/lookbook/internal/graph"
	"github.com/timmy/lookbook/internal/logger"
	"github.com/timmy/lookbook/internal/poller"
	"github.com/timmy/lookbook/internal/prompts"
	"github.com/timmy/lookbook/internal/repository"
	"golang.org/x/sync/errgroup"
)

// TransportResolver finds the transport for a provider name; "" means the default.
type TransportResolver interface {
	Resolve(name string) (poller.Transport, error)
}

// RunStore persists generation runs.
type RunStore interface {
	Create(ctx context.Context, run *domain.GenerationRun) error
	Update(ctx context.Context, run *domain.GenerationRun) error
	GetByID(ctx context.Context, id string) (*domain.GenerationRun, error)
	ListByWorkspace(ctx context.Context, workspaceID string, limit int) ([]domain.GenerationRun, error)
}

// StudioConfig holds the tunables of the studio service.
type StudioConfig struct {
	Budget                poller.Budget
	DeletePolicy          graph.DeletePolicy
	CrossWorkspaceParents bool
	BatchConcurrency      int
	MaxBatchSize          int
}

// GenerateRequest asks for one image. ParentID names the artifact the job starts
// from; its locator is sent as the source image unless SourceURL is set.
type GenerateRequest struct {
	Provider  string                 `json:"provider,omitempty"`
	Kind      domain.JobKind         `json:"kind"`
	Prompt    string                 `json:"prompt"`
	ParentID  string                 `json:"parent_id,omitempty"`
	SourceURL string                 `json:"source_url,omitempty"`
	Input     map[string]interface{} `json:"input,omitempty"`
}

// GenerateResult is the outcome of a completed generation.
type GenerateResult struct {
	Run      domain.GenerationRun `json:"run"`
	Artifact domain.Artifact      `json:"artifact"`
}

// BatchItem is one entry of a batch result, in request order.
type BatchItem struct {
	Result *GenerateResult `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
	err    error
}

// Err returns the error of a failed item.
func (b BatchItem) Err() error { return b.err }

// Studio runs generations: submit, await, mirror, then record the artifact in
// the workspace graph and the store.
type Studio struct {
	transports TransportResolver
	workspaces *Workspaces
	artifacts  ArtifactStore
	runs       RunStore
	mirror     *Mirror
	cfg        StudioConfig
	pollerOpts []poller.Option

	newID func() string
	now   func() time.Time

	background sync.WaitGroup
}

// StudioOption configures a Studio.
type StudioOption func(*Studio)

// WithPollerOptions passes options to every poller the studio creates.
func WithPollerOptions(opts ...poller.Option) StudioOption {
	return func(s *Studio) { s.pollerOpts = append(s.pollerOpts, opts...) }
}

// WithIDGenerator replaces the id source for artifacts and runs.
func WithIDGenerator(fn func() string) StudioOption {
	return func(s *Studio) { s.newID = fn }
}

// WithClock replaces the studio clock.
func WithClock(now func() time.Time) StudioOption {
	return func(s *Studio) { s.now = now }
}

// NewStudio creates the studio service.
func NewStudio(
	transports TransportResolver,
	workspaces *Workspaces,
	artifacts ArtifactStore,
	runs RunStore,
	mirror *Mirror,
	cfg StudioConfig,
	opts ...StudioOption,
) *Studio {
	if cfg.Budget.MaxAttempts <= 0 {
		cfg.Budget = poller.DefaultBudget()
	}
	if cfg.DeletePolicy == "" {
		cfg.DeletePolicy = graph.DeleteOrphan
	}
	if cfg.BatchConcurrency <= 0 {
		cfg.BatchConcurrency = 4
	}
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = 16
	}
	s := &Studio{
		transports: transports,
		workspaces: workspaces,
		artifacts:  artifacts,
		runs:       runs,
		mirror:     mirror,
		cfg:        cfg,
		newID:      func() string { return uuid.New().String() },
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// job is a validated request ready to submit.
type job struct {
	workspaceID      string
	transport        poller.Transport
	parentID         string // parent inside the workspace graph
	sourceArtifactID string // parent in another workspace, provenance only
	request          domain.JobRequest
}

// Generate runs req to completion and returns the registered artifact.
func (s *Studio) Generate(ctx context.Context, workspaceID string, req GenerateRequest) (*GenerateResult, error) {
	j, err := s.prepare(ctx, workspaceID, req)
	if err != nil {
		return nil, err
	}
	run, err := s.createRun(ctx, j)
	if err != nil {
		return nil, err
	}
	return s.execute(ctx, j, run)
}

// Start validates req, records a run and completes it in the background. The
// run can be followed with Run.
func (s *Studio) Start(ctx context.Context, workspaceID string, req GenerateRequest) (*domain.GenerationRun, error) {
	j, err := s.prepare(ctx, workspaceID, req)
	if err != nil {
		return nil, err
	}
	run, err := s.createRun(ctx, j)
	if err != nil {
		return nil, err
	}
	snapshot := *run

	bg := context.WithoutCancel(ctx)
	s.background.Add(1)
	go func() {
		defer s.background.Done()
		if _, err := s.execute(bg, j, run); err != nil {
			logger.FromContext(bg).WithError(err).WithField(logger.FieldRunID, run.ID).Warn("Background generation failed")
		}
	}()
	return &snapshot, nil
}

// Wait blocks until every generation started with Start has finished.
func (s *Studio) Wait() {
	s.background.Wait()
}

// GenerateBatch runs several requests against one workspace with bounded
// parallelism. Items fail independently; results keep request order.
func (s *Studio) GenerateBatch(ctx context.Context, workspaceID string, reqs []GenerateRequest) ([]BatchItem, error) {
	if len(reqs) == 0 {
		return nil, invalidf("batch is empty")
	}
	if len(reqs) > s.cfg.MaxBatchSize {
		return nil, invalidf("batch of %d exceeds the limit of %d", len(reqs), s.cfg.MaxBatchSize)
	}

	items := make([]BatchItem, len(reqs))
	var eg errgroup.Group
	eg.SetLimit(s.cfg.BatchConcurrency)
	for i := range reqs {
		i := i
		eg.Go(func() error {
			res, err := s.Generate(ctx, workspaceID, reqs[i])
			if err != nil {
				items[i] = BatchItem{Error: err.Error(), err: err}
				return nil
			}
			items[i] = BatchItem{Result: res}
			return nil
		})
	}
	_ = eg.Wait()

	failed := 0
	for _, it := range items {
		if it.err != nil {
			failed++
		}
	}
	logger.With(logger.Fields{
		logger.FieldWorkspaceID: workspaceID,
		logger.FieldCount:       len(reqs),
		"failed":                failed,
	}).Info(ctx, "Batch finished")
	return items, nil
}

// Run returns a generation run.
func (s *Studio) Run(ctx context.Context, id string) (*domain.GenerationRun, error) {
	run, err := s.runs.GetByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return run, err
}

// Runs lists the most recent runs of a workspace.
func (s *Studio) Runs(ctx context.Context, workspaceID string, limit int) ([]domain.GenerationRun, error) {
	if err := ValidateWorkspaceID(workspaceID); err != nil {
		return nil, err
	}
	return s.runs.ListByWorkspace(ctx, workspaceID, limit)
}

// prepare validates req and resolves its transport and parent.
func (s *Studio) prepare(ctx context.Context, workspaceID string, req GenerateRequest) (*job, error) {
	if req.Kind == "" {
		req.Kind = domain.JobKindGenerate
		if req.ParentID != "" || req.SourceURL != "" {
			req.Kind = domain.JobKindEdit
		}
	}
	if !req.Kind.Valid() {
		return nil, invalidf("unknown kind %q", req.Kind)
	}
	req.Prompt = strings.TrimSpace(req.Prompt)
	if req.Prompt == "" && prompts.RequiresPrompt(req.Kind) {
		return nil, invalidf("prompt is required for %s", req.Kind)
	}
	if req.Kind.NeedsSource() && req.ParentID == "" && req.SourceURL == "" {
		return nil, invalidf("%s needs parent_id or source_url", req.Kind)
	}

	transport, err := s.transports.Resolve(req.Provider)
	if err != nil {
		return nil, invalidf("%v", err)
	}
	g, err := s.workspaces.Get(ctx, workspaceID)
	if err != nil {
		return nil, err
	}

	j := &job{
		workspaceID: workspaceID,
		transport:   transport,
		request: domain.JobRequest{
			Kind:      req.Kind,
			Prompt:    req.Prompt,
			SourceURL: req.SourceURL,
			Input:     req.Input,
		},
	}
	if req.ParentID != "" {
		parent, err := s.resolveParent(ctx, g, req.ParentID)
		if err != nil {
			return nil, err
		}
		if parent.WorkspaceID == workspaceID {
			j.parentID = parent.ID
		} else {
			j.sourceArtifactID = parent.ID
		}
		if j.request.SourceURL == "" {
			j.request.SourceURL = parent.Locator
		}
	}
	return j, nil
}

// resolveParent finds parentID in the workspace graph, or in the store when
// cross-workspace parents are allowed.
func (s *Studio) resolveParent(ctx context.Context, g *graph.Graph, parentID string) (domain.Artifact, error) {
	if a, ok := g.Get(parentID); ok {
		return a, nil
	}
	if s.cfg.CrossWorkspaceParents {
		a, err := s.artifacts.GetByID(ctx, parentID)
		if err == nil {
			return *a, nil
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return domain.Artifact{}, fmt.Errorf("look up parent %s: %w", parentID, err)
		}
	}
	return domain.Artifact{}, &graph.UnknownParentError{ParentID: parentID}
}

func (s *Studio) createRun(ctx context.Context, j *job) (*domain.GenerationRun, error) {
	parent := j.parentID
	if parent == "" {
		parent = j.sourceArtifactID
	}
	now := s.now()
	run := &domain.GenerationRun{
		ID:               s.newID(),
		WorkspaceID:      j.workspaceID,
		Provider:         j.transport.Name(),
		Kind:             j.request.Kind,
		Prompt:           j.request.Prompt,
		ParentArtifactID: parent,
		Status:           domain.RunStatusRunning,
		StartedAt:        now,
	}
	if err := s.runs.Create(ctx, run); err != nil {
		return nil, fmt.Errorf("record run: %w", err)
	}
	return run, nil
}

// execute drives a prepared job and always leaves run in a terminal status.
func (s *Studio) execute(ctx context.Context, j *job, run *domain.GenerationRun) (*GenerateResult, error) {
	ctx = logger.WithFields(ctx, logger.Fields{
		logger.FieldWorkspaceID: j.workspaceID,
		logger.FieldRunID:       run.ID,
		logger.FieldProvider:    j.transport.Name(),
	})
	start := s.now()

	artifact, err := s.produce(ctx, j, run)
	s.finishRun(ctx, run, artifact, err)
	if err != nil {
		return nil, err
	}

	logger.With(logger.Fields{
		logger.FieldArtifactID: artifact.ID,
		logger.FieldStatus:     string(run.Status),
	}).WithDuration(s.now().Sub(start)).Info(ctx, "Generation finished")
	return &GenerateResult{Run: *run, Artifact: *artifact}, nil
}

func (s *Studio) produce(ctx context.Context, j *job, run *domain.GenerationRun) (*domain.Artifact, error) {
	p := poller.New(j.transport, s.pollerOpts...)

	handle, err := p.Submit(ctx, j.request)
	if err != nil {
		return nil, err
	}
	run.ExternalJobID = handle.ID
	if err := s.runs.Update(ctx, run); err != nil {
		logger.FromContext(ctx).WithError(err).Warn("Failed to record external job id")
	}
	ctx = logger.SetJobID(ctx, handle.ID)

	result, err := p.AwaitCompletion(ctx, handle, s.cfg.Budget.Interval, s.cfg.Budget.MaxAttempts)
	if err != nil {
		return nil, err
	}
	if result.Status == domain.JobStatusFailed {
		return nil, &JobFailedError{Provider: j.transport.Name(), JobID: result.ID, Reason: result.FailureReason}
	}

	tmpl := domain.Artifact{
		ID:               s.newID(),
		WorkspaceID:      j.workspaceID,
		SourceArtifactID: j.sourceArtifactID,
		Kind:             j.request.Kind,
		Prompt:           j.request.Prompt,
		Provider:         j.transport.Name(),
		JobID:            result.ID,
	}
	if j.parentID != "" {
		parent := j.parentID
		tmpl.DerivedFromID = &parent
	}
	return s.record(ctx, tmpl, result.Result)
}

// record mirrors result, then inserts the artifact into the workspace graph and
// the store. The graph is resolved again here because the one seen at submit
// time may have been evicted while the job ran; the parent is checked again by
// the insert.
func (s *Studio) record(ctx context.Context, a domain.Artifact, result string) (*domain.Artifact, error) {
	img, err := s.mirror.Mirror(ctx, a.WorkspaceID, a.ID, result)
	if err != nil {
		return nil, err
	}
	a.Locator = img.Locator
	a.StorageKey = img.StorageKey
	a.MimeType = img.MimeType
	a.Width = img.Width
	a.Height = img.Height
	a.FileSize = img.Size

	var stored domain.Artifact
	err = s.workspaces.Update(ctx, a.WorkspaceID, func(g *graph.Graph) error {
		// Stamped under the lock so creation order matches insertion order.
		a.CreatedAt = s.now()
		if err := g.Insert(a); err != nil {
			return err
		}
		if err := s.artifacts.Create(ctx, &a); err != nil {
			// Orphan, not cascade: anything attached in the meantime stays.
			if _, derr := g.Delete(a.ID, graph.DeleteOrphan); derr != nil {
				logger.FromContext(ctx).WithError(derr).Error("Failed to roll back graph insert")
			}
			return fmt.Errorf("persist artifact: %w", err)
		}
		stored, _ = g.Get(a.ID)
		return nil
	})
	if err != nil {
		s.discard(ctx, img.StorageKey)
		return nil, err
	}
	return &stored, nil
}

func (s *Studio) discard(ctx context.Context, key string) {
	if err := s.mirror.Remove(ctx, key); err != nil {
		logger.FromContext(ctx).WithError(err).WithField("key", key).Warn("Failed to remove mirrored object")
	}
}

func (s *Studio) finishRun(ctx context.Context, run *domain.GenerationRun, artifact *domain.Artifact, err error) {
	completed := s.now()
	run.CompletedAt = &completed

	var (
		timeout   *poller.PollTimeoutError
		transport *poller.PollTransportError
	)
	switch {
	case err == nil:
		run.Status = domain.RunStatusSucceeded
		run.ArtifactID = artifact.ID
	case errors.As(err, &timeout):
		run.Status = domain.RunStatusTimedOut
		run.Attempts = timeout.Attempts
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		run.Status = domain.RunStatusCanceled
	default:
		run.Status = domain.RunStatusFailed
		if errors.As(err, &transport) {
			run.Attempts = transport.Attempts
		}
	}
	if err != nil {
		run.Error = err.Error()
	}

	// The caller's context may be done; the final status is still written.
	if uerr := s.runs.Update(context.WithoutCancel(ctx), run); uerr != nil {
		logger.FromContext(ctx).WithError(uerr).Error("Failed to record run status")
	}
}

// Register records an image produced outside the studio, such as an upload.
func (s *Studio) Register(ctx context.Context, workspaceID, locator, parentID string) (*domain.Artifact, error) {
	if strings.TrimSpace(locator) == "" {
		return nil, invalidf("locator is required")
	}
	g, err := s.workspaces.Get(ctx, workspaceID)
	if err != nil {
		return nil, err
	}

	tmpl := domain.Artifact{ID: s.newID(), WorkspaceID: workspaceID}
	if parentID != "" {
		parent, err := s.resolveParent(ctx, g, parentID)
		if err != nil {
			return nil, err
		}
		if parent.WorkspaceID == workspaceID {
			tmpl.DerivedFromID = &parent.ID
		} else {
			tmpl.SourceArtifactID = parent.ID
		}
	}
	return s.record(ctx, tmpl, locator)
}

// Artifact returns one artifact of a workspace.
func (s *Studio) Artifact(ctx context.Context, workspaceID, id string) (domain.Artifact, error) {
	g, err := s.workspaces.Get(ctx, workspaceID)
	if err != nil {
		return domain.Artifact{}, err
	}
	a, ok := g.Get(id)
	if !ok {
		return domain.Artifact{}, fmt.Errorf("%w: %s", graph.ErrArtifactNotFound, id)
	}
	return a, nil
}

// Roots returns the artifacts of a workspace that were not derived from another.
func (s *Studio) Roots(ctx context.Context, workspaceID string) ([]domain.Artifact, error) {
	g, err := s.workspaces.Get(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	return g.Roots(), nil
}

// Artifacts returns every artifact of a workspace in creation order.
func (s *Studio) Artifacts(ctx context.Context, workspaceID string) ([]domain.Artifact, error) {
	g, err := s.workspaces.Get(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	return g.Artifacts(), nil
}

// Children returns the artifacts derived directly from id.
func (s *Studio) Children(ctx context.Context, workspaceID, id string) ([]domain.Artifact, error) {
	g, err := s.workspaces.Get(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	return g.ChildrenOf(id), nil
}

// Lineage returns id and its ancestors.
func (s *Studio) Lineage(ctx context.Context, workspaceID, id string) ([]domain.Artifact, error) {
	g, err := s.workspaces.Get(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	if _, ok := g.Get(id); !ok {
		return nil, fmt.Errorf("%w: %s", graph.ErrArtifactNotFound, id)
	}
	return g.Lineage(id), nil
}

// Layout positions the workspace forest for the canvas.
func (s *Studio) Layout(ctx context.Context, workspaceID string) (graph.Layout, error) {
	g, err := s.workspaces.Get(ctx, workspaceID)
	if err != nil {
		return graph.Layout{}, err
	}
	return g.Layout(), nil
}

// DeleteArtifact removes an artifact. An empty policy uses the configured default.
func (s *Studio) DeleteArtifact(ctx context.Context, workspaceID, id, policy string) (graph.DeleteResult, error) {
	p := s.cfg.DeletePolicy
	if policy != "" {
		parsed, err := graph.ParseDeletePolicy(policy)
		if err != nil {
			return graph.DeleteResult{}, invalidf("%v", err)
		}
		p = parsed
	}
	var (
		res  graph.DeleteResult
		keys = make(map[string]string)
	)
	err := s.workspaces.Update(ctx, workspaceID, func(g *graph.Graph) error {
		// Storage keys are gone from the graph after the delete.
		if a, ok := g.Get(id); ok {
			keys[a.ID] = a.StorageKey
			for _, d := range g.Descendants(id) {
				keys[d.ID] = d.StorageKey
			}
		}

		var err error
		res, err = g.Delete(id, p)
		if err != nil {
			return err
		}
		if err := s.artifacts.ApplyDeletion(ctx, workspaceID, res.Removed, res.Reparented); err != nil {
			// The graph is ahead of the store; rebuild it on next use.
			s.workspaces.Invalidate(workspaceID)
			return fmt.Errorf("persist deletion: %w", err)
		}
		return nil
	})
	if err != nil {
		return graph.DeleteResult{}, err
	}
	for _, removed := range res.Removed {
		s.discard(ctx, keys[removed])
	}

	logger.With(logger.Fields{
		logger.FieldWorkspaceID: workspaceID,
		logger.FieldArtifactID:  id,
		logger.FieldCount:       len(res.Removed),
		"policy":                string(p),
	}).Info(ctx, "Artifact deleted")
	return res, nil
}

// Package poller drives a job on an external asynchronous service to a terminal
// status: submit once, then query status at a constant interval until the job
// succeeds, fails, or the attempt budget runs out.
package poller

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/timmy/lookbook/internal/domain"
	"github.com/timmy/lookbook/internal/logger"
)

// Transport talks to one external asynchronous job service.
//
// Implementations wrap ErrRejected into errors that can never succeed on retry.
// Any other error from Status is treated as transient.
type Transport interface {
	// Name identifies the provider in logs and errors.
	Name() string

	// Submit sends a job and returns the service-assigned id and initial status.
	Submit(ctx context.Context, req domain.JobRequest) (domain.Job, error)

	// Status reads the current state of a previously submitted job.
	Status(ctx context.Context, id string) (domain.Job, error)
}

// Sleeper suspends until d elapses or ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// Sleep is the default Sleeper, backed by a timer.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Budget is the caller's explicit wait budget: MaxAttempts status queries spaced
// Interval apart. There is no backoff.
type Budget struct {
	Interval    time.Duration
	MaxAttempts int
}

// DefaultBudget is 60 attempts x 1s, a 60s ceiling.
func DefaultBudget() Budget {
	return Budget{Interval: time.Second, MaxAttempts: 60}
}

// Ceiling is the longest the budget can wait.
func (b Budget) Ceiling() time.Duration {
	return b.Interval * time.Duration(b.MaxAttempts)
}

// JobHandle identifies a submitted job.
type JobHandle struct {
	ID          string
	Provider    string
	Status      domain.JobStatus
	SubmittedAt time.Time

	initial domain.Job
}

// Snapshot returns the job as observed at submission.
func (h *JobHandle) Snapshot() domain.Job {
	return h.initial
}

// Poller submits jobs to one Transport and awaits their completion. It holds no
// mutable state, so any number of AwaitCompletion calls may run concurrently.
type Poller struct {
	transport Transport
	sleep     Sleeper
	now       func() time.Time
}

// Option configures a Poller.
type Option func(*Poller)

// WithSleeper replaces the wait between attempts.
func WithSleeper(s Sleeper) Option {
	return func(p *Poller) { p.sleep = s }
}

// WithClock replaces the clock used to stamp submissions.
func WithClock(now func() time.Time) Option {
	return func(p *Poller) { p.now = now }
}

// New creates a Poller for transport.
func New(transport Transport, opts ...Option) *Poller {
	p := &Poller{
		transport: transport,
		sleep:     Sleep,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Provider returns the transport name.
func (p *Poller) Provider() string {
	return p.transport.Name()
}

// Submit sends req to the external service. Failures are returned as
// *SubmissionError and are not retried.
func (p *Poller) Submit(ctx context.Context, req domain.JobRequest) (*JobHandle, error) {
	job, err := p.transport.Submit(ctx, req)
	if err != nil {
		return nil, &SubmissionError{Provider: p.transport.Name(), Err: err}
	}
	if job.ID == "" {
		return nil, &SubmissionError{
			Provider: p.transport.Name(),
			Err:      fmt.Errorf("%w: response carried no job id", ErrRejected),
		}
	}
	if job.Status == "" {
		job.Status = domain.JobStatusPending
	}
	if job.SubmittedAt.IsZero() {
		job.SubmittedAt = p.now()
	}

	logger.FromContext(ctx).WithFields(logger.Fields{
		logger.FieldProvider: p.transport.Name(),
		logger.FieldJobID:    job.ID,
		logger.FieldStatus:   string(job.Status),
	}).Info("Job submitted")

	return &JobHandle{
		ID:          job.ID,
		Provider:    p.transport.Name(),
		Status:      job.Status,
		SubmittedAt: job.SubmittedAt,
		initial:     job,
	}, nil
}

// AwaitCompletion queries the status of h until it is terminal, issuing at most
// maxAttempts queries spaced interval apart. maxAttempts*interval is the caller's
// timeout budget.
//
// A transient query failure consumes an attempt. A rejection stops the loop with a
// permanent *PollTransportError. If the budget runs out the result is a
// *PollTimeoutError, or a *PollTransportError when the last query failed.
// Cancelling ctx stops the loop before the next query.
func (p *Poller) AwaitCompletion(ctx context.Context, h *JobHandle, interval time.Duration, maxAttempts int) (domain.Job, error) {
	if h == nil {
		return domain.Job{}, errors.New("poller: nil job handle")
	}
	if h.Status.IsTerminal() {
		return h.initial, nil
	}

	log := logger.FromContext(ctx).WithFields(logger.Fields{
		logger.FieldProvider: h.Provider,
		logger.FieldJobID:    h.ID,
	})
	started := p.now()
	last := h.initial
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			if err := p.sleep(ctx, interval); err != nil {
				return domain.Job{}, err
			}
		}
		if err := ctx.Err(); err != nil {
			return domain.Job{}, err
		}

		job, err := p.transport.Status(ctx, h.ID)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return domain.Job{}, ctxErr
			}
			if errors.Is(err, ErrRejected) {
				return domain.Job{}, &PollTransportError{JobID: h.ID, Attempts: attempt, Permanent: true, Err: err}
			}
			log.WithError(err).WithField(logger.FieldAttempts, attempt).Warn("Status query failed, retrying")
			lastErr = err
			continue
		}
		lastErr = nil

		if job.ID == "" {
			job.ID = h.ID
		}
		if job.Status == "" {
			job.Status = domain.JobStatusPending
		}
		job.SubmittedAt = h.SubmittedAt

		if job.Status.IsTerminal() {
			logger.With(logger.Fields{
				logger.FieldStatus:   string(job.Status),
				logger.FieldAttempts: attempt,
			}).WithDuration(p.now().Sub(started)).Info(log.WithContext(ctx), "Job reached terminal status")
			return job, nil
		}
		last = job
		log.WithField(logger.FieldAttempts, attempt).Debug("Job still pending")
	}

	if lastErr != nil {
		return domain.Job{}, &PollTransportError{JobID: h.ID, Attempts: maxAttempts, Err: lastErr}
	}
	return domain.Job{}, &PollTimeoutError{
		JobID:    h.ID,
		Attempts: maxAttempts,
		Budget:   interval * time.Duration(maxAttempts),
		Last:     last,
	}
}

// Run submits req and awaits it within b.
func (p *Poller) Run(ctx context.Context, req domain.JobRequest, b Budget) (domain.Job, error) {
	h, err := p.Submit(ctx, req)
	if err != nil {
		return domain.Job{}, err
	}
	return p.AwaitCompletion(ctx, h, b.Interval, b.MaxAttempts)
}

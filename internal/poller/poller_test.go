package poller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/timmy/lookbook/internal/domain"
)

type step struct {
	job domain.Job
	err error
}

// scriptedTransport answers status queries from a script; the last step repeats.
type scriptedTransport struct {
	mu        sync.Mutex
	submit    step
	script    []step
	calls     int
	onQuery   func(call int)
	submitted []domain.JobRequest
}

func (s *scriptedTransport) Name() string { return "fake" }

func (s *scriptedTransport) Submit(_ context.Context, req domain.JobRequest) (domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.submitted = append(s.submitted, req)
	return s.submit.job, s.submit.err
}

func (s *scriptedTransport) Status(_ context.Context, id string) (domain.Job, error) {
	s.mu.Lock()
	s.calls++
	call := s.calls
	idx := call - 1
	if idx >= len(s.script) {
		idx = len(s.script) - 1
	}
	st := s.script[idx]
	hook := s.onQuery
	s.mu.Unlock()

	if hook != nil {
		hook(call)
	}
	if st.err != nil {
		return domain.Job{}, st.err
	}
	job := st.job
	job.ID = id
	return job, nil
}

func (s *scriptedTransport) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type recordingSleeper struct {
	mu    sync.Mutex
	slept []time.Duration
}

func (r *recordingSleeper) Sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.slept = append(r.slept, d)
	r.mu.Unlock()
	return ctx.Err()
}

func pending() step { return step{job: domain.Job{Status: domain.JobStatusPending}} }

func succeeded(result string) step {
	return step{job: domain.Job{Status: domain.JobStatusSucceeded, Result: result}}
}

func pendingHandle(id string) *JobHandle {
	return &JobHandle{
		ID:       id,
		Provider: "fake",
		Status:   domain.JobStatusPending,
		initial:  domain.Job{ID: id, Status: domain.JobStatusPending},
	}
}

func TestAwaitCompletion_ConvergesAfterPending(t *testing.T) {
	testCases := []struct {
		name        string
		pendingFor  int
		maxAttempts int
	}{
		{name: "immediate", pendingFor: 0, maxAttempts: 1},
		{name: "three pending", pendingFor: 3, maxAttempts: 5},
		{name: "last attempt", pendingFor: 9, maxAttempts: 10},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			tr := &scriptedTransport{}
			for i := 0; i < tc.pendingFor; i++ {
				tr.script = append(tr.script, pending())
			}
			tr.script = append(tr.script, succeeded("artifact://done"))

			sleeper := &recordingSleeper{}
			p := New(tr, WithSleeper(sleeper.Sleep))

			job, err := p.AwaitCompletion(context.Background(), pendingHandle("job-1"), 250*time.Millisecond, tc.maxAttempts)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if job.Status != domain.JobStatusSucceeded {
				t.Errorf("status = %s, want succeeded", job.Status)
			}
			if job.Result != "artifact://done" {
				t.Errorf("result = %q, want artifact://done", job.Result)
			}
			if got, want := tr.Calls(), tc.pendingFor+1; got != want {
				t.Errorf("status queries = %d, want %d", got, want)
			}
			if got, want := len(sleeper.slept), tc.pendingFor; got != want {
				t.Errorf("sleeps = %d, want %d", got, want)
			}
			for _, d := range sleeper.slept {
				if d != 250*time.Millisecond {
					t.Errorf("slept %s, want constant 250ms", d)
				}
			}
		})
	}
}

func TestAwaitCompletion_TimeoutAfterExactlyMaxAttempts(t *testing.T) {
	for _, n := range []int{1, 2, 7} {
		t.Run(fmt.Sprintf("max=%d", n), func(t *testing.T) {
			tr := &scriptedTransport{script: []step{pending()}}
			sleeper := &recordingSleeper{}
			p := New(tr, WithSleeper(sleeper.Sleep))

			_, err := p.AwaitCompletion(context.Background(), pendingHandle("job-slow"), time.Second, n)

			var timeout *PollTimeoutError
			if !errors.As(err, &timeout) {
				t.Fatalf("expected PollTimeoutError, got %v", err)
			}
			if tr.Calls() != n {
				t.Errorf("status queries = %d, want %d", tr.Calls(), n)
			}
			if timeout.Attempts != n {
				t.Errorf("attempts = %d, want %d", timeout.Attempts, n)
			}
			if timeout.Budget != time.Duration(n)*time.Second {
				t.Errorf("budget = %s, want %s", timeout.Budget, time.Duration(n)*time.Second)
			}
			if len(sleeper.slept) != n-1 {
				t.Errorf("sleeps = %d, want %d", len(sleeper.slept), n-1)
			}
		})
	}
}

func TestAwaitCompletion_FailedIsTerminal(t *testing.T) {
	tr := &scriptedTransport{script: []step{
		pending(),
		{job: domain.Job{Status: domain.JobStatusFailed, FailureReason: "NSFW content detected"}},
	}}
	p := New(tr, WithSleeper((&recordingSleeper{}).Sleep))

	job, err := p.AwaitCompletion(context.Background(), pendingHandle("job-2"), time.Second, 10)
	if err != nil {
		t.Fatalf("a failed job is a result, not an error: %v", err)
	}
	if job.Status != domain.JobStatusFailed || job.FailureReason != "NSFW content detected" {
		t.Errorf("unexpected job: %+v", job)
	}
	if tr.Calls() != 2 {
		t.Errorf("status queries = %d, want 2", tr.Calls())
	}
}

func TestAwaitCompletion_TransientErrorsConsumeAttempts(t *testing.T) {
	flaky := errors.New("connection reset by peer")

	t.Run("recovers", func(t *testing.T) {
		tr := &scriptedTransport{script: []step{{err: flaky}, {err: flaky}, succeeded("artifact://x")}}
		p := New(tr, WithSleeper((&recordingSleeper{}).Sleep))

		job, err := p.AwaitCompletion(context.Background(), pendingHandle("job-3"), time.Second, 3)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if job.Result != "artifact://x" {
			t.Errorf("result = %q", job.Result)
		}
		if tr.Calls() != 3 {
			t.Errorf("status queries = %d, want 3", tr.Calls())
		}
	})

	t.Run("budget ends on error", func(t *testing.T) {
		tr := &scriptedTransport{script: []step{pending(), {err: flaky}}}
		p := New(tr, WithSleeper((&recordingSleeper{}).Sleep))

		_, err := p.AwaitCompletion(context.Background(), pendingHandle("job-4"), time.Second, 4)
		var transport *PollTransportError
		if !errors.As(err, &transport) {
			t.Fatalf("expected PollTransportError, got %v", err)
		}
		if transport.Permanent {
			t.Error("transient failure must not be marked permanent")
		}
		if !errors.Is(err, flaky) {
			t.Error("expected last transport error in the chain")
		}
		if tr.Calls() != 4 {
			t.Errorf("status queries = %d, want 4", tr.Calls())
		}
	})
}

func TestAwaitCompletion_RejectionAbortsImmediately(t *testing.T) {
	rejected := fmt.Errorf("HTTP 404: %w", ErrRejected)
	tr := &scriptedTransport{script: []step{pending(), {err: rejected}, succeeded("never")}}
	p := New(tr, WithSleeper((&recordingSleeper{}).Sleep))

	_, err := p.AwaitCompletion(context.Background(), pendingHandle("job-5"), time.Second, 10)
	var transport *PollTransportError
	if !errors.As(err, &transport) {
		t.Fatalf("expected PollTransportError, got %v", err)
	}
	if !transport.Permanent {
		t.Error("expected permanent error")
	}
	if tr.Calls() != 2 {
		t.Errorf("status queries = %d, want 2", tr.Calls())
	}
}

func TestAwaitCompletion_TerminalHandleSkipsQueries(t *testing.T) {
	tr := &scriptedTransport{script: []step{pending()}}
	p := New(tr)

	h := &JobHandle{
		ID:      "sync-1",
		Status:  domain.JobStatusSucceeded,
		initial: domain.Job{ID: "sync-1", Status: domain.JobStatusSucceeded, Result: "data:image/png;base64,AA=="},
	}
	job, err := p.AwaitCompletion(context.Background(), h, time.Second, 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if job.Result == "" {
		t.Error("expected result from handle snapshot")
	}
	if tr.Calls() != 0 {
		t.Errorf("status queries = %d, want 0", tr.Calls())
	}
}

func TestAwaitCompletion_CancelStopsBeforeNextQuery(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tr := &scriptedTransport{script: []step{pending()}}
	tr.onQuery = func(call int) {
		if call == 2 {
			cancel()
		}
	}
	p := New(tr)

	_, err := p.AwaitCompletion(ctx, pendingHandle("job-6"), time.Millisecond, 100)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if tr.Calls() != 2 {
		t.Errorf("status queries = %d, want 2", tr.Calls())
	}
}

func TestAwaitCompletion_ConcurrentJobsAreIndependent(t *testing.T) {
	tr := &scriptedTransport{script: []step{pending(), pending(), succeeded("artifact://shot")}}
	p := New(tr, WithSleeper((&recordingSleeper{}).Sleep))

	const jobs = 8
	var wg sync.WaitGroup
	errs := make(chan error, jobs)
	for i := 0; i < jobs; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("shot-%d", i)
			job, err := p.AwaitCompletion(context.Background(), pendingHandle(id), time.Second, 1000)
			if err != nil {
				errs <- err
				return
			}
			if job.ID != id {
				errs <- fmt.Errorf("job id = %s, want %s", job.ID, id)
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

func TestSubmit(t *testing.T) {
	t.Run("wraps failures", func(t *testing.T) {
		tr := &scriptedTransport{submit: step{err: fmt.Errorf("HTTP 401: %w", ErrRejected)}}
		_, err := New(tr).Submit(context.Background(), domain.JobRequest{Kind: domain.JobKindGenerate, Prompt: "red t-shirt"})

		var sub *SubmissionError
		if !errors.As(err, &sub) {
			t.Fatalf("expected SubmissionError, got %v", err)
		}
		if !sub.Rejected() {
			t.Error("expected Rejected() for a definitive refusal")
		}
		if sub.Provider != "fake" {
			t.Errorf("provider = %q", sub.Provider)
		}
	})

	t.Run("fills defaults", func(t *testing.T) {
		at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
		tr := &scriptedTransport{submit: step{job: domain.Job{ID: "job-9"}}}
		h, err := New(tr, WithClock(func() time.Time { return at })).Submit(context.Background(), domain.JobRequest{Kind: domain.JobKindGenerate})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if h.Status != domain.JobStatusPending {
			t.Errorf("status = %s, want pending", h.Status)
		}
		if !h.SubmittedAt.Equal(at) {
			t.Errorf("submitted at = %s, want %s", h.SubmittedAt, at)
		}
	})

	t.Run("missing id", func(t *testing.T) {
		tr := &scriptedTransport{submit: step{job: domain.Job{Status: domain.JobStatusPending}}}
		_, err := New(tr).Submit(context.Background(), domain.JobRequest{Kind: domain.JobKindGenerate})
		var sub *SubmissionError
		if !errors.As(err, &sub) {
			t.Fatalf("expected SubmissionError, got %v", err)
		}
	})
}

func TestBudgetCeiling(t *testing.T) {
	if got := DefaultBudget().Ceiling(); got != 60*time.Second {
		t.Errorf("ceiling = %s, want 60s", got)
	}
}

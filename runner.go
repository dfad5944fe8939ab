package autotrail

import (
	"context"
	"math"
	"sync"

	"golang.org/x/sync/semaphore"
)

// completion is what a worker goroutine reports back to the Server's event
// loop when a step's action function returns.
type completion struct {
	stepID string
	runID  string
	result Result
}

// Runner is the worker pool: it launches step actions as goroutines bounded
// by a weighted semaphore (max_parallel_workers, spec.md §6) and funnels
// their outcomes onto a single channel the event loop drains every tick.
// Grounded on the done-channel/launch-goroutine shape of the teacher's
// reactive DAG runner, generalized to a bounded pool via
// golang.org/x/sync/semaphore instead of an always-unbounded goroutine per
// ready step.
type Runner struct {
	sem         *semaphore.Weighted
	completions chan completion
	userContext any
	wg          sync.WaitGroup
}

// unboundedWeight is used when max_parallel_workers is configured as 0
// ("unbounded"): a semaphore this wide never actually blocks an Acquire.
const unboundedWeight = math.MaxInt64

// NewRunner creates a Runner. maxParallel <= 0 means unbounded concurrency.
// userContext is the opaque value forwarded to every action invocation
// (spec.md §4.7).
func NewRunner(maxParallel int, userContext any) *Runner {
	weight := int64(maxParallel)
	if weight <= 0 {
		weight = unboundedWeight
	}
	return &Runner{
		sem:         semaphore.NewWeighted(weight),
		completions: make(chan completion, 64),
		userContext: userContext,
	}
}

// Completions is the channel the event loop selects on to learn about
// finished runs.
func (r *Runner) Completions() <-chan completion {
	return r.completions
}

// Launch starts s's action in its own goroutine once a worker slot is free.
// It does not block the caller: slot acquisition itself happens inside the
// spawned goroutine, so a full pool never stalls the event loop's tick.
// runID identifies this particular run for audit correlation and is echoed
// back on the completion.
func (r *Runner) Launch(ctx context.Context, s *Step, runID string) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()

		if err := r.sem.Acquire(ctx, 1); err != nil {
			// Only ctx cancellation (Server shutdown) reaches here; report the
			// step as failed so it doesn't hang forever in Run.
			r.completions <- completion{stepID: s.id, runID: runID, result: Result{Status: Failure, Value: err}}
			return
		}
		defer r.sem.Release(1)

		runCtx, cancel := context.WithCancel(ctx)
		s.mu.Lock()
		s.cancel = cancel
		s.mu.Unlock()
		defer func() {
			s.mu.Lock()
			s.cancel = nil
			s.mu.Unlock()
			cancel()
		}()

		io := &StepIO{in: s.toStep, out: s.fromStep, paused: &s.pauseSignal}

		status, value := runAction(runCtx, s.action, r.userContext, io)
		r.completions <- completion{stepID: s.id, runID: runID, result: Result{Status: status, Value: value}}
	}()
}

// runAction invokes action, converting a panic into a Failure result so one
// misbehaving action can never take down the event loop.
func runAction(ctx context.Context, action ActionFunc, userContext any, io *StepIO) (status Status, value any) {
	defer func() {
		if p := recover(); p != nil {
			status, value = Failure, p
		}
	}()
	return action(ctx, userContext, io)
}

// Interrupt cancels the in-flight run's context, if the step is currently
// running. It is a no-op otherwise; the caller (manager) is responsible for
// deciding whether interrupting a non-running step is meaningful.
func (s *Step) interrupt() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Wait blocks until every launched goroutine has returned. Used during
// Server shutdown after the context passed to Launch has been cancelled.
func (r *Runner) Wait() {
	r.wg.Wait()
}

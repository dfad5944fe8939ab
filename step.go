package autotrail

import (
	"context"
	"sync"
	"sync/atomic"
)

// ActionFunc is the user-supplied callable a worker runs to completion. ctx
// is cancelled cooperatively when the operator issues interrupt on this
// step's current run (spec.md §4.3) — actions that want to honor interrupt
// must poll ctx.Err() or select on ctx.Done(). io exposes the step's message
// queues and the pause signal; userContext is the opaque value passed by
// reference to every action in the trail (spec.md §4.7).
type ActionFunc func(ctx context.Context, userContext any, io *StepIO) (Status, any)

// StepIO is the handle an ActionFunc uses to exchange messages with the
// manager and to poll cooperative pause. A worker owns nothing but these two
// queues and the pause flag — it never reads or writes Step.state, Step.flags,
// or Step.result directly (spec.md §3, "Lifecycle ownership").
type StepIO struct {
	in, out *messageQueue
	paused  *atomic.Bool
}

// Receive non-blockingly returns the oldest message sent to this step via
// send_message_to_steps, or ok=false if none is queued.
func (io *StepIO) Receive() (msg any, ok bool) {
	return io.in.tryPop()
}

// Send enqueues a message for get_step_messages to later drain. Returns
// [ErrQueueFull] if the configured message_queue_cap is exceeded.
func (io *StepIO) Send(msg any) error {
	return io.out.push(msg)
}

// Paused reports whether the operator currently has this step's
// pause_requested flag set. Actions that support pausing should poll this
// (typically alongside ctx.Done()) and suspend their own progress
// cooperatively; AutoTrail never force-preempts a running action.
func (io *StepIO) Paused() bool {
	return io.paused.Load()
}

// Step is an immutable identity (id, name, action) plus the manager-owned
// mutable state record described in spec.md §3. The fields below mu are
// touched by the Server's single-threaded event loop, except cancel, which
// the runner's worker goroutine sets and clears under mu, and pauseSignal,
// which running actions read; everything else is set at construction (or,
// for the queues, replaced once by NewServer).
type Step struct {
	id     string
	name   string
	action ActionFunc
	tags   map[string]string

	toStep      *messageQueue
	fromStep    *messageQueue
	queueCapSet bool // true once WithQueueCap has fixed an explicit per-step cap

	mu        sync.Mutex
	state     State
	flags     Flags
	result    Result
	hasResult bool
	runID     string // minted fresh on every Ready -> Run transition, for audit correlation

	pauseSignal atomic.Bool        // cooperative, read by running actions via StepIO.Paused
	cancel      context.CancelFunc // set while Run, used to deliver interrupt_requested
}

// StepOption configures optional Step fields at construction.
type StepOption func(*Step)

// WithTags attaches free-form tags used by API selectors to target subsets
// of steps (spec.md §3).
func WithTags(tags map[string]string) StepOption {
	return func(s *Step) {
		for k, v := range tags {
			s.tags[k] = v
		}
	}
}

// WithQueueCap overrides the default unbounded to-step/from-step queue
// capacity for this step only. A Server-wide default is set via
// Config.MessageQueueCap (applied by NewServer); an explicit per-step cap
// set here always takes precedence over it.
func WithQueueCap(n int) StepOption {
	return func(s *Step) {
		s.toStep = newMessageQueue(n)
		s.fromStep = newMessageQueue(n)
		s.queueCapSet = true
	}
}

// applyDefaultQueueCap installs cap as this step's to-step/from-step queue
// capacity, unless WithQueueCap already fixed an explicit one. Called by
// NewServer while building a Server, before any worker or API call can have
// touched the step's queues.
func (s *Step) applyDefaultQueueCap(cap int) {
	if s.queueCapSet {
		return
	}
	s.toStep = newMessageQueue(cap)
	s.fromStep = newMessageQueue(cap)
}

// NewStep creates a Step with the given unique id and action, in the initial
// Wait state. id must be unique within the Trail it is later added to.
func NewStep(id string, action ActionFunc, opts ...StepOption) *Step {
	s := &Step{
		id:       id,
		name:     id,
		action:   action,
		tags:     make(map[string]string),
		state:    StateWait,
		toStep:   newMessageQueue(0),
		fromStep: newMessageQueue(0),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// WithName overrides the human-readable name (defaults to id).
func WithName(name string) StepOption {
	return func(s *Step) { s.name = name }
}

// ID returns the step's unique identity within its trail.
func (s *Step) ID() string { return s.id }

// Name returns the step's human-readable name.
func (s *Step) Name() string { return s.name }

// State returns the step's current lifecycle state.
func (s *Step) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Result returns the step's last recorded (status, return value), or
// ok=false if the step has never completed a run.
func (s *Step) Result() (Result, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.result, s.hasResult
}

// Tags returns a copy of the step's tag map.
func (s *Step) Tags() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.tags))
	for k, v := range s.tags {
		out[k] = v
	}
	return out
}

// snapshot returns a point-in-time, lock-free copy of the fields API dispatch
// needs to compose list/status responses.
type stepSnapshot struct {
	ID        string
	Name      string
	State     State
	Flags     Flags
	Result    Result
	HasResult bool
	Tags      map[string]string
}

func (s *Step) snapshot() stepSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	tags := make(map[string]string, len(s.tags))
	for k, v := range s.tags {
		tags[k] = v
	}
	return stepSnapshot{
		ID:        s.id,
		Name:      s.name,
		State:     s.state,
		Flags:     s.flags,
		Result:    s.result,
		HasResult: s.hasResult,
		Tags:      tags,
	}
}

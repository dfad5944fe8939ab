package autotrail

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"
	"time"
)

// ErrSocketBind wraps a failure to bind the control socket, distinguished
// from other startup failures so callers (cmd/autotraild) can map it to the
// dedicated exit code spec.md §6 reserves for it.
var ErrSocketBind = errors.New("autotrail: failed to bind control socket")

// Server is the trail manager: a single-threaded cooperative event loop that
// drives the topological engine, owns the worker pool, multiplexes the
// control socket, and advances per-step state under the precedence table in
// statefuncs.go (spec.md §4.4).
type Server struct {
	trail       *Trail
	engine      *Engine
	runner      *Runner
	socket      *socketServer
	audit       AuditSink
	log         *slog.Logger
	cfg         Config
	readinessFn ReadinessFunc

	shutdownRequested atomic.Bool
	inFlight          atomic.Int64
}

// ServerOption configures optional Server fields.
type ServerOption func(*Server)

// WithAuditSink installs a non-default [AuditSink]. The default is a no-op.
func WithAuditSink(sink AuditSink) ServerOption {
	return func(s *Server) { s.audit = sink }
}

// WithLogger installs a non-default [*slog.Logger]. The default logs to
// stderr at Info level with the standard slog text handler.
func WithLogger(log *slog.Logger) ServerOption {
	return func(s *Server) { s.log = log }
}

// WithReadiness overrides [DefaultReadiness], the policy the engine consults
// every tick to decide which predecessors satisfy a step's successors.
func WithReadiness(rf ReadinessFunc) ServerOption {
	return func(s *Server) { s.readinessFn = rf }
}

// NewServer validates trail and builds a Server ready to Run. userContext is
// the opaque value forwarded to every action invocation.
func NewServer(trail *Trail, userContext any, cfg Config, opts ...ServerOption) (*Server, error) {
	if err := trail.Validate(); err != nil {
		return nil, err
	}

	for _, step := range trail.Steps() {
		step.applyDefaultQueueCap(cfg.MessageQueueCap)
	}

	s := &Server{
		trail:       trail,
		engine:      NewEngine(trail),
		runner:      NewRunner(cfg.MaxParallelWorkers, userContext),
		audit:       noopAuditSink{},
		log:         slog.New(slog.NewTextHandler(os.Stderr, nil)),
		cfg:         cfg,
		readinessFn: DefaultReadiness,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Run binds the control socket and runs the event loop until the engine is
// drained, a shutdown call is honored, or ctx is cancelled. It always
// removes the socket file before returning, and always waits for in-flight
// workers to finish before returning control to the caller.
func (s *Server) Run(ctx context.Context) error {
	sock, err := listenSocket(s.cfg.SocketPath, s.log)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSocketBind, err)
	}
	s.socket = sock
	defer func() {
		if err := s.socket.close(); err != nil {
			s.log.Warn("autotrail: error closing control socket", "error", err)
		}
	}()

	workerCtx, cancelWorkers := context.WithCancel(context.Background())
	defer cancelWorkers()

	tick := time.Duration(s.cfg.TickIntervalMS) * time.Millisecond
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			cancelWorkers()
			s.runner.Wait()
			return ctx.Err()
		case <-ticker.C:
		}

		s.tick(ctx, workerCtx)

		if s.done() {
			cancelWorkers()
			s.runner.Wait()
			return nil
		}
	}
}

func (s *Server) done() bool {
	return (s.shutdownRequested.Load() || s.engine.Drained()) && s.inFlight.Load() == 0
}

// tick runs one iteration of the event loop in the fixed order spec.md §4.4
// requires: serve socket, drain completions, run state functions, dispatch
// new work. There is no separate "drain step messages" step: from_step is a
// mutex-guarded queue (queue.go) that get_step_messages drains directly on
// demand, rather than the manager first copying it into a per-tick buffer.
func (s *Server) tick(ctx, workerCtx context.Context) {
	s.recordAudit(ctx, Event{Kind: EventTick, Timestamp: time.Now(), TrailName: s.trail.Name})
	s.serveSocket(ctx)
	s.drainCompletions(ctx)
	s.runStateFunctions(ctx)
	if !s.shutdownRequested.Load() {
		s.dispatchNewWork(workerCtx)
	}
}

func (s *Server) serveSocket(ctx context.Context) {
	const maxRequestsPerTick = 64
	s.socket.poll(maxRequestsPerTick, func(req Request) Response {
		resp, result := dispatchAPICall(s.trail, req)
		if result == ShutdownAck {
			s.shutdownRequested.Store(true)
		}
		s.recordAudit(ctx, Event{
			Kind:      EventAPICall,
			Timestamp: time.Now(),
			TrailName: s.trail.Name,
			Call:      req.Name,
			Detail:    req.RequestID,
		})
		return resp
	})
}

// drainCompletions non-blockingly reads every pending worker completion,
// transitioning Run/Interrupted -> Success|Failure.
func (s *Server) drainCompletions(ctx context.Context) {
	for {
		select {
		case c := <-s.runner.Completions():
			s.inFlight.Add(-1)
			step, ok := s.trail.Step(c.stepID)
			if !ok {
				continue
			}
			step.mu.Lock()
			// Ignore a completion from a stale run: the step may already have
			// been rerun and relaunched under a new runID by the time this
			// one drains.
			if step.runID == c.runID {
				switch step.state {
				case StateRun, StateInterrupted:
					step.result = c.result
					step.hasResult = true
					if c.result.Status == Success {
						step.state = StateSuccess
					} else {
						step.state = StateFailure
					}
				}
			}
			step.mu.Unlock()

			s.recordAudit(ctx, Event{
				Kind: EventStepStateChanged, Timestamp: time.Now(),
				TrailName: s.trail.Name, StepID: step.id, RunID: c.runID, State: step.State(),
			})
		default:
			return
		}
	}
}

// runStateFunctions asks the engine for this tick's readiness verdicts, then
// applies the ordered (and, on no match, ignorable) state functions to every
// step.
func (s *Server) runStateFunctions(ctx context.Context) {
	ready, unreachable := s.engine.NextReady(s.readinessFn)
	readySet := toSet(ready)
	unreachableSet := toSet(unreachable)

	for _, step := range s.trail.Steps() {
		before := step.State()
		info := stepTickInfo{ready: readySet[step.id], unreachable: unreachableSet[step.id]}
		applyStateFunctions(step, info)
		if after := step.State(); after != before {
			s.recordAudit(ctx, Event{
				Kind: EventStepStateChanged, Timestamp: time.Now(),
				TrailName: s.trail.Name, StepID: step.id, State: after,
			})
		}
	}
}

// dispatchNewWork launches every step currently Ready, minting a fresh
// per-run id and transitioning it to Run before handing it to the runner.
func (s *Server) dispatchNewWork(workerCtx context.Context) {
	for _, step := range s.trail.Steps() {
		step.mu.Lock()
		if step.state != StateReady {
			step.mu.Unlock()
			continue
		}
		step.state = StateRun
		step.runID = newID()
		runID := step.runID
		step.mu.Unlock()

		s.inFlight.Add(1)
		s.runner.Launch(workerCtx, step, runID)
	}
}

func (s *Server) recordAudit(ctx context.Context, ev Event) {
	if err := s.audit.Record(ctx, ev); err != nil {
		s.log.Warn("autotrail: audit sink error", "error", err)
	}
}

func toSet(ids []string) map[string]bool {
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}

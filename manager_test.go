package autotrail

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"
)

// newTestServer builds a Server with its control socket bound to a temp
// path and exercises its tick method directly, sidestepping Run's ticker so
// scenario tests can drive exactly N ticks deterministically.
func newTestServer(t *testing.T, trail *Trail, cfg Config) *Server {
	t.Helper()
	if cfg.SocketPath == "" {
		cfg.SocketPath = filepath.Join(t.TempDir(), "autotrail.sock")
	}
	srv, err := NewServer(trail, nil, cfg, WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	sock, err := listenSocket(cfg.SocketPath, srv.log)
	if err != nil {
		t.Fatalf("listenSocket: %v", err)
	}
	srv.socket = sock
	t.Cleanup(func() { sock.close() })
	return srv
}

func TestNewServerAppliesDefaultQueueCap(t *testing.T) {
	tr := NewTrail("t")
	tr.AddStep(NewStep("plain", noopAction))
	tr.AddStep(NewStep("explicit", noopAction, WithQueueCap(5)))

	cfg := DefaultConfig()
	cfg.MessageQueueCap = 2
	srv := newTestServer(t, tr, cfg)

	plain, _ := srv.trail.Step("plain")
	if err := plain.toStep.push(1); err != nil {
		t.Fatalf("push 1: %v", err)
	}
	if err := plain.toStep.push(2); err != nil {
		t.Fatalf("push 2: %v", err)
	}
	if err := plain.toStep.push(3); err == nil {
		t.Fatal("push beyond Config.MessageQueueCap should fail on a step with no explicit cap")
	}

	explicit, _ := srv.trail.Step("explicit")
	for i := 0; i < 5; i++ {
		if err := explicit.toStep.push(i); err != nil {
			t.Fatalf("push %d: %v", i, err)
		}
	}
	if err := explicit.toStep.push(5); err == nil {
		t.Fatal("push beyond its own WithQueueCap should fail")
	}
}

func TestScenarioLinearTrailAllSucceed(t *testing.T) {
	tr := NewTrail("linear")
	var order []string
	record := func(id string) ActionFunc {
		return func(context.Context, any, *StepIO) (Status, any) {
			order = append(order, id)
			return Success, nil
		}
	}
	tr.AddStep(NewStep("A", record("A")))
	tr.AddStep(NewStep("B", record("B")))
	tr.AddStep(NewStep("C", record("C")))
	tr.AddEdge("A", "B")
	tr.AddEdge("B", "C")

	srv := newTestServer(t, tr, DefaultConfig())
	ctx := context.Background()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && !srv.engine.Drained() {
		srv.tick(ctx, ctx)
		time.Sleep(time.Millisecond)
	}

	for _, id := range []string{"A", "B", "C"} {
		s, _ := tr.Step(id)
		if s.State() != StateSuccess {
			t.Fatalf("step %s final state = %v, want Success", id, s.State())
		}
	}
	if len(order) != 3 || order[0] != "A" || order[1] != "B" || order[2] != "C" {
		t.Fatalf("run order = %v, want [A B C]", order)
	}
}

func TestScenarioDiamondWithFailure(t *testing.T) {
	tr := NewTrail("diamond")
	tr.AddStep(NewStep("A", noopAction))
	tr.AddStep(NewStep("B", func(context.Context, any, *StepIO) (Status, any) {
		return Failure, "boom"
	}))
	tr.AddStep(NewStep("C", noopAction))
	tr.AddStep(NewStep("D", noopAction))
	tr.AddEdge("A", "B")
	tr.AddEdge("A", "C")
	tr.AddEdge("B", "D")
	tr.AddEdge("C", "D")

	srv := newTestServer(t, tr, DefaultConfig())
	ctx := context.Background()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && !srv.engine.Drained() {
		srv.tick(ctx, ctx)
		time.Sleep(time.Millisecond)
	}

	wantStates := map[string]State{
		"A": StateSuccess, "B": StateFailure, "C": StateSuccess, "D": StateUnreachable,
	}
	for id, want := range wantStates {
		s, _ := tr.Step(id)
		if s.State() != want {
			t.Fatalf("step %s final state = %v, want %v", id, s.State(), want)
		}
	}
}

func TestScenarioSkipMidRun(t *testing.T) {
	tr := NewTrail("linear")
	tr.AddStep(NewStep("A", noopAction))
	tr.AddStep(NewStep("B", noopAction))
	tr.AddStep(NewStep("C", noopAction))
	tr.AddEdge("A", "B")
	tr.AddEdge("B", "C")

	srv := newTestServer(t, tr, DefaultConfig())
	ctx := context.Background()

	// Drive ticks until A has been dispatched, then request skip on B while
	// it is still Wait, before it is ever offered to run. Skip does not apply
	// to a step already in Run, and B goes from Wait to Run within the same
	// tick that observes A's completion.
	a, _ := tr.Step("A")
	b, _ := tr.Step("B")
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		srv.tick(ctx, ctx)
		if a.State() != StateWait && a.State() != StateReady && b.State() == StateWait {
			b.mu.Lock()
			b.flags.SkipRequested = true
			b.mu.Unlock()
			break
		}
		time.Sleep(time.Millisecond)
	}

	for time.Now().Before(deadline) && !srv.engine.Drained() {
		srv.tick(ctx, ctx)
		time.Sleep(time.Millisecond)
	}

	if b.State() != StateSkipped {
		t.Fatalf("B final state = %v, want Skipped", b.State())
	}
	c, _ := tr.Step("C")
	if c.State() != StateSuccess {
		t.Fatalf("C final state = %v, want Success (skip unblocks like success)", c.State())
	}
}

func TestScenarioPauseResume(t *testing.T) {
	tr := NewTrail("single")
	release := make(chan struct{})
	tr.AddStep(NewStep("A", func(ctx context.Context, _ any, io *StepIO) (Status, any) {
		<-release
		return Success, nil
	}))

	srv := newTestServer(t, tr, DefaultConfig())
	ctx := context.Background()
	a, _ := tr.Step("A")

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && a.State() != StateRun {
		srv.tick(ctx, ctx)
		time.Sleep(time.Millisecond)
	}

	a.mu.Lock()
	a.flags.PauseRequested = true
	a.mu.Unlock()
	for time.Now().Before(deadline) && a.State() != StatePaused {
		srv.tick(ctx, ctx)
		time.Sleep(time.Millisecond)
	}
	if a.State() != StatePaused {
		t.Fatalf("A state = %v, want Paused", a.State())
	}

	a.mu.Lock()
	a.flags.PauseRequested = false
	a.mu.Unlock()
	for time.Now().Before(deadline) && a.State() != StateRun {
		srv.tick(ctx, ctx)
		time.Sleep(time.Millisecond)
	}
	if a.State() != StateRun {
		t.Fatalf("A state = %v, want Run after clearing pause", a.State())
	}
	close(release)

	for time.Now().Before(deadline) && !srv.engine.Drained() {
		srv.tick(ctx, ctx)
		time.Sleep(time.Millisecond)
	}
	if a.State() != StateSuccess {
		t.Fatalf("A final state = %v, want Success", a.State())
	}
}

func TestScenarioRerunAfterFailure(t *testing.T) {
	tr := NewTrail("single")
	attempts := 0
	tr.AddStep(NewStep("A", func(context.Context, any, *StepIO) (Status, any) {
		attempts++
		if attempts == 1 {
			return Failure, "boom"
		}
		return Success, nil
	}))

	srv := newTestServer(t, tr, DefaultConfig())
	ctx := context.Background()
	a, _ := tr.Step("A")

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && a.State() != StateFailure {
		srv.tick(ctx, ctx)
		time.Sleep(time.Millisecond)
	}
	if a.State() != StateFailure {
		t.Fatalf("A state = %v, want Failure before rerun", a.State())
	}

	a.mu.Lock()
	a.flags.RerunRequested = true
	a.mu.Unlock()

	for time.Now().Before(deadline) && !srv.engine.Drained() {
		srv.tick(ctx, ctx)
		time.Sleep(time.Millisecond)
	}
	if a.State() != StateSuccess {
		t.Fatalf("A final state = %v, want Success after rerun", a.State())
	}
	if attempts != 2 {
		t.Fatalf("attempts = %d, want 2 completion records", attempts)
	}
}

func TestScenarioShutdownWaitsForInFlightWorker(t *testing.T) {
	tr := NewTrail("single")
	release := make(chan struct{})
	tr.AddStep(NewStep("A", func(context.Context, any, *StepIO) (Status, any) {
		<-release
		return Success, nil
	}))

	srv := newTestServer(t, tr, DefaultConfig())
	ctx := context.Background()
	a, _ := tr.Step("A")

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && a.State() != StateRun {
		srv.tick(ctx, ctx)
		time.Sleep(time.Millisecond)
	}

	srv.shutdownRequested.Store(true)
	srv.tick(ctx, ctx)
	if srv.done() {
		t.Fatal("done() = true while A is still running, want false until it drains")
	}

	close(release)
	for time.Now().Before(deadline) && !srv.done() {
		srv.tick(ctx, ctx)
		time.Sleep(time.Millisecond)
	}
	if !srv.done() {
		t.Fatal("done() = false after in-flight worker completed post-shutdown")
	}
	if a.State() != StateSuccess {
		t.Fatalf("A final state = %v, want Success", a.State())
	}
}

// Package autotrail is a partial-automation workflow engine: it executes a
// user-defined directed acyclic graph of steps with live, out-of-band
// operator control over a Unix-domain socket (pause, resume, skip, block,
// rerun, interrogate, and send/receive messages to a step).
//
// # Core pieces
//
// The engine is built from two tightly coupled subsystems:
//
//   - [Engine] — a generalized topological traversal ([Engine.NextReady])
//     that repeatedly re-evaluates readiness against mutable per-step state,
//     rather than enumerating ready nodes once.
//   - [Server] — a single-threaded event loop that drives the engine, owns a
//     worker pool executing step actions in parallel, multiplexes operator
//     API calls arriving over the control socket, and advances per-step
//     lifecycle state with a fixed precedence order.
//
// # Quick start
//
//	trail := autotrail.NewTrail("deploy")
//	trail.AddStep(autotrail.NewStep("build", buildAction))
//	trail.AddStep(autotrail.NewStep("test", testAction))
//	trail.AddEdge("build", "test")
//
//	cfg := autotrail.DefaultConfig()
//	cfg.SocketPath = "/tmp/deploy.sock"
//	srv, err := autotrail.NewServer(trail, nil, cfg)
//	if err != nil {
//		log.Fatal(err)
//	}
//	log.Fatal(srv.Run(context.Background()))
//
// # Out of scope
//
// CLI tooling, DOT-file export, pre-baked action functions (shell commands,
// templated instructions), and authn/authz on the control socket are not
// provided by this package — they are external collaborators that consume
// the interfaces defined here. The engine does not persist state across
// process restarts and does not coordinate execution across machines.
package autotrail

// Command autotraild runs a Server for a trail described by a TOML
// definition file, wiring in the configuration and audit sink spec.md §6
// and the SPEC_FULL ambient stack describe. It is a convenience entrypoint,
// not the library surface: embedding programs are expected to build their
// own Trail and Registry with real action functions and call
// autotrail.NewServer directly, the way this file does.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/nevindra/autotrail"
	"github.com/nevindra/autotrail/persistence/postgres"
	"github.com/nevindra/autotrail/persistence/sqlite"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := os.Getenv("AUTOTRAIL_CONFIG")
	trailPath := os.Getenv("AUTOTRAIL_TRAIL")
	for i, arg := range os.Args[1:] {
		switch arg {
		case "-config":
			if i+2 < len(os.Args) {
				configPath = os.Args[i+2]
			}
		case "-trail":
			if i+2 < len(os.Args) {
				trailPath = os.Args[i+2]
			}
		}
	}
	if trailPath == "" {
		fmt.Fprintln(os.Stderr, "autotraild: -trail <path> is required")
		return 1
	}

	log := slog.New(slog.NewTextHandler(os.Stderr, nil))
	cfg := autotrail.LoadConfig(configPath)

	def, err := loadTrailDefinition(trailPath)
	if err != nil {
		log.Error("autotraild: failed to load trail definition", "error", err)
		return 1
	}

	reg := builtinRegistry()
	trail, err := def.Build(reg)
	if err != nil {
		log.Error("autotraild: failed to build trail", "error", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	opts := []autotrail.ServerOption{autotrail.WithLogger(log)}
	if sink, closeSink, err := openAuditSink(ctx, cfg); err != nil {
		log.Error("autotraild: failed to open audit sink", "error", err)
		return 1
	} else if sink != nil {
		defer closeSink()
		opts = append(opts, autotrail.WithAuditSink(sink))
	}

	srv, err := autotrail.NewServer(trail, nil, cfg, opts...)
	if err != nil {
		log.Error("autotraild: invalid trail", "error", err)
		return 1
	}

	log.Info("autotraild: starting", "socket_path", cfg.SocketPath, "trail", trail.Name)
	if err := srv.Run(ctx); err != nil {
		if ctx.Err() != nil {
			return 0
		}
		return exitCodeFor(err)
	}
	return 0
}

func loadTrailDefinition(path string) (autotrail.TrailDefinition, error) {
	var def autotrail.TrailDefinition
	data, err := os.ReadFile(path)
	if err != nil {
		return def, err
	}
	if err := toml.Unmarshal(data, &def); err != nil {
		return def, err
	}
	return def, nil
}

// builtinRegistry supplies a handful of generic actions so a trail
// definition file can be exercised without the embedding program writing
// any Go code: noop succeeds immediately, fail always fails, sleep blocks
// for a fixed duration while honoring interrupt.
func builtinRegistry() *autotrail.Registry {
	reg := autotrail.NewRegistry()
	reg.RegisterAction("noop", func(ctx context.Context, _ any, _ *autotrail.StepIO) (autotrail.Status, any) {
		return autotrail.Success, nil
	})
	reg.RegisterAction("fail", func(ctx context.Context, _ any, _ *autotrail.StepIO) (autotrail.Status, any) {
		return autotrail.Failure, "fail action always fails"
	})
	reg.RegisterAction("sleep", func(ctx context.Context, _ any, io *autotrail.StepIO) (autotrail.Status, any) {
		select {
		case <-time.After(time.Second):
			return autotrail.Success, nil
		case <-ctx.Done():
			return autotrail.Failure, ctx.Err().Error()
		}
	})
	return reg
}

func openAuditSink(ctx context.Context, cfg autotrail.Config) (autotrail.AuditSink, func(), error) {
	switch cfg.Audit.Driver {
	case "":
		return nil, func() {}, nil
	case "sqlite":
		sink, err := sqlite.Open(ctx, cfg.Audit.DSN)
		if err != nil {
			return nil, nil, err
		}
		return sink, func() { sink.Close() }, nil
	case "postgres":
		sink, err := postgres.Open(ctx, cfg.Audit.DSN)
		if err != nil {
			return nil, nil, err
		}
		return sink, func() { sink.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("autotraild: unknown audit driver %q", cfg.Audit.Driver)
	}
}

func exitCodeFor(err error) int {
	if errors.Is(err, autotrail.ErrSocketBind) {
		return 2
	}
	var ae *autotrail.Error
	if errors.As(err, &ae) {
		switch ae.Kind {
		case autotrail.ErrWouldCycle, autotrail.ErrUnknownStep, autotrail.ErrBadRequest:
			return 1
		}
	}
	return 3
}

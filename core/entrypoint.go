package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"reflect"
	"runtime"
	"runtime/trace"
	"syscall"
	"time"

	"github.com/encodeous/tint"
	"github.com/encodeous/weft/perf"
	"github.com/encodeous/weft/state"
	"github.com/encodeous/weft/store"
	"github.com/encodeous/weft/transport"
	slogmulti "github.com/samber/slog-multi"
)

var errShutdown = errors.New("received shutdown signal")

const slowDispatch = 4 * time.Millisecond

// startTrace writes a runtime trace to trace.out while DBG_trace is set
func startTrace() (stop func(), err error) {
	if !state.DBG_trace {
		return func() {}, nil
	}
	f, err := os.Create("trace.out")
	if err != nil {
		return nil, err
	}
	if err := trace.Start(f); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("failed to start tracing: %w", err)
	}
	return func() {
		trace.Stop()
		_ = f.Close()
	}, nil
}

// Bootstrap loads the node config and runs the node until it is stopped.
func Bootstrap(nodePath, logPath string, verbose bool) error {
	stopTrace, err := startTrace()
	if err != nil {
		return err
	}
	defer stopTrace()

	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}

	cfg, err := state.LoadNodeCfg(nodePath)
	if err != nil {
		return err
	}
	if logPath != "" {
		cfg.LogPath = logPath
	}
	return Start(*cfg, level, nil, nil)
}

// NewLogger builds the node's logger. Records are colourised on stderr and, when cfg.LogPath is set, appended to that
// file as plain text.
func NewLogger(cfg *state.NodeCfg, level slog.Level) (*slog.Logger, error) {
	console := tint.NewHandler(os.Stderr, &tint.Options{
		Level:        level,
		CustomPrefix: string(cfg.Id),
		ReplaceAttr: func(_ []string, attr slog.Attr) slog.Attr {
			if attr.Key == slog.TimeKey {
				return slog.Attr{}
			}
			return attr
		},
	})
	if cfg.LogPath == "" {
		return slog.New(console), nil
	}
	if err := os.MkdirAll(filepath.Dir(cfg.LogPath), 0700); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(cfg.LogPath, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0600)
	if err != nil {
		return nil, err
	}
	return slog.New(slogmulti.Fanout(console, slog.NewTextHandler(f, &slog.HandlerOptions{Level: level}))), nil
}

// Start runs a node until it is stopped. If transport is nil, peer messages are exchanged over http. onState, if not
// nil, is called with the node's state before its modules are initialised.
func Start(cfg state.NodeCfg, logLevel slog.Level, tr state.Transport, onState func(*state.State)) error {
	ctx, cancel := context.WithCancelCause(context.Background())
	defer cancel(nil)

	dispatch := make(chan func(s *state.State) error, 128)

	logger, err := NewLogger(&cfg, logLevel)
	if err != nil {
		return err
	}
	cfg.ApplyTiming()

	if tr == nil {
		tr = transport.NewHttp(cfg.Listen, logger.With("module", "http"))
	}

	env := &state.Env{
		Context:         ctx,
		Cancel:          cancel,
		DispatchChannel: dispatch,
		NodeCfg:         cfg,
		Log:             logger,
		Transport:       tr,
	}
	if cfg.DataPath != "" {
		db, err := store.Open(cfg.DataPath)
		if err != nil {
			return fmt.Errorf("failed to open data store: %w", err)
		}
		env.Store = db
	}

	s := state.NewState(env)
	if onState != nil {
		onState(s)
	}
	if state.DBG_debug {
		defer serveDebug(env)()
	}

	s.Log.Info("init modules")
	err = initModules(s)
	if err != nil {
		Stop(s)
		return err
	}
	s.Log.Info("init modules complete")

	for _, subnet := range s.SubnetIds() {
		s.Log.Info("weft node is up", "subnet", subnet, "address", state.NodeAddress(s.AllocationScheme, subnet, s.Id))
	}
	s.Log.Info("To gracefully exit, send SIGINT or Ctrl+C.")

	c := make(chan os.Signal, 1)
	signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(c)
	go func() {
		select {
		case <-c:
			s.Cancel(errShutdown)
		case <-ctx.Done():
			return
		}
	}()

	return MainLoop(s, dispatch)
}

func initModules(s *state.State) error {
	var modules []state.NyModule
	modules = append(modules, &Subnets{})
	modules = append(modules, &Router{})
	modules = append(modules, &Connector{})
	modules = append(modules, &PeerProtocol{})
	modules = append(modules, &Settlement{})

	for _, module := range modules {
		s.Modules[reflect.TypeOf(module).String()] = module
		if err := module.Init(s); err != nil {
			return err
		}
	}
	return nil
}

// MainLoop runs dispatched functions until the node is stopped. It returns the error that stopped the node, if it was
// not a requested shutdown.
func MainLoop(s *state.State, dispatch <-chan func(*state.State) error) error {
	s.Log.Debug("started main loop")
	s.Started.Store(true)
	for running := true; running; {
		select {
		case fun := <-dispatch:
			if fun == nil {
				running = false
				break
			}
			runDispatched(s, fun, len(dispatch))
		case <-s.Context.Done():
			running = false
		}
	}

	cause := context.Cause(s.Context)
	if cause != nil {
		s.Log.Info("stopped main loop", "reason", cause.Error())
	}
	Stop(s)
	if cause == nil || errors.Is(cause, errShutdown) || errors.Is(cause, context.Canceled) {
		return nil
	}
	return cause
}

// runDispatched runs one function on the main loop. An error from it stops the node.
func runDispatched(s *state.State, fun func(*state.State) error, backlog int) {
	start := time.Now()
	if err := fun(s); err != nil {
		s.Log.Error("dispatched function failed, stopping", "error", err)
		s.Cancel(err)
	}
	elapsed := time.Since(start)
	perf.DispatchLatency.Add(float64(elapsed.Microseconds()))
	if elapsed > slowDispatch {
		name := runtime.FuncForPC(reflect.ValueOf(fun).Pointer()).Name()
		s.Log.Warn("slow dispatch", "fun", name, "elapsed", elapsed, "backlog", backlog)
	}
}

func Stop(s *state.State) {
	if s.Stopping.Swap(true) {
		return // don't stop twice
	}
	s.Cancel(context.Canceled)
	s.Log.Info("cleaning up modules")
	for name, module := range s.Modules {
		if err := module.Cleanup(s); err != nil {
			s.Log.Error("module cleanup failed", "module", name, "error", err)
		}
	}
	if s.Store != nil {
		if err := s.Store.Close(); err != nil {
			s.Log.Error("failed to close store", "error", err)
		}
	}
	s.Log.Info("stopped")
}

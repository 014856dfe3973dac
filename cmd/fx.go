package cmd

import (
	"context"
	"log/slog"
	"net/http"
	"os"

	"github.com/webitel/agentflow/config"
	"github.com/webitel/agentflow/internal/adapter/bridge"
	"github.com/webitel/agentflow/internal/adapter/diag"
	"github.com/webitel/agentflow/internal/adapter/livetrace"
	"github.com/webitel/agentflow/internal/adapter/metrics"
	"github.com/webitel/agentflow/internal/core/dispatcher/activegroup"
	"github.com/webitel/agentflow/internal/core/dispatcher/activeobject"
	"github.com/webitel/agentflow/internal/core/dispatcher/onethread"
	"github.com/webitel/agentflow/internal/core/dispatcher/threadpool"
	"github.com/webitel/agentflow/internal/core/environment"
	"go.uber.org/fx"
)

// Runtime bundles the environment together with the four canonical
// dispatchers every demo scenario binds against, the direct analogue of
// the teacher's fx.go wiring a *config.Config into a concrete app graph.
type Runtime struct {
	Env          *environment.Environment
	OneThread    *onethread.Dispatcher
	ActiveObject *activeobject.Dispatcher
	ActiveGroup  *activegroup.Dispatcher
	ThreadPool   *threadpool.Dispatcher
}

// ProvideLogger builds the process-wide slog.Logger from the configured
// level.
func ProvideLogger(cfg *config.Config) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
}

// ProvideLiveTrace builds the websocket tracer-sink hub (internal/adapter/livetrace).
func ProvideLiveTrace(logger *slog.Logger) *livetrace.Hub {
	return livetrace.New(logger)
}

// ProvideBridge builds the watermill external-collaborator bridge
// (internal/adapter/bridge).
func ProvideBridge(logger *slog.Logger) *bridge.Bridge {
	return bridge.New(logger)
}

// buildRuntime constructs the Environment under tracer and the four
// canonical dispatchers registered by name. Shared by ProvideRuntime
// (the long-running "serve" path, tracer composed from every enabled
// adapter) and the demo subcommands (tracer nil, since a one-shot CLI
// run has no adapter listening).
func buildRuntime(cfg *config.Config, logger *slog.Logger, tracer environment.Tracer) *Runtime {
	opts := []environment.Option{
		environment.WithLogger(logger),
		environment.WithTimerResolution(cfg.Timer.Resolution),
	}
	if tracer != nil {
		opts = append(opts, environment.WithTracer(tracer))
	}
	env := environment.New(opts...)

	oneThread := onethread.New("one-thread", logger)
	activeObj := activeobject.New("active-object", logger)
	activeGrp := activegroup.New("active-group", logger)
	pool := threadpool.New("thread-pool", logger, threadpool.Params{
		Workers:          cfg.Dispatchers.ThreadPoolWorkers,
		MaxDemandsAtOnce: cfg.Dispatchers.ThreadPoolMaxDemandsOnce,
	})

	env.AddNamedDispatcher(oneThread.Name(), oneThread)
	env.AddNamedDispatcher(activeObj.Name(), activeObj)
	env.AddNamedDispatcher(activeGrp.Name(), activeGrp)
	env.AddNamedDispatcher(pool.Name(), pool)

	return &Runtime{Env: env, OneThread: oneThread, ActiveObject: activeObj, ActiveGroup: activeGrp, ThreadPool: pool}
}

// ProvideRuntime constructs the Environment with every tracer-sink
// adapter composed into its message_delivery_tracer hook, and the four
// canonical dispatchers registered by name.
func ProvideRuntime(cfg *config.Config, logger *slog.Logger, hub *livetrace.Hub, br *bridge.Bridge) *Runtime {
	tracer := environment.ComposeTracers(hub.Sink, metrics.Sink, br.Sink)
	return buildRuntime(cfg, logger, tracer)
}

// NewDemoRuntime builds a Runtime for a one-shot demo subcommand: no
// tracer adapters are listening, so the tracer hook stays the
// environment's default no-op.
func NewDemoRuntime(cfg *config.Config, logger *slog.Logger) *Runtime {
	return buildRuntime(cfg, logger, nil)
}

// registerAdapters mounts the diagnostics, live-trace and metrics HTTP
// surfaces as fx.Lifecycle hooks, the same OnStart-spawns-a-goroutine /
// OnStop-closes-it shape as the teacher's internal/handler/amqp/module.go.
func registerAdapters(lc fx.Lifecycle, cfg *config.Config, logger *slog.Logger, rt *Runtime, hub *livetrace.Hub, br *bridge.Bridge) {
	if cfg.Diag.Enabled {
		srv := &http.Server{Addr: cfg.Diag.Addr, Handler: diag.New(rt.Env, logger)}
		lc.Append(fx.Hook{
			OnStart: func(context.Context) error {
				go func() {
					if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
						logger.Error("DIAG_SERVER_ERROR", slog.Any("err", err))
					}
				}()
				return nil
			},
			OnStop: func(ctx context.Context) error { return srv.Shutdown(ctx) },
		})
	}

	if cfg.LiveTrace.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/trace", hub)
		srv := &http.Server{Addr: cfg.LiveTrace.Addr, Handler: mux}
		lc.Append(fx.Hook{
			OnStart: func(context.Context) error {
				go func() {
					if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
						logger.Error("LIVETRACE_SERVER_ERROR", slog.Any("err", err))
					}
				}()
				return nil
			},
			OnStop: func(ctx context.Context) error { return srv.Shutdown(ctx) },
		})
	}

	if cfg.Metrics.Enabled {
		srv := &http.Server{Addr: cfg.Metrics.Addr, Handler: metrics.Handler()}
		var stopPoll func()
		lc.Append(fx.Hook{
			OnStart: func(context.Context) error {
				stopPoll = metrics.PollDispatchers(rt.Env, cfg.Metrics.PollInterval)
				go func() {
					if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
						logger.Error("METRICS_SERVER_ERROR", slog.Any("err", err))
					}
				}()
				return nil
			},
			OnStop: func(ctx context.Context) error {
				if stopPoll != nil {
					stopPoll()
				}
				return srv.Shutdown(ctx)
			},
		})
	}

	lc.Append(fx.Hook{
		OnStop: func(context.Context) error { return br.Close() },
	})
}

// NewApp assembles the fx.App that owns a Runtime's lifecycle plus its
// diagnostics, live-trace, metrics and bridge adapters: the direct
// analogue of the teacher's cmd/fx.go fx.New(...)/fx.Provide(...)/
// fx.Invoke(...) wiring.
func NewApp(cfg *config.Config) *fx.App {
	return fx.New(
		fx.Provide(
			func() *config.Config { return cfg },
			ProvideLogger,
			ProvideLiveTrace,
			ProvideBridge,
			ProvideRuntime,
		),
		fx.Invoke(registerAdapters),
	)
}

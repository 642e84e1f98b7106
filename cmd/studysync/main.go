// Command studysync is the StudySync study assistant.
//
// Usage:
//
//	studysync [-config path] <command> [flags]
//
// Commands:
//
//	live        talk to the tutor through the microphone and speaker
//	assist      run one study feature on a text or file
//	chat        multi-turn chat over stdin
//	speak       read a text aloud
//	image       generate an image from a prompt
//	transcribe  transcribe an audio file
//	serve       run only the metrics and health server
//
// Every command starts the metrics and health server when server.listen_addr
// is set. The process shuts down gracefully on SIGINT or SIGTERM.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/studysync/internal/app"
	"github.com/MrWong99/studysync/internal/config"
	"github.com/MrWong99/studysync/internal/health"
	"github.com/MrWong99/studysync/internal/observe"
)

// version is overridden at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run())
}

// run is the real entry point. It returns the process exit code.
func run() int {
	configPath := flag.String("config", "studysync.yaml", "path to the YAML configuration file")
	flag.Usage = usage
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		return 2
	}
	cmd, ok := lookupCommand(args[0])
	if !ok {
		fmt.Fprintf(os.Stderr, "studysync: unknown command %q\n\n", args[0])
		flag.Usage()
		return 2
	}

	// ── Config ────────────────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "studysync: %v\n", err)
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	level.Set(slogLevel(cfg.Server.LogLevel))
	logger := newLogger(os.Stderr, level)
	slog.SetDefault(logger)

	// ── Signal handling ───────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	tel, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: version})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(sctx); err != nil {
			slog.Warn("telemetry shutdown", "err", err)
		}
	}()
	metrics, err := observe.NewMetrics(otel.GetMeterProvider())
	if err != nil {
		slog.Error("failed to create metrics", "err", err)
		return 1
	}

	// ── Providers ─────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	providers, err := buildProviders(cfg, reg, metrics)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	mic, speaker := devices()
	application, err := app.New(cfg, providers,
		app.WithDevices(mic, speaker),
		app.WithLogger(logger),
		app.WithMetrics(metrics),
	)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}
	defer func() {
		if err := application.Shutdown(); err != nil {
			slog.Warn("shutdown", "err", err)
		}
	}()

	// ── Config hot reload ─────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, func(_, newCfg *config.Config, diff config.ConfigDiff) {
		if diff.LogLevelChanged {
			level.Set(slogLevel(diff.NewLogLevel))
			slog.Info("log level changed", "level", diff.NewLogLevel)
		}
		if diff.NeedsRestart() {
			slog.Warn("configuration changed; restart studysync to apply it",
				"providers", diff.ProvidersChanged,
				"listen_addr", diff.ListenAddrChanged,
				"audio", diff.AudioChanged,
				"live", diff.LiveChanged,
				"assist", diff.AssistChanged,
			)
		}
	}, config.WithWatcherLogger(logger))
	if err != nil {
		slog.Warn("config hot reload disabled", "err", err)
	} else {
		defer watcher.Stop()
	}

	// ── Run ───────────────────────────────────────────────────────────────────
	g, gctx := errgroup.WithContext(ctx)
	if addr := cfg.Server.ListenAddr; addr != "" {
		serveHTTP(gctx, g, addr, tel.MetricsHandler(), health.New(application.HealthCheckers()...), metrics)
	}

	env := &env{app: application, stdin: os.Stdin, stdout: os.Stdout}
	g.Go(func() error {
		// The command ending stops the HTTP server too.
		defer stop()
		return cmd.run(gctx, env, args[1:])
	})

	err = g.Wait()
	switch {
	case err == nil, errors.Is(err, context.Canceled):
		slog.Info("goodbye")
		return 0
	case errors.Is(err, flag.ErrHelp):
		return 0
	case errors.Is(err, errUsage):
		fmt.Fprintf(os.Stderr, "studysync %s: %v\n", cmd.name, err)
		return 2
	default:
		fmt.Fprintf(os.Stderr, "studysync %s: %v\n", cmd.name, err)
		return 1
	}
}

// serveHTTP runs the metrics and health server until ctx is done.
func serveHTTP(ctx context.Context, g *errgroup.Group, addr string, metricsHandler http.Handler, h *health.Handler, m *observe.Metrics) {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", metricsHandler)
	h.Register(mux)

	srv := &http.Server{
		Addr:              addr,
		Handler:           observe.Middleware(m)(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}
	g.Go(func() error {
		slog.Info("metrics server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(sctx)
	})
}

func usage() {
	out := flag.CommandLine.Output()
	fmt.Fprintln(out, "Usage: studysync [-config path] <command> [flags]")
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Commands:")
	for _, c := range commands {
		fmt.Fprintf(out, "  %-11s %s\n", c.name, c.synopsis)
	}
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Global flags:")
	flag.PrintDefaults()
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(w io.Writer, level slog.Leveler) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

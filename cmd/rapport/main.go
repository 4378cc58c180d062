package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/clawinfra/rapport/internal/cli"
	"github.com/clawinfra/rapport/internal/config"
	"github.com/clawinfra/rapport/internal/metrics"
	"github.com/clawinfra/rapport/internal/sdk"
)

var (
	version   = "0.1.0"
	buildTime = "unknown"
)

// App holds the daemon's long-lived components.
type App struct {
	Config     *config.Config
	ConfigPath string
	Logger     *slog.Logger
	Level      *slog.LevelVar
	Metrics    *metrics.Recorder
	Client     *sdk.Client

	watcher     *config.Watcher
	metricsSrv  *http.Server
	metricsAddr string
	reloadMu    sync.Mutex
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// run dispatches to a subcommand and returns the exit code.
func run(args []string, out, errOut io.Writer) int {
	cmd := "run"
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		cmd, args = args[0], args[1:]
	}

	switch cmd {
	case "run":
		return runDaemon(args, out, errOut)
	case "init":
		return cli.InitCommand(args, out, errOut)
	case "feedback":
		return cli.FeedbackCommand(args, out, errOut)
	case "experience":
		return cli.ExperienceCommand(args, out, errOut)
	case "status":
		return cli.StatusCommand(args, out, errOut)
	case "flush":
		return cli.FlushCommand(args, out, errOut)
	case "clear":
		return cli.ClearCommand(args, out, errOut)
	case "version":
		printVersion(out)
		return 0
	case "help":
		if len(args) > 0 {
			if !cli.PrintCommandHelp(out, "rapport", args[0]) {
				fmt.Fprintf(errOut, "Unknown command: %s\n\nRun 'rapport help' for a list of commands.\n", args[0])
				return 1
			}
			return 0
		}
		cli.PrintHelp(out, "rapport")
		return 0
	default:
		fmt.Fprintf(errOut, "Unknown command: %s (valid: %s)\n", cmd, strings.Join(cli.CommandNames(), ", "))
		return 1
	}
}

func printVersion(w io.Writer) {
	fmt.Fprintf(w, "Rapport v%s (built %s)\n", version, buildTime)
}

func runDaemon(args []string, out, errOut io.Writer) int {
	fs := flag.NewFlagSet("rapport run", flag.ContinueOnError)
	fs.SetOutput(errOut)
	configPath := fs.String("config", cli.DefaultConfigPath, "Path to config file")
	showVersion := fs.Bool("version", false, "Show version")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	if *showVersion {
		printVersion(out)
		return 0
	}

	app, err := setup(*configPath, errOut)
	if err != nil {
		fmt.Fprintf(errOut, "Error: %v\n", err)
		return 1
	}

	if err := startServices(app); err != nil {
		app.Logger.Error("failed to start", "error", err)
		_ = app.Client.Close()
		return 1
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, getShutdownSignals()...)
	defer signal.Stop(sigCh)

	if err := waitForShutdown(app, sigCh); err != nil {
		app.Logger.Error("shutdown error", "error", err)
		return 1
	}
	return 0
}

// setup loads config and builds the client. Logs go to w.
func setup(configPath string, w io.Writer) (*App, error) {
	level := new(slog.LevelVar)
	logger := cli.NewLogger(w, level)

	cfg, err := cli.LoadConfig(configPath, true, logger)
	if err != nil {
		return nil, err
	}
	level.Set(config.ParseLogLevel(cfg.Server.LogLevel))

	app := &App{
		Config:     cfg,
		ConfigPath: configPath,
		Logger:     logger,
		Level:      level,
		Metrics:    metrics.New(),
	}

	app.Client, err = sdk.New(context.Background(), cfg, sdk.Deps{
		Logger:    logger,
		Recorder:  app.Metrics,
		OnNetwork: app.Metrics.SetNetworkAvailable,
	})
	if err != nil {
		return nil, fmt.Errorf("create client: %w", err)
	}
	return app, nil
}

// startServices starts the client, the metrics listener and the config
// watcher.
func startServices(app *App) error {
	if err := app.Client.Start(context.Background()); err != nil {
		return fmt.Errorf("start client: %w", err)
	}

	if addr := app.Config.Server.MetricsAddr; addr != "" {
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			return fmt.Errorf("listen %s: %w", addr, err)
		}
		mux := http.NewServeMux()
		mux.Handle("/metrics", app.Metrics.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok\n"))
		})
		app.metricsSrv = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		app.metricsAddr = ln.Addr().String()
		go func() {
			if err := app.metricsSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				app.Logger.Error("metrics server error", "error", err)
			}
		}()
		app.Logger.Info("metrics listening", "addr", app.metricsAddr)
	}

	app.watcher = config.NewWatcher(app.ConfigPath, 0, app.Logger, app.reload)
	app.watcher.Start()

	app.Logger.Info("rapport running", "version", version, "install_id", app.Client.InstallID())
	return nil
}

// reload re-reads the config file and applies the hot-reloadable parts.
func (app *App) reload() {
	app.reloadMu.Lock()
	defer app.reloadMu.Unlock()

	result, err := app.Config.Reload(app.ConfigPath)
	if err != nil {
		app.Logger.Error("config reload failed", "error", err)
		return
	}
	result.LogResult(app.Logger)

	config.RLock()
	level := app.Config.Server.LogLevel
	q := app.Config.Queue
	config.RUnlock()

	app.Level.Set(config.ParseLogLevel(level))
	// Reconfigure restarts the retry timers, so leave them alone unless the
	// queue section changed.
	if !slices.Contains(result.Applied, "Queue") {
		return
	}
	if err := app.Client.Reconfigure(q); err != nil {
		app.Logger.Error("apply queue settings", "error", err)
	}
}

// waitForShutdown blocks until a termination signal arrives, then stops
// everything.
func waitForShutdown(app *App, sigCh <-chan os.Signal) error {
	for sig := range sigCh {
		if handlePlatformSignal(sig, app) {
			continue
		}
		app.Logger.Info("shutdown signal received", "signal", sig)
		break
	}
	return shutdown(app)
}

func shutdown(app *App) error {
	var errs []error
	if app.watcher != nil {
		app.watcher.Stop()
	}
	if app.metricsSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := app.metricsSrv.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop metrics: %w", err))
		}
		cancel()
	}
	if err := app.Client.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close client: %w", err))
	}
	app.Logger.Info("rapport stopped")
	return errors.Join(errs...)
}

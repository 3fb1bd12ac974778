package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/route-share/backend/internal/config"
	"github.com/route-share/backend/internal/journal"
	"github.com/route-share/backend/internal/logger"
	"github.com/route-share/backend/internal/ws"
)

const serviceName = "route-share"

var opts struct {
	ConfigPath     string
	Addr           string
	LogLevel       string
	LogFormat      string
	JournalDriver  string
	JournalPath    string
	MaxConnections int
}

var flags = []cli.Flag{
	&cli.StringFlag{
		Name:        "config",
		Usage:       "path to the YAML config file",
		EnvVars:     []string{"ROUTE_SHARE_CONFIG"},
		Destination: &opts.ConfigPath,
	},
	&cli.StringFlag{
		Name:        "addr",
		Usage:       "address to listen on",
		EnvVars:     []string{"ROUTE_SHARE_ADDR"},
		Destination: &opts.Addr,
	},
	&cli.StringFlag{
		Name:        "log-level",
		Usage:       "log level (debug, info, warn, error)",
		EnvVars:     []string{"LOG_LEVEL"},
		Destination: &opts.LogLevel,
	},
	&cli.StringFlag{
		Name:        "log-format",
		Usage:       "log format (json, console)",
		EnvVars:     []string{"LOG_FORMAT"},
		Destination: &opts.LogFormat,
	},
	&cli.StringFlag{
		Name:        "journal-driver",
		Usage:       "session journal backend (none, memory, sqlite)",
		EnvVars:     []string{"JOURNAL_DRIVER"},
		Destination: &opts.JournalDriver,
	},
	&cli.StringFlag{
		Name:        "journal-path",
		Usage:       "SQLite journal file",
		EnvVars:     []string{"JOURNAL_PATH"},
		Destination: &opts.JournalPath,
	},
	&cli.IntFlag{
		Name:        "max-connections",
		Usage:       "maximum concurrent connections, 0 for unlimited",
		EnvVars:     []string{"MAX_CONNECTIONS"},
		Destination: &opts.MaxConnections,
	},
}

func main() {
	app := &cli.App{
		Name:    serviceName,
		Usage:   "real-time presence and route sharing hub",
		Version: commitHash(),
		Flags:   flags,
		Action:  run,
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	log, err := logger.New(logger.Config{
		Level:   cfg.Log.Level,
		Format:  cfg.Log.Format,
		Service: serviceName,
		Version: c.App.Version,
	})
	if err != nil {
		return err
	}

	recorder, err := journal.Open(cfg.ToJournal())
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer func() {
		if err := recorder.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close journal")
		}
	}()

	wsService := ws.NewService(cfg.ToHub(), cfg.ToTransport(), recorder, log)
	defer wsService.Close()

	server := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: newRouter(cfg, wsService, recorder, log),
	}

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().
			Str("addr", cfg.Server.Addr).
			Str("ws_path", cfg.Server.WSPath).
			Str("journal", cfg.Journal.Driver).
			Msg("starting server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		log.Info().Msg("shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		// Hijacked WebSocket connections are not tracked by Shutdown, so the
		// hub closes them.
		wsService.Close()
		return server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// loadConfig reads the config file and applies flag and environment
// overrides on top.
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.LoadAndValidate(opts.ConfigPath)
	if err != nil {
		return nil, err
	}

	if c.IsSet("addr") {
		cfg.Server.Addr = opts.Addr
	}
	if c.IsSet("log-level") {
		cfg.Log.Level = opts.LogLevel
	}
	if c.IsSet("log-format") {
		cfg.Log.Format = opts.LogFormat
	}
	if c.IsSet("journal-driver") {
		cfg.Journal.Driver = opts.JournalDriver
		if cfg.Journal.Driver == journal.DriverSQLite && cfg.Journal.Path == "" {
			cfg.Journal.Path = config.DefaultJournalPath
		}
	}
	if c.IsSet("journal-path") {
		cfg.Journal.Path = opts.JournalPath
	}
	if c.IsSet("max-connections") {
		cfg.Hub.MaxConnections = opts.MaxConnections
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func commitHash() string {
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, setting := range info.Settings {
			if setting.Key == "vcs.revision" {
				return setting.Value
			}
		}
		return info.Main.Version
	}
	return "unknown"
}

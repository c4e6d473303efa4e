// Command player-cache runs the music player cache service and manages its
// data directory from the command line.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/lmittmann/tint"

	"github.com/wolfeidau/player-cache/server"
	"github.com/wolfeidau/player-cache/settings"
)

var version = "dev"

// Globals are the flags shared by every command.
type Globals struct {
	DataDir   string `help:"Directory holding cached entries and the index." default:"./player-cache" type:"path"`
	LogLevel  string `help:"Log level (${enum})." enum:"debug,info,warn,error" default:"info"`
	LogFormat string `help:"Log format (${enum})." enum:"text,json" default:"text"`

	out   io.Writer
	level *slog.LevelVar
}

// CLI is the command line interface.
type CLI struct {
	Globals

	Version kong.VersionFlag `help:"Print version and exit."`

	Serve   ServeCmd   `cmd:"" help:"Run the HTTP server."`
	Sizes   SizesCmd   `cmd:"" help:"Show cache sizes per category."`
	Clear   ClearCmd   `cmd:"" help:"Clear one cache category."`
	Config  ConfigCmd  `cmd:"" help:"Read and write settings."`
	Dialogs DialogsCmd `cmd:"" help:"List the registered dialog kinds."`
	Reindex ReindexCmd `cmd:"" help:"Rebuild missing index records from stored entries."`
	Evict   EvictCmd   `cmd:"" help:"Enforce the music cache limit once."`
}

func main() {
	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("player-cache"),
		kong.Description("Cache service for a music player: sizes, clears and limits per category."),
		kong.UsageOnError(),
		kong.DefaultEnvars("PLAYER_CACHE"),
		kong.Vars{"version": version},
	)
	cli.out = os.Stdout
	if err := kctx.Run(&cli.Globals); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func parseLevel(s string) (slog.Level, error) {
	switch s {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("invalid log level: %s", s)
	}
}

// newLogger builds the process logger. The level is held in g.level so the
// trace log setting can raise it at runtime.
func (g *Globals) newLogger(w io.Writer) (*slog.Logger, error) {
	level, err := parseLevel(g.LogLevel)
	if err != nil {
		return nil, err
	}
	g.level = new(slog.LevelVar)
	g.level.Set(level)

	var handler slog.Handler
	switch g.LogFormat {
	case "text":
		handler = tint.NewHandler(w, &tint.Options{Level: g.level, TimeFormat: time.Kitchen})
	case "json":
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: g.level})
	default:
		return nil, fmt.Errorf("invalid log format: %s", g.LogFormat)
	}
	return slog.New(handler), nil
}

// open wires the service over the data directory. The trace log switch in
// the settings lowers the log level to debug while it is on.
func (g *Globals) open(ctx context.Context, cfg server.Config) (*server.Server, *slog.Logger, error) {
	logger, err := g.newLogger(os.Stderr)
	if err != nil {
		return nil, nil, err
	}
	base := g.level.Level()

	cfg.DataDir = g.DataDir
	cfg.Logger = logger
	srv, err := server.New(ctx, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("opening %s: %w", g.DataDir, err)
	}

	srv.Settings().Subscribe(settings.PathTraceLog, func(v settings.Value) {
		if v.Bool() {
			g.level.Set(slog.LevelDebug)
		} else {
			g.level.Set(base)
		}
	})
	return srv, logger, nil
}

func (g *Globals) stdout() io.Writer {
	if g.out == nil {
		return os.Stdout
	}
	return g.out
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

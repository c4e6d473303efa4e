package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	playercache "github.com/wolfeidau/player-cache"
	"github.com/wolfeidau/player-cache/cachesize"
	"github.com/wolfeidau/player-cache/credentials"
	"github.com/wolfeidau/player-cache/credentials/opprovider"
	"github.com/wolfeidau/player-cache/dialog"
	"github.com/wolfeidau/player-cache/server"
	"github.com/wolfeidau/player-cache/telemetry"
)

// ServeCmd runs the HTTP server until interrupted.
type ServeCmd struct {
	Address          string        `help:"Address to listen on." default:":8080"`
	AuthToken        string        `help:"Bearer token required by every route except /health and /metrics."`
	CredentialsFile  string        `help:"Credentials template (JSON with env, file and op functions)." type:"existingfile"`
	FillTimeout      time.Duration `help:"Upstream fetch timeout for cache fills (0 disables)." default:"2m"`
	EvictionInterval time.Duration `help:"How often to enforce the music cache limit." default:"10m"`
	CacheTTL         time.Duration `help:"Evict music not played within this duration (0 disables)." default:"0s"`
	OTLPEndpoint     string        `help:"OTLP gRPC endpoint for metrics export, e.g. localhost:4317."`
	Prometheus       bool          `help:"Serve Prometheus metrics on /metrics." default:"true" negatable:""`
}

func (c *ServeCmd) Run(g *Globals) error {
	ctx, cancel := signalContext()
	defer cancel()

	shutdownMetrics, err := telemetry.InitMetrics(ctx, telemetry.MetricsConfig{
		ServiceName:      "player-cache",
		ServiceVersion:   version,
		OTLPEndpoint:     c.OTLPEndpoint,
		EnablePrometheus: c.Prometheus,
	})
	if err != nil {
		return fmt.Errorf("initialising metrics: %w", err)
	}
	defer func() { _ = shutdownMetrics(context.Background()) }()

	var creds *credentials.Credentials
	if c.CredentialsFile != "" {
		creds, err = credentials.NewResolver(opprovider.WithOnePassword()).ResolveFile(ctx, c.CredentialsFile)
		if err != nil {
			return err
		}
	}

	srv, logger, err := g.open(ctx, server.Config{
		Address:          c.Address,
		AuthToken:        c.AuthToken,
		Credentials:      creds,
		FillTimeout:      c.FillTimeout,
		EvictionInterval: c.EvictionInterval,
		CacheTTL:         c.CacheTTL,
	})
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	logger.Info("server started",
		"address", srv.Address(),
		"data_dir", g.DataDir,
		"auth", c.AuthToken != "" || (creds != nil && creds.AuthToken != ""),
	)

	select {
	case <-ctx.Done():
		logger.Info("received signal, shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return errors.Join(err, srv.Close())
	}
}

// SizesCmd prints the cache size snapshot.
type SizesCmd struct {
	Disk bool `help:"Also measure the bytes on disk per category."`
	JSON bool `help:"Print the snapshot as JSON."`
}

func (c *SizesCmd) Run(g *Globals) error {
	ctx, cancel := signalContext()
	defer cancel()

	srv, _, err := g.open(ctx, server.Config{})
	if err != nil {
		return err
	}
	defer func() { _ = srv.Close() }()

	if err := srv.Coordinator().Refresh(ctx); err != nil {
		return fmt.Errorf("reading cache sizes: %w", err)
	}
	snap := srv.Coordinator().Snapshot()

	if c.JSON {
		enc := json.NewEncoder(g.stdout())
		enc.SetIndent("", "  ")
		return enc.Encode(snap)
	}

	tw := tabwriter.NewWriter(g.stdout(), 0, 4, 2, ' ', 0)
	if c.Disk {
		fmt.Fprintln(tw, "CATEGORY\tINDEXED\tON DISK")
	} else {
		fmt.Fprintln(tw, "CATEGORY\tSIZE")
	}
	for _, cat := range playercache.Categories() {
		if !c.Disk {
			fmt.Fprintf(tw, "%s\t%s\n", cat, snap.Human(cat))
			continue
		}
		disk, err := srv.Media().DiskUsage(ctx, cat)
		if err != nil {
			return fmt.Errorf("measuring %s: %w", cat, err)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", cat, snap.Human(cat), cachesize.FormatBytes(disk))
	}
	fmt.Fprintf(tw, "total\t%s\n", cachesize.FormatBytes(snap.Total()))
	return tw.Flush()
}

// ClearCmd clears one category through the same confirmation dialog the
// settings page uses.
type ClearCmd struct {
	Category string `arg:"" enum:"music,lyric,image" help:"Category to clear (${enum})."`
	Yes      bool   `short:"y" help:"Confirm the clear."`
}

func (c *ClearCmd) Run(g *Globals) error {
	if !c.Yes {
		return fmt.Errorf("clearing the %s cache needs --yes", c.Category)
	}
	category, err := playercache.ParseCategory(c.Category)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	srv, _, err := g.open(ctx, server.Config{})
	if err != nil {
		return err
	}
	defer func() { _ = srv.Close() }()

	id, err := srv.Page().PromptClear(ctx, category)
	if err != nil {
		return err
	}
	if err := srv.Dialogs().Confirm(ctx, id, dialog.Response{}); err != nil {
		return err
	}
	fmt.Fprintln(g.stdout(), cachesize.ClearedMessage(category))
	return nil
}

// ConfigCmd reads and writes settings.
type ConfigCmd struct {
	Get   ConfigGetCmd   `cmd:"" help:"Print the JSON value at a dotted path."`
	Set   ConfigSetCmd   `cmd:"" help:"Write a JSON value at a dotted path."`
	Limit ConfigLimitCmd `cmd:"" help:"Set the music cache limit in megabytes (100-8192)."`
	Show  ConfigShowCmd  `cmd:"" help:"Print the settings page."`
}

type ConfigGetCmd struct {
	Path string `arg:"" help:"Dotted path, e.g. setting.basic.maxCacheSize."`
}

func (c *ConfigGetCmd) Run(g *Globals) error {
	ctx, cancel := signalContext()
	defer cancel()

	srv, _, err := g.open(ctx, server.Config{})
	if err != nil {
		return err
	}
	defer func() { _ = srv.Close() }()

	v := srv.Settings().Get(c.Path)
	if !v.Exists() {
		return fmt.Errorf("setting %s is not set", c.Path)
	}
	fmt.Fprintln(g.stdout(), v.Raw())
	return nil
}

type ConfigSetCmd struct {
	Path  string `arg:"" help:"Dotted path, e.g. setting.basic.notInterrupt."`
	Value string `arg:"" help:"JSON value, e.g. true, 5 or '\"text\"'."`
}

func (c *ConfigSetCmd) Run(g *Globals) error {
	ctx, cancel := signalContext()
	defer cancel()

	srv, _, err := g.open(ctx, server.Config{})
	if err != nil {
		return err
	}
	defer func() { _ = srv.Close() }()

	if err := srv.Settings().SetRaw(ctx, c.Path, c.Value); err != nil {
		return err
	}
	fmt.Fprintln(g.stdout(), srv.Settings().Get(c.Path).Raw())
	return nil
}

type ConfigLimitCmd struct {
	Megabytes string `arg:"" help:"Limit in megabytes; values above 8192 are clamped."`
}

func (c *ConfigLimitCmd) Run(g *Globals) error {
	ctx, cancel := signalContext()
	defer cancel()

	srv, _, err := g.open(ctx, server.Config{})
	if err != nil {
		return err
	}
	defer func() { _ = srv.Close() }()

	committed, err := srv.Page().SetCacheSizeLimit(ctx, c.Megabytes, nil)
	if err != nil {
		return err
	}
	if !committed {
		return fmt.Errorf("cache limit %q rejected: expected megabytes between 100 and 8192", c.Megabytes)
	}
	fmt.Fprintln(g.stdout(), cachesize.FormatBytes(srv.Page().Basic().MaxCacheSize))
	return nil
}

type ConfigShowCmd struct{}

func (c *ConfigShowCmd) Run(g *Globals) error {
	ctx, cancel := signalContext()
	defer cancel()

	srv, _, err := g.open(ctx, server.Config{})
	if err != nil {
		return err
	}
	defer func() { _ = srv.Close() }()

	tw := tabwriter.NewWriter(g.stdout(), 0, 4, 2, ' ', 0)
	for _, sec := range srv.Page().Sections() {
		fmt.Fprintf(tw, "[%s]\n", sec.Title)
		for _, item := range sec.Items {
			fmt.Fprintf(tw, "  %s\t%s\n", item.Title, item.Value)
		}
	}
	return tw.Flush()
}

// DialogsCmd lists the dialog registry in presentation order.
type DialogsCmd struct{}

func (c *DialogsCmd) Run(g *Globals) error {
	for _, e := range dialog.Entries() {
		fmt.Fprintln(g.stdout(), e.Name)
	}
	return nil
}

// ReindexCmd rebuilds index records for entries present on disk.
type ReindexCmd struct {
	Categories []string `arg:"" optional:"" help:"Categories to reindex (music, lyric, image); all when omitted."`
}

func (c *ReindexCmd) Run(g *Globals) error {
	ctx, cancel := signalContext()
	defer cancel()

	srv, logger, err := g.open(ctx, server.Config{})
	if err != nil {
		return err
	}
	defer func() { _ = srv.Close() }()

	categories := playercache.Categories()
	if len(c.Categories) > 0 {
		categories = categories[:0]
		for _, name := range c.Categories {
			cat, err := playercache.ParseCategory(name)
			if err != nil {
				return err
			}
			categories = append(categories, cat)
		}
	}

	for _, cat := range categories {
		added, err := srv.Media().Reindex(ctx, cat)
		if err != nil {
			return fmt.Errorf("reindexing %s: %w", cat, err)
		}
		logger.Info("reindexed", "category", cat, "added", added)
		fmt.Fprintf(g.stdout(), "%s\t%d added\n", cat, added)
	}
	return srv.Coordinator().Refresh(ctx)
}

// EvictCmd enforces the music cache limit once.
type EvictCmd struct{}

func (c *EvictCmd) Run(g *Globals) error {
	ctx, cancel := signalContext()
	defer cancel()

	srv, _, err := g.open(ctx, server.Config{})
	if err != nil {
		return err
	}
	defer func() { _ = srv.Close() }()

	res := srv.Evictor().RunOnce(ctx)
	fmt.Fprintf(g.stdout(), "evicted %d entries, freed %s, %s of %s used\n",
		res.Evicted+res.TTLExpired,
		cachesize.FormatBytes(res.BytesFreed),
		cachesize.FormatBytes(res.Remaining),
		cachesize.FormatBytes(res.Limit),
	)
	if res.Errors > 0 {
		return fmt.Errorf("%d entries could not be evicted", res.Errors)
	}
	return nil
}

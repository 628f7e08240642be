package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/steveyegge/docgallery/internal/daemon"
	"github.com/steveyegge/docgallery/internal/feed"
	"github.com/steveyegge/docgallery/internal/intake"
	"github.com/steveyegge/docgallery/internal/metrics"
	"github.com/steveyegge/docgallery/internal/sync"
)

var daemonCmd = &cobra.Command{
	Use:     "daemon",
	GroupID: "service",
	Short:   "Import images from an inbox directory and sync on a schedule",
	Long: `Run in the foreground until interrupted.

Image files dropped into the inbox are added to one document (created when
missing) and moved to inbox/imported, or to inbox/failed when they are not
valid images. Syncs run on a cron schedule such as "@every 15m" or
"0 * * * *"; a scheduled sync that fires while another runs is skipped.

With --feed the status feed and /metrics are served as well.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		withFeed, _ := cmd.Flags().GetBool("feed")
		return runService(cmd, withFeed)
	},
}

var serveCmd = &cobra.Command{
	Use:     "serve",
	GroupID: "service",
	Short:   "Run the daemon with the websocket status feed and /metrics",
	Long: `Run the daemon and serve live status for external UIs.

Endpoints:
  /ws       websocket feed of sync states, results and collection stats
  /health   JSON health and collection summary
  /metrics  Prometheus metrics`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runService(cmd, true)
	},
}

func runService(cmd *cobra.Command, withFeed bool) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cmd.Flags().Changed("inbox") {
		cfg.Daemon.Inbox, _ = cmd.Flags().GetString("inbox")
	}
	if cmd.Flags().Changed("document") {
		cfg.Daemon.Document, _ = cmd.Flags().GetString("document")
	}
	if cmd.Flags().Changed("schedule") {
		cfg.Daemon.Schedule, _ = cmd.Flags().GetString("schedule")
	}
	if cmd.Flags().Changed("addr") {
		cfg.Feed.Addr, _ = cmd.Flags().GetString("addr")
	}

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	m := metrics.New()
	m.ObserveCollection(a.lib.Snapshot())

	stats := func() feed.StatsData {
		s := feed.CollectionStats(a.lib.Snapshot())
		s.LastSyncAt = a.store.LoadSyncConfig(ctx).LastSyncAt
		return s
	}

	observers := []sync.Observer{m, collectionObserver{a: a, m: m}}
	var handler *feed.Handler
	if withFeed {
		server := feed.NewServer(&feed.Config{
			Addr:    cfg.Feed.Addr,
			Metrics: m.Handler(),
			Stats:   stats,
			Logger:  logger,
		})
		if err := server.Start(); err != nil {
			return err
		}
		defer func() {
			if err := server.Stop(); err != nil {
				logger.Warn("failed to stop feed server", "error", err)
			}
		}()
		handler = feed.NewHandler(server, stats)
		observers = append(observers, handler)
		printer(cmd).Info("Feed listening on http://%s", server.Addr())
	}

	var syncer sync.Syncer
	if sc := a.store.LoadSyncConfig(ctx); sc.Configured() {
		syncer = a.syncer(observers...)
	} else {
		printer(cmd).Warn("Sync is not configured; only importing. Run 'dg sync setup' to enable sync.")
	}

	dcfg := daemon.DefaultConfig()
	dcfg.InboxDir = cfg.Daemon.Inbox
	dcfg.DocumentName = cfg.Daemon.Document
	dcfg.SyncSchedule = cfg.Daemon.Schedule
	dcfg.SyncAfterImport = cfg.Daemon.SyncAfterImport
	if cfg.Daemon.Debounce > 0 {
		dcfg.DebounceInterval = cfg.Daemon.Debounce
	}
	dcfg.Logger = logger
	dcfg.OnBatch = func(b *intake.Batch) {
		m.ObserveBatch(b)
		m.ObserveCollection(a.lib.Snapshot())
		if handler != nil {
			handler.PublishStats()
		}
	}

	d, err := daemon.New(a.lib, syncer, dcfg)
	if err != nil {
		return err
	}

	p := printer(cmd)
	p.Info("Watching %s (document %q)", dcfg.InboxDir, dcfg.DocumentName)
	if syncer != nil && dcfg.SyncSchedule != "" {
		p.Muted("Sync schedule: %s", dcfg.SyncSchedule)
	}
	return d.Start(ctx)
}

// collectionObserver refreshes collection gauges after every sync.
type collectionObserver struct {
	a *app
	m *metrics.Metrics
}

func (o collectionObserver) OnState(sync.State) {}

func (o collectionObserver) OnComplete(*sync.Result, error) {
	o.m.ObserveCollection(o.a.lib.Snapshot())
}

func addServiceFlags(cmd *cobra.Command) {
	cmd.Flags().String("inbox", "", "Inbox directory (default: <data-dir>/inbox)")
	cmd.Flags().String("document", "", "Document that receives inbox images (default: Inbox)")
	cmd.Flags().String("schedule", "", `Sync schedule in cron syntax, e.g. "@every 30m"; empty disables`)
	cmd.Flags().String("addr", "", "Feed listen address (default: "+feed.DefaultAddr+")")
}

func init() {
	addServiceFlags(daemonCmd)
	addServiceFlags(serveCmd)
	daemonCmd.Flags().Bool("feed", false, "Also serve the status feed and /metrics")

	rootCmd.AddCommand(daemonCmd, serveCmd)
}

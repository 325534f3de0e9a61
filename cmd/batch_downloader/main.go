package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-chi/chi/v5"
	"github.com/spf13/cobra"

	"github.com/italolelis/batch_downloader/internal/config"
	"github.com/italolelis/batch_downloader/internal/downloader"
	"github.com/italolelis/batch_downloader/internal/http/rest"
	"github.com/italolelis/batch_downloader/internal/logctx"
	"github.com/italolelis/batch_downloader/internal/media"
	"github.com/italolelis/batch_downloader/internal/notifier"
	"github.com/italolelis/batch_downloader/internal/source/putio"
	"github.com/italolelis/batch_downloader/internal/storage"
	"github.com/italolelis/batch_downloader/internal/storage/sqlite"
	"github.com/italolelis/batch_downloader/internal/telemetry"
)

var version = "dev"

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("config error", "err", err)
		os.Exit(1)
	}

	logger := logctx.New(os.Stdout, cfg.SlogLevel())
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd(cfg).ExecuteContext(logctx.WithLogger(ctx, logger)); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(cfg *config.Config) *cobra.Command {
	root := &cobra.Command{
		Use:          "batch_downloader",
		Short:        "Downloads the media attached to posts of a remote collection in parallel batches.",
		Version:      version,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVarP(&cfg.Target, "target", "t", cfg.Target, "remote collection to read from")
	root.PersistentFlags().StringVarP(&cfg.TargetDir, "dir", "d", cfg.TargetDir, "output directory")
	root.PersistentFlags().StringVar(&cfg.MediaKinds, "kinds", cfg.MediaKinds, "comma separated media kinds, or all")
	root.PersistentFlags().StringVar(&cfg.Performance.Preset, "preset", cfg.Performance.Preset, "performance preset: conservative, balanced, aggressive or maximum")

	root.AddCommand(
		&cobra.Command{
			Use:     "run [space-delimited post ids]",
			Short:   "Download the media of the given post ids.",
			Example: "batch_downloader run -t movies 101 102 103",
			Args:    cobra.MinimumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				ids, err := parseIDs(args)
				if err != nil {
					return err
				}

				return run(cmd.Context(), cfg, func(ctx context.Context, s *downloader.Session) (downloader.Counts, error) {
					return s.Run(ctx, ids)
				})
			},
		},
		&cobra.Command{
			Use:   "download",
			Short: "Scan the target and download every matching item.",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return run(cmd.Context(), cfg, func(ctx context.Context, s *downloader.Session) (downloader.Counts, error) {
					return s.Download(ctx)
				})
			},
		},
		&cobra.Command{
			Use:   "scan",
			Short: "List the post ids a download would fetch.",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return scan(cmd, cfg)
			},
		},
		&cobra.Command{
			Use:   "history",
			Short: "Print the recorded outcomes for the target.",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return history(cmd, cfg)
			},
		},
	)

	return root
}

type runFunc func(ctx context.Context, s *downloader.Session) (downloader.Counts, error)

func run(ctx context.Context, cfg *config.Config, fn runFunc) error {
	logger := logctx.LoggerFromContext(ctx)

	// =========================================================================
	// Start Telemetry
	tel, err := telemetry.New(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
	})
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}

	defer func() {
		if err := tel.Shutdown(context.WithoutCancel(ctx)); err != nil {
			logger.Error("failed to shutdown telemetry", "err", err)
		}
	}()

	// =========================================================================
	// Start Database
	database, err := sqlite.InitDB(cfg.DBPath)
	if err != nil {
		logger.Error("DB error", "err", err)

		return err
	}
	defer database.Close()

	// =========================================================================
	// Start Session
	session, err := buildSession(ctx, cfg, tel, sqlite.NewInstrumentedHistoryRepository(database, tel))
	if err != nil {
		return err
	}

	// signal.NotifyContext cancels ctx on SIGINT; translate that into a
	// cooperative stop so in-flight tasks end as SKIPPED.
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	defer cancel()

	go func() {
		select {
		case <-ctx.Done():
			logger.Info("stop requested by signal")
			session.Stop()
		case <-runCtx.Done():
		}
	}()

	// =========================================================================
	// Start API Service
	if cfg.Web.Enabled {
		server := setupServer(runCtx, session, tel, cfg)

		go func() {
			logger.Info("Initializing API support", "host", cfg.Web.BindAddress)

			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("server error", "err", err)
			}
		}()

		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Web.ShutdownTimeout)
			defer cancel()

			if err := server.Shutdown(shutdownCtx); err != nil {
				logger.Error("failed to gracefully shutdown the server", "err", err)
				server.Close()
			}
		}()
	}

	counts, err := fn(runCtx, session)
	notify(runCtx, cfg, counts, session.Progress(), session.Stopped(), err)

	if err != nil {
		return fmt.Errorf("download failed: %w", err)
	}

	return nil
}

func scan(cmd *cobra.Command, cfg *config.Config) error {
	ctx := cmd.Context()

	source, err := buildSource(cfg, nil)
	if err != nil {
		return err
	}

	session, err := newSession(cfg, source, nil)
	if err != nil {
		return err
	}
	defer session.Close(ctx)

	ids, err := session.Scan(ctx)
	if err != nil {
		return err
	}

	for _, id := range ids {
		fmt.Fprintln(cmd.OutOrStdout(), id)
	}

	return nil
}

func history(cmd *cobra.Command, cfg *config.Config) error {
	database, err := sqlite.InitDB(cfg.DBPath)
	if err != nil {
		return err
	}
	defer database.Close()

	records, err := sqlite.NewHistoryRepository(database).GetHistory(cmd.Context(), cfg.Target)
	if err != nil {
		return err
	}

	for _, rec := range records {
		fmt.Fprintf(cmd.OutOrStdout(), "%d\t%s\t%s\t%s\t%s\n",
			rec.PostID, rec.Status, humanize.Bytes(uint64(rec.Bytes)), humanize.Time(rec.FinishedAt), rec.FilePath)
	}

	return nil
}

func buildSession(ctx context.Context, cfg *config.Config, tel *telemetry.Telemetry, repo storage.HistoryRepository) (*downloader.Session, error) {
	source, err := buildSource(cfg, tel)
	if err != nil {
		return nil, err
	}

	return newSession(cfg, source, &sessionDeps{ctx: ctx, tel: tel, repo: repo})
}

type sessionDeps struct {
	ctx  context.Context
	tel  *telemetry.Telemetry
	repo storage.HistoryRepository
}

func newSession(cfg *config.Config, source media.Source, deps *sessionDeps) (*downloader.Session, error) {
	opts, err := cfg.SessionOptions()
	if err != nil {
		return nil, err
	}

	var sessionOpts []downloader.Option
	if deps != nil {
		sessionOpts = append(sessionOpts, downloader.WithTelemetry(deps.tel), downloader.WithHistory(deps.repo))
	}

	session := downloader.NewSession(source, cfg.Target, cfg.TargetDir, cfg.PerformanceConfig(), observer(deps), sessionOpts...)
	session.SetOptions(opts)

	return session, nil
}

func observer(deps *sessionDeps) downloader.Observer {
	if deps == nil {
		return downloader.Observer{}
	}

	logger := logctx.LoggerFromContext(deps.ctx)

	return downloader.Observer{
		OnStatus: func(status string) {
			logger.Info("status changed", "status", status)
		},
		OnProgress: func(snap downloader.Snapshot) {
			logger.Debug("progress",
				"done", snap.Done(),
				"total", snap.Total,
				"overall", fmt.Sprintf("%.1f%%", snap.OverallProgress),
				"speed", humanize.Bytes(uint64(snap.Speed))+"/s",
				"eta", snap.ETA.String(),
			)
		},
	}
}

// This is an abstract factory for the media source.
func buildSource(cfg *config.Config, tel *telemetry.Telemetry) (media.Source, error) {
	client, err := putio.NewClient(putio.Config{
		Token:             cfg.PutioToken,
		BaseURL:           cfg.PutioBaseURL,
		RequestsPerSecond: cfg.PutioRateLimit,
		Burst:             cfg.PutioRateBurst,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build media source: %w", err)
	}

	return media.NewInstrumentedSource(client, tel, putio.ClientType), nil
}

// setupServer prepares the handlers and services to create the http rest server.
func setupServer(ctx context.Context, session *downloader.Session, tel *telemetry.Telemetry, cfg *config.Config) *http.Server {
	r := chi.NewRouter()
	r.Mount("/", rest.NewStatusHandler(session, tel).Routes())

	return &http.Server{
		Addr:         cfg.Web.BindAddress,
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		Handler:      r,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}
}

func notify(ctx context.Context, cfg *config.Config, counts downloader.Counts, snap downloader.Snapshot, stopped bool, runErr error) {
	if cfg.DiscordWebhookURL == "" {
		return
	}

	logger := logctx.LoggerFromContext(ctx)

	var notif notifier.Notifier = notifier.NewDiscordNotifier(cfg.DiscordWebhookURL)

	var content string

	switch {
	case runErr != nil:
		content = fmt.Sprintf("❌ Download of %s failed: %v", cfg.Target, runErr)
	case stopped:
		content = fmt.Sprintf("⏹️ Download of %s stopped: %d/%d downloaded", cfg.Target, counts.Completed, counts.Total)
	default:
		content = fmt.Sprintf("✅ Download of %s finished: %d/%d downloaded, %d failed, %d skipped (%s in %s)",
			cfg.Target, counts.Completed, counts.Total, counts.Failed, counts.Skipped,
			humanize.Bytes(uint64(snap.Bytes)), snap.Elapsed.Round(time.Second))
	}

	if err := notif.Notify(ctx, content); err != nil {
		logger.Error("failed to send notification", "err", err)
	}
}

func parseIDs(args []string) ([]int64, error) {
	ids := make([]int64, 0, len(args))

	for _, arg := range args {
		id, err := strconv.ParseInt(arg, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid post id %q: %w", arg, err)
		}

		ids = append(ids, id)
	}

	return ids, nil
}

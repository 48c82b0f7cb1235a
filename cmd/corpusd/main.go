package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/dshills/selectsense-mcp/internal/backend"
	"github.com/dshills/selectsense-mcp/internal/config"
	"github.com/dshills/selectsense-mcp/internal/embedder"
	"github.com/dshills/selectsense-mcp/internal/indexer"
	"github.com/dshills/selectsense-mcp/internal/storage"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "corpusd: %v\n", err)
		os.Exit(1)
	}
}

// options are the flags shared by every subcommand
type options struct {
	configPath string
	dbPath     string
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:           "corpusd",
		Short:         "Reference corpus backend for SelectSense",
		Version:       fmt.Sprintf("%s (built %s, %s build)", version, buildTime, storage.BuildMode),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "config file")
	cmd.PersistentFlags().StringVar(&opts.dbPath, "db", "", "SQLite database path (overrides backend.db_path)")

	cmd.AddCommand(newServeCmd(opts), newIndexCmd(opts))
	return cmd
}

func newServeCmd(opts *options) *cobra.Command {
	var (
		addr  string
		watch []string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the corpus over HTTP",
		Long: `Serve the section corpus over HTTP: the corpus snapshot with embeddings,
keyword search, related-section search, embedding and document ingest.

With --watch the given paths are ingested at startup and kept in sync while
the server runs.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := open(opts)
			if err != nil {
				return err
			}
			defer a.close()

			serverCfg := a.cfg.ServerConfig(a.logger)
			if addr != "" {
				serverCfg.Addr = addr
			}
			srv, err := backend.New(a.store, a.emb, a.idx, serverCfg)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if len(watch) == 0 {
				return srv.Run(ctx)
			}
			if _, err := a.idx.IndexPaths(ctx, watch); err != nil {
				return err
			}
			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error { return srv.Run(gctx) })
			g.Go(func() error { return a.idx.Watch(gctx, watch, a.cfg.Backend.WatchDebounce) })
			return g.Wait()
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides backend.addr)")
	cmd.Flags().StringSliceVar(&watch, "watch", nil, "ingest these paths and re-ingest them when they change")
	return cmd
}

func newIndexCmd(opts *options) *cobra.Command {
	var watch bool
	cmd := &cobra.Command{
		Use:   "index <path>...",
		Short: "Ingest markdown and text files into the corpus",
		Long: `Ingest files into the corpus. Directories are walked for .md, .markdown,
.mdx, .txt and .text files; hidden directories are skipped. Unchanged
documents are skipped by content hash, and a changed file replaces the
document ingested from the same path.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := open(opts)
			if err != nil {
				return err
			}
			defer a.close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			stats, err := a.idx.IndexPaths(ctx, args)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Indexed %d documents (%d skipped, %d failed), %d sections in %v\n",
				stats.DocumentsIndexed, stats.DocumentsSkipped, stats.DocumentsFailed,
				stats.SectionsCreated, stats.Duration.Round(time.Millisecond))
			fmt.Fprintf(out, "Corpus version: %d\n", stats.CorpusVersion)
			for _, msg := range stats.ErrorMessages {
				fmt.Fprintf(out, "  error: %s\n", msg)
			}

			if watch {
				fmt.Fprintln(out, "Watching for changes, press Ctrl+C to stop")
				return a.idx.Watch(ctx, args, a.cfg.Backend.WatchDebounce)
			}
			if stats.DocumentsFailed > 0 && stats.DocumentsIndexed == 0 && stats.DocumentsSkipped == 0 {
				return fmt.Errorf("no documents indexed")
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "keep running and re-ingest files as they change")
	return cmd
}

// app holds the components every subcommand needs
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	store  storage.Storage
	emb    embedder.Embedder
	idx    *indexer.Indexer
}

func open(opts *options) (*app, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}
	if opts.dbPath != "" {
		cfg.Backend.DBPath = opts.dbPath
	}
	logger := cfg.NewLogger(os.Stderr)

	if err := os.MkdirAll(filepath.Dir(cfg.Backend.DBPath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}
	store, err := storage.NewSQLiteStorage(cfg.Backend.DBPath)
	if err != nil {
		return nil, err
	}

	embCfg := cfg.EmbedderConfig(logger)
	if cfg.Backend.Dimension > 0 {
		embCfg.Dimension = cfg.Backend.Dimension
	}
	emb, err := embedder.New(embCfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	logger.Info("corpusd ready",
		"db", cfg.Backend.DBPath,
		"build_mode", storage.BuildMode,
		"driver", storage.DriverName,
		"vector_extension", storage.VectorExtensionAvailable,
		"embedding_provider", embedder.DetectProvider(embCfg))

	return &app{
		cfg:    cfg,
		logger: logger,
		store:  store,
		emb:    emb,
		idx:    indexer.New(store, emb, cfg.IndexerConfig(logger)),
	}, nil
}

func (a *app) close() {
	_ = a.emb.Close()
	if err := a.store.Close(); err != nil {
		a.logger.Warn("failed to close storage", "error", err)
	}
}

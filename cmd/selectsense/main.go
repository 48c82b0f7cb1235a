package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dshills/selectsense-mcp/internal/config"
	"github.com/dshills/selectsense-mcp/internal/corpus"
	"github.com/dshills/selectsense-mcp/internal/embedder"
	"github.com/dshills/selectsense-mcp/internal/mcp"
	"github.com/dshills/selectsense-mcp/internal/searcher"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		configPath string
		httpAddr   string
	)

	cmd := &cobra.Command{
		Use:   "selectsense",
		Short: "Selection-driven related-section search over MCP",
		Long: `SelectSense finds sections of a document corpus related to the text a
reader has selected. It speaks the Model Context Protocol on stdio, or on
streamable HTTP with --http.

MCP client configuration:
  {
    "mcpServers": {
      "selectsense": {
        "command": "/usr/local/bin/selectsense",
        "env": {"SELECTSENSE_CORPUS_URL": "http://localhost:8080"}
      }
    }
  }`,
		Version:       fmt.Sprintf("%s (built %s)", version, buildTime),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), configPath, httpAddr)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "config file (default ./selectsense.yaml or the user config dir)")
	cmd.Flags().StringVar(&httpAddr, "http", "", "serve MCP over streamable HTTP on this address instead of stdio")
	return cmd
}

func run(parent context.Context, configPath, httpAddr string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "selectsense: %v\n", err)
		return err
	}

	// stdout is reserved for the MCP protocol
	logger := cfg.NewLogger(os.Stderr)
	logger.Info("selectsense starting",
		"version", version,
		"corpus_url", cfg.Corpus.BaseURL,
		"embedding_provider", embedder.DetectProvider(cfg.EmbedderConfig(nil)),
		"mode", cfg.Search.Mode)

	emb, err := embedder.New(cfg.EmbedderConfig(logger))
	if err != nil {
		logger.Error("failed to create embedder", "error", err)
		return err
	}
	defer func() { _ = emb.Close() }()

	client, err := corpus.New(cfg.CorpusConfig(logger))
	if err != nil {
		logger.Error("failed to create corpus client", "error", err)
		return err
	}
	defer func() { _ = client.Close() }()

	srch, err := searcher.NewSearcher(emb, client, cfg.SearcherConfig(logger))
	if err != nil {
		logger.Error("failed to create searcher", "error", err)
		return err
	}
	defer func() { _ = srch.Close() }()

	server, err := mcp.NewServer(srch, logger)
	if err != nil {
		logger.Error("failed to create MCP server", "error", err)
		return err
	}

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if httpAddr != "" {
		err = server.ServeHTTP(ctx, httpAddr)
	} else {
		err = server.Serve(ctx, os.Stdin, os.Stdout)
	}
	if err != nil && ctx.Err() == nil {
		logger.Error("server error", "error", err)
		return err
	}

	logger.Info("server stopped")
	return nil
}

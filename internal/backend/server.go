package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/dshills/selectsense-mcp/internal/embedder"
	"github.com/dshills/selectsense-mcp/internal/indexer"
	"github.com/dshills/selectsense-mcp/internal/ranking"
	"github.com/dshills/selectsense-mcp/internal/storage"
	"github.com/dshills/selectsense-mcp/pkg/types"
)

// VersionHeader carries the corpus version on every response
const VersionHeader = "X-Corpus-Version"

// Server defaults
const (
	DefaultAddr             = ":8080"
	DefaultMaxBodyBytes     = 16 << 20
	DefaultRelatedCacheSize = 256
	DefaultMaxResults       = 5
	DefaultRelatedMinScore  = 0.3
	MinSelectionLength      = 5
	shutdownTimeout         = 10 * time.Second
)

// Config configures the HTTP backend
type Config struct {
	Addr             string
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration
	MaxBodyBytes     int64
	RelatedCacheSize int
	RelatedMinScore  float64 // zero selects DefaultRelatedMinScore
	MaxResults       int     // default top-k for /selection/related and /search
	RateLimit        int     // requests per minute per client IP; zero disables
	SnippetSentences int
	CORSOrigins      []string
	Logger           *slog.Logger
}

// Server serves the section corpus over HTTP
type Server struct {
	cfg      Config
	store    storage.Storage
	embedder embedder.Embedder
	indexer  *indexer.Indexer
	logger   *slog.Logger
	router   *gin.Engine

	related       *lru.Cache[string, []types.SearchResult]
	relatedHits   atomic.Int64
	relatedMisses atomic.Int64
	started       time.Time
}

// New builds a server over store. The embedder vectorises selections and the
// indexer handles document ingest and deletion.
func New(store storage.Storage, emb embedder.Embedder, idx *indexer.Indexer, cfg Config) (*Server, error) {
	if store == nil || emb == nil || idx == nil {
		return nil, errors.New("backend: store, embedder and indexer are required")
	}
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if cfg.RelatedCacheSize <= 0 {
		cfg.RelatedCacheSize = DefaultRelatedCacheSize
	}
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = DefaultMaxResults
	}
	if cfg.RelatedMinScore <= 0 {
		cfg.RelatedMinScore = DefaultRelatedMinScore
	}
	if cfg.SnippetSentences <= 0 {
		cfg.SnippetSentences = ranking.DefaultMaxSentence
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	related, err := lru.New[string, []types.SearchResult](cfg.RelatedCacheSize)
	if err != nil {
		return nil, fmt.Errorf("create related cache: %w", err)
	}

	s := &Server{
		cfg:      cfg,
		store:    store,
		embedder: emb,
		indexer:  idx,
		logger:   cfg.Logger,
		related:  related,
		started:  time.Now(),
	}
	s.router = s.routes()
	return s, nil
}

func (s *Server) routes() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	router.Use(RequestLogger(s.logger))
	router.Use(SecurityHeaders())
	router.Use(cors.New(s.corsConfig()))
	router.Use(RateLimit(s.cfg.RateLimit))
	router.Use(BodyLimit(s.cfg.MaxBodyBytes))
	router.Use(s.corpusVersion())

	router.GET("/health", s.health)
	router.GET("/stats", s.stats)

	router.POST("/embed", s.embed)
	router.GET("/embeddings", s.embeddings)
	router.GET("/search", s.search)
	router.POST("/selection/related", s.relatedSections)

	router.GET("/documents", s.listDocuments)
	router.POST("/documents", s.createDocument)
	router.DELETE("/documents/:id", s.deleteDocument)
	router.GET("/documents/:id/sections/:section_id", s.navigate)

	return router
}

// Handler returns the HTTP handler, for tests and embedding in other servers
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves on the configured address until ctx is done, then shuts down gracefully
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.cfg.Addr,
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("backend listening", "addr", s.cfg.Addr, "build_mode", storage.BuildMode)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	s.logger.Info("backend shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) corsConfig() cors.Config {
	cfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept"},
		ExposeHeaders: []string{VersionHeader, RequestIDHeader, ProcessTimeHeader},
		MaxAge:        12 * time.Hour,
	}
	origins := make([]string, 0, len(s.cfg.CORSOrigins))
	for _, o := range s.cfg.CORSOrigins {
		if o == "*" {
			origins = nil
			break
		}
		origins = append(origins, o)
	}
	if len(origins) == 0 {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
	}
	return cfg
}

// corpusVersion stamps every response with the version the request observed.
// Mutating handlers overwrite it with the version they produced.
func (s *Server) corpusVersion() gin.HandlerFunc {
	return func(c *gin.Context) {
		if v, err := s.store.CorpusVersion(c.Request.Context()); err == nil {
			c.Header(VersionHeader, strconv.FormatUint(v, 10))
		}
		c.Next()
	}
}

// invalidate drops cached related results after the corpus changed
func (s *Server) invalidate(c *gin.Context, version uint64) {
	s.related.Purge()
	c.Header(VersionHeader, strconv.FormatUint(version, 10))
}

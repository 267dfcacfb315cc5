// Parallax research orchestrator — serves the HTTP and MCP tool surfaces,
// runs the async job engine, and executes the research pipeline.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/parallax-research/parallax/pkg/api"
	"github.com/parallax-research/parallax/pkg/cache"
	"github.com/parallax-research/parallax/pkg/cleanup"
	"github.com/parallax-research/parallax/pkg/config"
	"github.com/parallax-research/parallax/pkg/embed"
	"github.com/parallax-research/parallax/pkg/events"
	"github.com/parallax-research/parallax/pkg/index"
	"github.com/parallax-research/parallax/pkg/llm"
	"github.com/parallax-research/parallax/pkg/queue"
	"github.com/parallax-research/parallax/pkg/research"
	"github.com/parallax-research/parallax/pkg/store"
	"github.com/parallax-research/parallax/pkg/tools"
	"github.com/parallax-research/parallax/pkg/version"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	// Parse command-line flags
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "."),
		"Path to configuration directory")
	httpAddr := flag.String("http",
		":"+getEnv("HTTP_PORT", "8080"),
		"HTTP listen address")
	stdio := flag.Bool("stdio", false,
		"Serve the MCP stdio transport instead of HTTP")
	reindex := flag.Bool("reindex", false,
		"Force re-embedding of stored vectors on startup")
	flag.Parse()

	// Load .env file from config directory
	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment",
			"path", envPath, "error", err)
	} else {
		slog.Info("Loaded environment", "path", envPath)
	}

	slog.Info("Starting parallax",
		"version", version.Full(),
		"config_dir", *configDir)

	ctx := context.Background()

	// 1. Initialize configuration
	cfg, err := config.LoadFromEnv()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	// 2. Open the store (Postgres, or the in-memory fallback when allowed)
	st, err := store.Open(ctx, cfg.Store)
	if err != nil {
		slog.Error("Failed to open store", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := st.Close(); err != nil {
			slog.Error("Error closing store", "error", err)
		}
	}()
	slog.Info("Store ready", "identity", st.Identity())

	// 3. Embedder and vector version sync. A failed sync leaves old vectors
	// in place; search quality degrades but the server still starts.
	embedder := embed.NewOpenAI(cfg.Provider, cfg.Store.VectorDim)
	if err := embed.SyncVersion(ctx, st, embedder, *reindex); err != nil {
		slog.Warn("Embedder version sync failed", "error", err)
	}

	// 4. Model catalog, cost router, and completion client
	catalog := llm.NewCatalog(cfg.Models)
	catalog.Start(ctx)
	router := llm.NewRouter(cfg.Models, catalog)
	completer := llm.NewClient(cfg.Provider)

	// 5. Answer cache, hybrid index, and the research pipeline
	answerCache := cache.New(cfg.Cache)
	idx := index.New(cfg.Index, st, embedder, completer)
	pipeline := research.NewPipeline(cfg.Pipeline, st, answerCache, idx, embedder, completer, router)

	// 6. Event stream and job engine
	publisher := events.NewPublisher(st, events.NewBroadcaster())
	engine := queue.NewEngine(cfg.Queue, st, publisher)
	engine.Register(tools.JobTypeResearch, queue.NewResearchHandler(pipeline, st, publisher))
	engine.Start(ctx)

	retention := cleanup.NewService(cfg.Retention, st)
	retention.Start(ctx)
	defer retention.Stop()

	// 7. Tool surface and MCP server
	surface := tools.New(cfg.Tools, cfg.Provider, tools.Deps{
		Store:     st,
		Pipeline:  pipeline,
		Engine:    engine,
		Index:     idx,
		Embedder:  embedder,
		Catalog:   catalog,
		Cache:     answerCache,
		Publisher: publisher,
	})
	mcpServer := tools.NewMCPServer(surface, version.GitCommit)

	if *stdio {
		runStdio(ctx, mcpServer, engine)
		return
	}

	// 8. Start HTTP server (non-blocking)
	httpServer := &http.Server{
		Addr:    *httpAddr,
		Handler: api.NewServer(surface, publisher, st, mcpServer.Handler()).Router(),
	}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "addr", *httpAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server error", "error", err)
			errCh <- err
		}
	}()

	slog.Info("Parallax started successfully",
		"workers", cfg.Queue.WorkerCount,
		"store", st.Identity())

	// 9. Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// 10. Graceful shutdown: drain the workers, then the HTTP server with
	// its own timeout budget
	engine.Stop()

	httpShutdownCtx, httpCancel := context.WithTimeout(ctx, 5*time.Second)
	defer httpCancel()
	if err := httpServer.Shutdown(httpShutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	slog.Info("Shutdown complete")
}

// runStdio serves the MCP stdio transport until the client disconnects or a
// signal arrives. slog already writes to stderr, so stdout stays a clean
// protocol stream.
func runStdio(ctx context.Context, m *tools.MCPServer, engine *queue.Engine) {
	runCtx, cancel := signal.NotifyContext(ctx, syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	slog.Info("Serving MCP over stdio")
	if err := m.RunStdio(runCtx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("MCP stdio transport failed", "error", err)
	}
	engine.Stop()
	slog.Info("Shutdown complete")
}

// Command server exposes the extraction pipeline over HTTP: submit
// text or documents, list and resume persisted runs, download exports,
// and search extracted entities.
//
// Persistence uses SQLite FTS5, so build with the tag:
//
//	go run -tags sqlite_fts5 ./cmd/server -config config.yaml
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/brunobiangulo/graphmend"
)

func main() {
	configPath := flag.String("config", "", "Path to config file (YAML or JSON)")
	addr := flag.String("addr", ":8080", "Listen address")
	flag.Parse()

	// Structured JSON logging.
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	cfg := graphmend.DefaultConfig()
	if *configPath != "" {
		var err error
		cfg, err = graphmend.LoadConfig(*configPath)
		if err != nil {
			slog.Error("loading config", "error", err)
			os.Exit(1)
		}
	}

	applyEnvOverrides(&cfg)

	apiKey := os.Getenv("GRAPHMEND_API_KEY")
	corsOrigins := os.Getenv("GRAPHMEND_CORS_ORIGINS")

	engine, err := graphmend.New(cfg)
	if err != nil {
		slog.Error("creating engine", "error", err)
		os.Exit(1)
	}
	defer engine.Close()

	h := newHandler(engine)
	mux := http.NewServeMux()

	mux.HandleFunc("POST /extract", h.handleExtract)
	mux.HandleFunc("GET /runs", h.handleListRuns)
	mux.HandleFunc("GET /runs/{id}", h.handleRunReport)
	mux.HandleFunc("POST /runs/{id}/resume", h.handleResume)
	mux.HandleFunc("GET /runs/{id}/graphml", h.handleRunGraphML)
	mux.HandleFunc("GET /runs/{id}/xlsx", h.handleRunWorkbook)
	mux.HandleFunc("DELETE /runs/{id}", h.handleDeleteRun)
	mux.HandleFunc("GET /search", h.handleSearch)
	mux.HandleFunc("GET /health", h.handleHealth)

	// Middleware chain: recovery -> cors -> auth -> logging -> mux
	var handler http.Handler = mux
	handler = logMiddleware(handler)
	handler = authMiddleware(apiKey, handler)
	handler = corsMiddleware(corsOrigins, handler)
	handler = recoveryMiddleware(handler)

	srv := &http.Server{
		Addr:         *addr,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // extraction runs can be long
		IdleTimeout:  120 * time.Second,
	}

	// Graceful shutdown on SIGTERM/SIGINT.
	done := make(chan os.Signal, 1)
	signal.Notify(done, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("server starting", "addr", *addr, "persist", cfg.Persist)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-done
	slog.Info("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	slog.Info("server stopped")
}

// applyEnvOverrides lets deployment environments adjust the config
// without a file. GRAPHMEND_DB_PATH implies persistence.
func applyEnvOverrides(cfg *graphmend.Config) {
	if v := os.Getenv("GRAPHMEND_DB_PATH"); v != "" {
		cfg.DBPath = v
		cfg.Persist = true
	}
	if v := os.Getenv("GRAPHMEND_PERSIST"); v == "true" || v == "1" {
		cfg.Persist = true
	}
	if v := os.Getenv("GRAPHMEND_COMPLETION_PROVIDER"); v != "" {
		cfg.Completion.Provider = v
	}
	if v := os.Getenv("GRAPHMEND_COMPLETION_MODEL"); v != "" {
		cfg.Completion.Model = v
	}
	if v := os.Getenv("GRAPHMEND_COMPLETION_BASE_URL"); v != "" {
		cfg.Completion.BaseURL = v
	}
	if v := os.Getenv("GRAPHMEND_COMPLETION_API_KEY"); v != "" {
		cfg.Completion.APIKey = v
	}
	if v := os.Getenv("GRAPHMEND_EMBED_PROVIDER"); v != "" {
		cfg.Embedding.Provider = v
	}
	if v := os.Getenv("GRAPHMEND_EMBED_MODEL"); v != "" {
		cfg.Embedding.Model = v
	}
	if v := os.Getenv("GRAPHMEND_EMBED_BASE_URL"); v != "" {
		cfg.Embedding.BaseURL = v
	}
	if v := os.Getenv("GRAPHMEND_EMBED_API_KEY"); v != "" {
		cfg.Embedding.APIKey = v
	}

	// Fallback: check well-known provider env vars for API keys.
	if cfg.Completion.APIKey == "" {
		cfg.Completion.APIKey = providerKeyFromEnv(cfg.Completion.Provider)
	}
	if cfg.Embedding.APIKey == "" {
		cfg.Embedding.APIKey = providerKeyFromEnv(cfg.Embedding.Provider)
	}
}

func providerKeyFromEnv(provider string) string {
	switch provider {
	case "openai":
		return os.Getenv("OPENAI_API_KEY")
	case "openrouter":
		return os.Getenv("OPENROUTER_API_KEY")
	case "groq":
		return os.Getenv("GROQ_API_KEY")
	case "xai":
		return os.Getenv("XAI_API_KEY")
	case "gemini":
		return os.Getenv("GEMINI_API_KEY")
	}
	return ""
}

package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bbiangul/recall"
)

func main() {
	configPath := flag.String("config", "", "Path to config file (JSON)")
	addr := flag.String("addr", ":8080", "Listen address")
	flag.Parse()

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	cfg := recall.DefaultConfig()
	if *configPath != "" {
		f, err := os.Open(*configPath)
		if err != nil {
			slog.Error("opening config", "error", err)
			os.Exit(1)
		}
		if err := json.NewDecoder(f).Decode(&cfg); err != nil {
			f.Close()
			slog.Error("parsing config", "error", err)
			os.Exit(1)
		}
		f.Close()
	}

	applyEnvOverrides(&cfg)

	engine, err := recall.New(cfg, nil, nil)
	if err != nil {
		slog.Error("creating engine", "error", err)
		os.Exit(1)
	}
	defer engine.Close()

	apiKey := os.Getenv("RECALL_API_KEY")
	corsOrigins := os.Getenv("RECALL_CORS_ORIGINS")

	h := newHandler(engine)
	mux := http.NewServeMux()

	mux.HandleFunc("GET /documents", h.handleListDocuments)
	mux.HandleFunc("GET /documents/{id}", h.handleGetDocument)
	mux.HandleFunc("DELETE /documents/{id}", h.handleDeleteDocument)
	mux.HandleFunc("POST /documents/{id}/reingest", h.handleReingestDocument)
	mux.HandleFunc("POST /store/reset", h.handleResetStore)

	mux.HandleFunc("POST /ingest", h.handleIngestFile)
	mux.HandleFunc("POST /ingest-directory", h.handleIngestDirectory)
	mux.HandleFunc("POST /ingest/{id}/cancel", h.handleCancelIngestion)
	mux.HandleFunc("GET /ingest/{id}/progress", h.handleIngestionProgress)
	mux.HandleFunc("GET /ingest/queue", h.handleQueueStatus)

	mux.HandleFunc("GET /search", h.handleSearch)
	mux.HandleFunc("POST /query", h.handleQuery)

	mux.HandleFunc("POST /conversations", h.handleCreateConversation)
	mux.HandleFunc("GET /conversations", h.handleListConversations)
	mux.HandleFunc("GET /conversations/{id}", h.handleGetConversation)
	mux.HandleFunc("DELETE /conversations/{id}", h.handleDeleteConversation)
	mux.HandleFunc("PATCH /conversations/{id}", h.handleUpdateConversationTitle)

	mux.HandleFunc("GET /settings", h.handleGetSettings)
	mux.HandleFunc("PUT /settings", h.handleUpdateSettings)
	mux.HandleFunc("POST /settings/clear-key", h.handleClearAPIKey)
	mux.HandleFunc("POST /settings/validate-key", h.handleValidateAPIKey)

	mux.HandleFunc("POST /watcher/start", h.handleStartWatching)
	mux.HandleFunc("POST /watcher/stop", h.handleStopWatching)
	mux.HandleFunc("POST /watcher/folders", h.handleAddWatchedFolder)
	mux.HandleFunc("DELETE /watcher/folders", h.handleRemoveWatchedFolder)
	mux.HandleFunc("GET /watcher/folders", h.handleListWatchedFolders)
	mux.HandleFunc("POST /watcher/toggle", h.handleToggleAutoIngest)

	mux.HandleFunc("POST /capture/start", h.handleStartCapture)
	mux.HandleFunc("POST /capture/stop", h.handleStopCapture)
	mux.HandleFunc("POST /capture/now", h.handleCaptureNow)
	mux.HandleFunc("GET /capture/status", h.handleCaptureStatus)
	mux.HandleFunc("POST /capture/pause", h.handlePauseCapture)
	mux.HandleFunc("POST /capture/resume", h.handleResumeCapture)
	mux.HandleFunc("POST /capture/cleanup", h.handleCleanupCaptures)

	mux.HandleFunc("GET /license", h.handleGetLicense)
	mux.HandleFunc("POST /license/activate", h.handleActivateLicense)
	mux.HandleFunc("POST /license/deactivate", h.handleDeactivateLicense)
	mux.HandleFunc("POST /license/verify", h.handleVerifyLicense)

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
		WriteTimeout: 0, // streaming/long-running ingestion responses
		IdleTimeout:  120 * time.Second,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("server starting", "addr", *addr)
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

func applyEnvOverrides(cfg *recall.Config) {
	if v := os.Getenv("RECALL_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("RECALL_CAPTURES_DIR"); v != "" {
		cfg.CapturesDir = v
	}
	if v := os.Getenv("RECALL_MODEL_BASE_URL"); v != "" {
		cfg.ModelBaseURL = v
	}
	if v := os.Getenv("RECALL_MODEL_API_KEY"); v != "" {
		cfg.ModelAPIKey = v
	}
	if v := os.Getenv("RECALL_EMBEDDING_MODEL"); v != "" {
		cfg.EmbeddingModel = v
	}
	if v := os.Getenv("RECALL_REASONING_MODEL"); v != "" {
		cfg.ReasoningModel = v
	}
	if v := os.Getenv("RECALL_INGESTION_MODEL"); v != "" {
		cfg.IngestionModel = v
	}
}

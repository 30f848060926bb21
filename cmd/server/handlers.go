package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/bbiangul/recall"
	"github.com/bbiangul/recall/rag"
)

type handler struct {
	engine *recall.Engine
}

func newHandler(e *recall.Engine) *handler {
	return &handler{engine: e}
}

// --- Documents ---

func (h *handler) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := h.engine.ListDocuments(r.Context())
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, docs)
}

func (h *handler) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := h.engine.GetDocument(r.Context(), r.PathValue("id"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (h *handler) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.DeleteDocument(r.Context(), r.PathValue("id")); err != nil {
		writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) handleReingestDocument(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Minute)
	defer cancel()
	if err := h.engine.ReingestDocument(ctx, r.PathValue("id")); err != nil {
		writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *handler) handleResetStore(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.ResetStore(); err != nil {
		writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Ingestion ---

func (h *handler) handleIngestFile(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Path string `json:"path"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Path == "" {
		writeError(w, http.StatusBadRequest, "expected JSON body with a non-empty 'path'")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Minute)
	defer cancel()

	docID, err := h.engine.IngestFile(ctx, req.Path)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"document_id": docID})
}

func (h *handler) handleIngestDirectory(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Path      string `json:"path"`
		Recursive bool   `json:"recursive"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Path == "" {
		writeError(w, http.StatusBadRequest, "expected JSON body with a non-empty 'path'")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Hour)
	defer cancel()

	ids, err := h.engine.IngestDirectory(ctx, req.Path, req.Recursive)
	if err != nil {
		slog.Error("ingest-directory: one or more files failed", "error", err)
	}
	writeJSON(w, http.StatusOK, map[string]any{"document_ids": ids})
}

func (h *handler) handleCancelIngestion(w http.ResponseWriter, r *http.Request) {
	h.engine.CancelIngestion(r.PathValue("id"))
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) handleIngestionProgress(w http.ResponseWriter, r *http.Request) {
	progress, ok := h.engine.IngestionProgress(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "no progress recorded for this document")
		return
	}
	writeJSON(w, http.StatusOK, progress)
}

func (h *handler) handleQueueStatus(w http.ResponseWriter, r *http.Request) {
	inFlight, queued := h.engine.QueueStatus()
	writeJSON(w, http.StatusOK, map[string]any{"in_flight": inFlight, "queued": queued})
}

// --- Search / RAG ---

func (h *handler) handleSearch(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		writeError(w, http.StatusBadRequest, "missing query parameter 'q'")
		return
	}
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	var documentIDs []string
	if v := r.URL.Query()["document_id"]; len(v) > 0 {
		documentIDs = v
	}

	results, err := h.engine.Search(r.Context(), query, limit, documentIDs)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, results)
}

func (h *handler) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Question       string   `json:"question"`
		ConversationID string   `json:"conversation_id"`
		MaxChunks      int      `json:"max_chunks"`
		IncludeSources bool     `json:"include_sources"`
		DocumentIDs    []string `json:"document_ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Question == "" {
		writeError(w, http.StatusBadRequest, "expected JSON body with a non-empty 'question'")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Minute)
	defer cancel()

	resp, err := h.engine.Query(ctx, req.Question, rag.Options{
		ConversationID: req.ConversationID,
		MaxChunks:      req.MaxChunks,
		IncludeSources: req.IncludeSources,
		DocumentIDs:    req.DocumentIDs,
	})
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// --- Conversations ---

func (h *handler) handleCreateConversation(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Title string `json:"title"`
	}
	json.NewDecoder(r.Body).Decode(&req)

	id, err := h.engine.CreateConversation(r.Context(), req.Title)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id})
}

func (h *handler) handleListConversations(w http.ResponseWriter, r *http.Request) {
	convos, err := h.engine.ListConversations(r.Context())
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, convos)
}

func (h *handler) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	convo, err := h.engine.GetConversation(r.Context(), id)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	messages, err := h.engine.ListMessages(r.Context(), id)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"conversation": convo, "messages": messages})
}

func (h *handler) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.DeleteConversation(r.Context(), r.PathValue("id")); err != nil {
		writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) handleUpdateConversationTitle(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Title string `json:"title"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "expected JSON body with 'title'")
		return
	}
	if err := h.engine.UpdateConversationTitle(r.Context(), r.PathValue("id"), req.Title); err != nil {
		writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Settings ---

func (h *handler) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	cfg := h.engine.Settings()
	cfg.ModelAPIKey = "" // never echo the key back
	writeJSON(w, http.StatusOK, cfg)
}

func (h *handler) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	var cfg recall.Config
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeError(w, http.StatusBadRequest, "invalid settings payload")
		return
	}
	h.engine.UpdateSettings(cfg)
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) handleClearAPIKey(w http.ResponseWriter, r *http.Request) {
	h.engine.ClearAPIKey()
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) handleValidateAPIKey(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()
	if err := h.engine.ValidateAPIKey(ctx); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"valid": true})
}

// --- Watcher ---

func (h *handler) handleStartWatching(w http.ResponseWriter, r *http.Request) {
	h.engine.StartWatching()
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) handleStopWatching(w http.ResponseWriter, r *http.Request) {
	h.engine.StopWatching()
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) handleAddWatchedFolder(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Path string `json:"path"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Path == "" {
		writeError(w, http.StatusBadRequest, "expected JSON body with a non-empty 'path'")
		return
	}
	if err := h.engine.AddWatchedFolder(req.Path); err != nil {
		writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) handleRemoveWatchedFolder(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		writeError(w, http.StatusBadRequest, "missing query parameter 'path'")
		return
	}
	if err := h.engine.RemoveWatchedFolder(path); err != nil {
		writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) handleListWatchedFolders(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.WatchedFolders())
}

func (h *handler) handleToggleAutoIngest(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Enabled bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "expected JSON body with 'enabled'")
		return
	}
	h.engine.ToggleAutoIngest(req.Enabled)
	w.WriteHeader(http.StatusNoContent)
}

// --- Capture ---

func (h *handler) handleStartCapture(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.StartCapture(); err != nil {
		writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) handleStopCapture(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.StopCapture(); err != nil {
		writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) handleCaptureNow(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()
	if err := h.engine.CaptureNow(ctx); err != nil {
		writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) handleCaptureStatus(w http.ResponseWriter, r *http.Request) {
	state, err := h.engine.CaptureStatus()
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"state": string(state)})
}

func (h *handler) handlePauseCapture(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.PauseCapture(); err != nil {
		writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) handleResumeCapture(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.ResumeCapture(); err != nil {
		writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) handleCleanupCaptures(w http.ResponseWriter, r *http.Request) {
	removed, err := h.engine.CleanupCaptures()
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"removed": removed})
}

// --- License ---

func (h *handler) handleGetLicense(w http.ResponseWriter, r *http.Request) {
	lic, err := h.engine.GetLicense(r.Context())
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, lic)
}

func (h *handler) handleActivateLicense(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Key string `json:"key"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Key == "" {
		writeError(w, http.StatusBadRequest, "expected JSON body with a non-empty 'key'")
		return
	}
	if err := h.engine.ActivateLicense(r.Context(), req.Key); err != nil {
		writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) handleDeactivateLicense(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.DeactivateLicense(r.Context()); err != nil {
		writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) handleVerifyLicense(w http.ResponseWriter, r *http.Request) {
	ok, err := h.engine.VerifyLicense(r.Context())
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"valid": ok})
}

// --- Misc ---

func (h *handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeEngineError maps a recall.Error's kind to an HTTP status,
// falling back to 500 for anything uncategorized.
func writeEngineError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case recall.IsKind(err, recall.KindNotFound):
		status = http.StatusNotFound
	case recall.IsKind(err, recall.KindInvalidCredential):
		status = http.StatusUnauthorized
	case recall.IsKind(err, recall.KindRateLimit):
		status = http.StatusTooManyRequests
	case recall.IsKind(err, recall.KindConfig):
		status = http.StatusUnprocessableEntity
	case recall.IsKind(err, recall.KindTrialLimit):
		status = http.StatusPaymentRequired
	}
	slog.Error("request failed", "error", err)
	writeError(w, status, err.Error())
}

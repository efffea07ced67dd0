package handlers

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"

	"golang.org/x/crypto/blake2b"

	"reelsync/models"
	"reelsync/services/journal"
)

type journalService interface {
	Sources() []string
	ReadFrom(ctx context.Context, name string) (models.JournalResult, error)
	ReadMany(ctx context.Context, names []string) models.JournalBatchResult
}

var _ journalService = (*journal.Service)(nil)

// JournalHandler serves the read-only aggregation proxy.
type JournalHandler struct {
	Service journalService
	MaxAge  int
}

func NewJournalHandler(service journalService, maxAgeSeconds int) *JournalHandler {
	if maxAgeSeconds <= 0 {
		maxAgeSeconds = 300
	}
	return &JournalHandler{Service: service, MaxAge: maxAgeSeconds}
}

// Read handles GET /read?source=<name>.
func (h *JournalHandler) Read(w http.ResponseWriter, r *http.Request) {
	source := strings.TrimSpace(r.URL.Query().Get("source"))
	if source == "" {
		writeJSONError(w, fmt.Sprintf("source is required; valid sources: %s", strings.Join(h.Service.Sources(), ", ")), http.StatusBadRequest)
		return
	}

	result, err := h.Service.ReadFrom(r.Context(), source)
	if err != nil {
		var unknown *journal.UnknownSourceError
		if errors.As(err, &unknown) {
			writeJSONError(w, err.Error(), http.StatusBadRequest)
			return
		}
		writeJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	h.writeCached(w, r, result, result.Entries)
}

// ReadBatch handles GET /read/batch?sources=a,b. An empty list reads every source.
func (h *JournalHandler) ReadBatch(w http.ResponseWriter, r *http.Request) {
	var names []string
	for _, raw := range r.URL.Query()["sources"] {
		for _, name := range strings.Split(raw, ",") {
			if name = strings.TrimSpace(name); name != "" {
				names = append(names, name)
			}
		}
	}
	if len(names) == 0 {
		names = h.Service.Sources()
	}
	batch := h.Service.ReadMany(r.Context(), names)
	h.writeCached(w, r, batch, batch.Results)
}

// Health handles GET /health.
func (h *JournalHandler) Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status":  "ok",
		"sources": h.Service.Sources(),
	})
}

// writeCached encodes payload with a shared cache lifetime. The ETag covers
// only content, so it stays stable across fetch timestamps.
func (h *JournalHandler) writeCached(w http.ResponseWriter, r *http.Request, payload, content any) {
	body, err := json.Marshal(payload)
	if err != nil {
		log.Printf("[journal] encode response failed: %v", err)
		writeJSONError(w, "failed to encode response", http.StatusInternalServerError)
		return
	}
	fingerprint, err := json.Marshal(content)
	if err != nil {
		fingerprint = body
	}
	sum := blake2b.Sum256(fingerprint)
	etag := `W/"` + hex.EncodeToString(sum[:12]) + `"`

	w.Header().Set("Cache-Control", fmt.Sprintf("public, max-age=%d", h.MaxAge))
	w.Header().Set("ETag", etag)
	if match := r.Header.Get("If-None-Match"); match != "" && match == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(body)
	w.Write([]byte("\n"))
}

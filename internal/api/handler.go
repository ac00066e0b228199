// Package api exposes the orchestrator and draft review over HTTP and MCP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/kalambet/deskflow/internal/automation"
	"github.com/kalambet/deskflow/internal/retrieval"
	"github.com/kalambet/deskflow/internal/storage"
)

const maxRequestBodySize = 1 << 20 // 1MB

// Automation runs queries and index rebuilds.
type Automation interface {
	HandleQuery(ctx context.Context, q automation.Query) (automation.Response, error)
	RebuildIndex(ctx context.Context, ref string) (retrieval.IndexStatus, error)
}

// DraftReviewer applies human decisions to stored drafts.
type DraftReviewer interface {
	Get(ctx context.Context, ticketID string) (storage.Record, error)
	List(ctx context.Context, statuses []storage.Status) ([]storage.Record, error)
	SetStatus(ctx context.Context, ticketID string, status storage.Status) (storage.Record, error)
	Approve(ctx context.Context, ticketID string) (storage.Record, error)
	Send(ctx context.Context, ticketID string) (storage.Record, error)
}

// Store is the read side of tickets plus the knowledge-base intake.
type Store interface {
	GetTicket(ctx context.Context, id string) (storage.Ticket, error)
	ListTickets(ctx context.Context, limit, offset int) ([]storage.Ticket, error)
	SaveContextDoc(ctx context.Context, doc storage.ContextDoc) error
	EnqueueJob(ctx context.Context, job storage.Job) error
}

type Deps struct {
	Automation Automation
	Reviewer   DraftReviewer
	Store      Store
	CorpusDir  string       // used by /rebuild when the body names no corpus
	Metrics    http.Handler // optional; /metrics is not mounted when nil
	Logger     *slog.Logger
}

// NewHandler returns the deskflow REST API.
func NewHandler(deps Deps) http.Handler {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", handleHealth)
	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics)
	}
	r.Post("/query", handleQuery(deps))
	r.Post("/rebuild", handleRebuild(deps))
	r.Post("/ingest", handleIngest(deps))

	r.Route("/drafts", func(r chi.Router) {
		r.Get("/", handleListDrafts(deps))
		r.Get("/{id}", handleGetDraft(deps))
		r.Patch("/{id}", handlePatchDraft(deps))
		r.Post("/{id}/approve", handleApproveDraft(deps))
		r.Post("/{id}/send", handleSendDraft(deps))
	})
	r.Get("/tickets", handleListTickets(deps))
	r.Get("/tickets/{id}", handleGetTicket(deps))

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func handleQuery(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var q automation.Query
		if err := json.NewDecoder(r.Body).Decode(&q); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if strings.TrimSpace(q.Text) == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "query is required")
			return
		}

		resp, err := deps.Automation.HandleQuery(r.Context(), q)
		if err != nil {
			deps.Logger.Warn("query failed", "error", err)
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

type rebuildRequest struct {
	Corpus string `json:"corpus"`
}

type rebuildResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	retrieval.IndexStatus
}

func handleRebuild(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req rebuildRequest
		// An empty body means the configured corpus.
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		ref := req.Corpus
		if ref == "" {
			ref = deps.CorpusDir
		}

		status, err := deps.Automation.RebuildIndex(r.Context(), ref)
		if err != nil {
			deps.Logger.Error("index rebuild failed", "corpus", ref, "error", err)
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, rebuildResponse{Status: "ok", Message: "index rebuilt", IndexStatus: status})
	}
}

// writeDomainError maps sentinel errors from the lower layers onto status
// codes. Anything unrecognised is a 500.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, automation.ErrNoResults):
		httpError(w, http.StatusUnprocessableEntity, "no_results", "%v", err)
	case errors.Is(err, storage.ErrInvalidStatus):
		httpError(w, http.StatusBadRequest, "invalid_status", "%v", err)
	case errors.Is(err, storage.ErrNotFound):
		httpError(w, http.StatusNotFound, "not_found", "%v", err)
	case errors.Is(err, automation.ErrNotApproved):
		httpError(w, http.StatusConflict, "not_approved", "%v", err)
	case errors.Is(err, retrieval.ErrNoBackend):
		httpError(w, http.StatusServiceUnavailable, "retrieval_unavailable", "%v", err)
	case errors.Is(err, storage.ErrCorruptRecord):
		httpError(w, http.StatusInternalServerError, "corrupt_record", "%v", err)
	case errors.Is(err, storage.ErrStorageFailure):
		httpError(w, http.StatusInternalServerError, "storage_failure", "%v", err)
	default:
		httpError(w, http.StatusInternalServerError, "api_error", "%v", err)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	writeJSON(w, code, map[string]any{
		"error": map[string]any{
			"message": fmt.Sprintf(format, args...),
			"type":    errType,
		},
	})
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}

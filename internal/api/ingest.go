package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/deskflow/internal/ingest"
	"github.com/kalambet/deskflow/internal/storage"
)

const maxIngestBodySize = 10 << 20 // 10MB

// SourceAPI marks documents added through POST /ingest.
const SourceAPI = "api"

type IngestRequest struct {
	Title   string `json:"title"`
	Content string `json:"content"`
	Source  string `json:"source"`
}

type IngestResponse struct {
	ID     string `json:"id"`
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

func handleIngest(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxIngestBodySize)
		defer r.Body.Close()

		var req IngestRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if strings.TrimSpace(req.Content) == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "content is required")
			return
		}
		// The corpus source is reserved; a rebuild would drop the document.
		if req.Source == "" || req.Source == storage.SourceCorpus {
			req.Source = SourceAPI
		}

		doc := storage.ContextDoc{
			ID:        uuid.New().String(),
			Title:     req.Title,
			Content:   req.Content,
			Source:    req.Source,
			CreatedAt: time.Now().UTC(),
		}
		if err := deps.Store.SaveContextDoc(r.Context(), doc); err != nil {
			httpError(w, http.StatusInternalServerError, "storage_failure", "failed to save document: %v", err)
			return
		}

		job := ingest.NewIndexJob(doc.ID)
		if err := deps.Store.EnqueueJob(r.Context(), job); err != nil {
			httpError(w, http.StatusInternalServerError, "storage_failure", "saved document but failed to queue indexing: %v", err)
			return
		}

		deps.Logger.Info("document queued for indexing", "doc_id", doc.ID, "job_id", job.ID, "source", doc.Source)
		writeJSON(w, http.StatusOK, IngestResponse{ID: doc.ID, JobID: job.ID, Status: "queued"})
	}
}

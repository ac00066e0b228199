// Package ingest indexes knowledge-base documents added at runtime. Documents
// are queued as jobs in SQLite and indexed in the background, so POST /ingest
// returns before the (possibly slow) embedding call finishes.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/deskflow/internal/storage"
)

// JobTypeIndexDoc is the job type the worker claims.
const JobTypeIndexDoc = "index_doc"

// JobStore is the queue and document access the worker needs.
type JobStore interface {
	ClaimNextJob(ctx context.Context, types []string) (*storage.Job, error)
	CompleteJob(ctx context.Context, id string) error
	FailJob(ctx context.Context, id string, errMsg string) error
	GetContextDoc(ctx context.Context, id string) (storage.ContextDoc, error)
	UpdateContextDocVectorID(ctx context.Context, id, vectorID string) error
}

// DocIndexer adds a document to the active retrieval backend.
type DocIndexer interface {
	IndexDoc(ctx context.Context, doc storage.ContextDoc) (string, error)
}

type indexPayload struct {
	ContextDocID string `json:"context_doc_id"`
}

// NewIndexJob builds the queue entry for indexing docID.
func NewIndexJob(docID string) storage.Job {
	payload, _ := json.Marshal(indexPayload{ContextDocID: docID})
	return storage.Job{
		ID:          uuid.New().String(),
		Type:        JobTypeIndexDoc,
		PayloadJSON: string(payload),
	}
}

// Worker processes index_doc jobs. Failed jobs are retried with backoff by
// the store until their attempts run out.
type Worker struct {
	store   JobStore
	indexer DocIndexer
	poll    time.Duration
	logger  *slog.Logger
}

// NewWorker creates a Worker. pollInterval <= 0 means 500ms.
func NewWorker(store JobStore, indexer DocIndexer, pollInterval time.Duration) *Worker {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	return &Worker{
		store:   store,
		indexer: indexer,
		poll:    pollInterval,
		logger:  slog.Default(),
	}
}

// Run polls for jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		done, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.Error("worker iteration failed", "error", err)
		}
		if done {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.poll):
		}
	}
}

// RunOnce claims and processes a single job. It reports whether a job was
// claimed, whatever its outcome.
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.store.ClaimNextJob(ctx, []string{JobTypeIndexDoc})
	if err != nil {
		return false, fmt.Errorf("claiming job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	if err := w.process(ctx, job); err != nil {
		w.logger.Warn("index job failed", "job_id", job.ID, "attempt", job.Attempts+1, "error", err)
		if failErr := w.store.FailJob(ctx, job.ID, err.Error()); failErr != nil {
			w.logger.Error("failed to mark job as failed", "job_id", job.ID, "error", failErr)
		}
		return true, nil
	}

	if err := w.store.CompleteJob(ctx, job.ID); err != nil {
		return true, fmt.Errorf("completing job %s: %w", job.ID, err)
	}
	return true, nil
}

func (w *Worker) process(ctx context.Context, job *storage.Job) error {
	var payload indexPayload
	if err := json.Unmarshal([]byte(job.PayloadJSON), &payload); err != nil {
		return fmt.Errorf("parsing payload: %w", err)
	}

	doc, err := w.store.GetContextDoc(ctx, payload.ContextDocID)
	if err != nil {
		return fmt.Errorf("loading context doc %s: %w", payload.ContextDocID, err)
	}

	ref, err := w.indexer.IndexDoc(ctx, doc)
	if err != nil {
		return fmt.Errorf("indexing doc %s: %w", doc.ID, err)
	}

	if err := w.store.UpdateContextDocVectorID(ctx, doc.ID, ref); err != nil {
		return fmt.Errorf("recording index reference: %w", err)
	}
	w.logger.Debug("indexed document", "doc_id", doc.ID, "ref", ref)
	return nil
}

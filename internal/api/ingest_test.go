package api

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/kalambet/deskflow/internal/ingest"
	"github.com/kalambet/deskflow/internal/storage"
)

func TestIngest_QueuesIndexJob(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, http.MethodPost, "/ingest", `{"title":"Billing","content":"Invoices are issued on the first of the month."}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
	var resp IngestResponse
	decodeBody(t, rr, &resp)
	if resp.Status != "queued" || resp.ID == "" || resp.JobID == "" {
		t.Fatalf("response = %+v", resp)
	}

	ctx := context.Background()
	doc, err := env.store.GetContextDoc(ctx, resp.ID)
	if err != nil {
		t.Fatalf("GetContextDoc: %v", err)
	}
	if doc.Source != SourceAPI || doc.Title != "Billing" {
		t.Errorf("doc = %+v", doc)
	}

	job, err := env.store.GetJob(ctx, resp.JobID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if job.Type != ingest.JobTypeIndexDoc {
		t.Errorf("job type = %s, want %s", job.Type, ingest.JobTypeIndexDoc)
	}
	var payload map[string]string
	if err := json.Unmarshal([]byte(job.PayloadJSON), &payload); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if payload["context_doc_id"] != resp.ID {
		t.Errorf("payload = %v", payload)
	}
}

func TestIngest_CorpusSourceIsReserved(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, http.MethodPost, "/ingest", `{"content":"Shipping is free over $50.","source":"corpus"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var resp IngestResponse
	decodeBody(t, rr, &resp)

	doc, err := env.store.GetContextDoc(context.Background(), resp.ID)
	if err != nil {
		t.Fatalf("GetContextDoc: %v", err)
	}
	if doc.Source == storage.SourceCorpus {
		t.Error("ingested document was stored as corpus and would be dropped on rebuild")
	}
}

func TestIngest_Validation(t *testing.T) {
	env := newTestEnv(t)

	for _, body := range []string{`{"title":"empty"}`, `{"content":"   "}`, `not json`} {
		rr := env.do(t, http.MethodPost, "/ingest", body)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("body %s: status = %d, want 400", body, rr.Code)
		}
	}
}

func TestIngest_WorkerMakesDocSearchable(t *testing.T) {
	env := newTestEnv(t)

	// Force the backend up before ingesting so the doc arrives through the worker.
	if _, err := env.orch.HandleQuery(context.Background(), queryFor("refund request")); err != nil {
		t.Fatalf("warm-up query: %v", err)
	}

	rr := env.do(t, http.MethodPost, "/ingest", `{"content":"Gift cards never expire."}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}

	w := ingest.NewWorker(env.store, env.indexer, 0)
	processed, err := w.RunOnce(context.Background())
	if err != nil || !processed {
		t.Fatalf("RunOnce = %v, %v", processed, err)
	}

	resp, err := env.orch.HandleQuery(context.Background(), queryFor("gift cards"))
	if err != nil {
		t.Fatalf("HandleQuery: %v", err)
	}
	if resp.Results[0].Meta.Text != "Gift cards never expire." {
		t.Errorf("top result = %+v", resp.Results[0])
	}
}

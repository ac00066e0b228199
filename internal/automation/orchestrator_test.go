package automation

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/kalambet/deskflow/internal/decision"
	"github.com/kalambet/deskflow/internal/intent"
	"github.com/kalambet/deskflow/internal/retrieval"
	"github.com/kalambet/deskflow/internal/storage"
)

type mockRetriever struct {
	searchFn func(ctx context.Context, query string, topK int) ([]retrieval.Result, error)
	lastTopK int
}

func (m *mockRetriever) Search(ctx context.Context, query string, topK int) ([]retrieval.Result, error) {
	m.lastTopK = topK
	return m.searchFn(ctx, query, topK)
}

func fixedResults(score float64, text string) *mockRetriever {
	return &mockRetriever{searchFn: func(context.Context, string, int) ([]retrieval.Result, error) {
		return []retrieval.Result{{Score: score, Meta: retrieval.Meta{Text: text, DocID: "doc-1", Source: "corpus"}}}, nil
	}}
}

type mockTickets struct {
	saved  []storage.Ticket
	saveFn func(storage.Ticket) error
}

func (m *mockTickets) SaveTicket(_ context.Context, t storage.Ticket) error {
	if m.saveFn != nil {
		if err := m.saveFn(t); err != nil {
			return err
		}
	}
	m.saved = append(m.saved, t)
	return nil
}

func openTestStore(t *testing.T) *storage.Store {
	t.Helper()
	s, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func countRecords(t *testing.T, s *storage.Store) int {
	t.Helper()
	recs, err := s.ListRecordsByStatus(context.Background(), storage.AllStatuses)
	if err != nil {
		t.Fatalf("ListRecordsByStatus: %v", err)
	}
	return len(recs)
}

func newTestOrchestrator(store *storage.Store, r retrieval.Retriever, tickets TicketStore) *Orchestrator {
	return NewOrchestrator(Deps{
		Retriever:  r,
		Classifier: intent.KeywordClassifier{},
		Records:    store,
		Tickets:    tickets,
		Logger:     quietLogger(),
	})
}

func TestHandleQuery_RefundSavesDraft(t *testing.T) {
	store := openTestStore(t)
	tickets := &mockTickets{}
	o := newTestOrchestrator(store, fixedResults(0.8, "Refunds are issued within 5 days."), tickets)
	ctx := context.Background()

	resp, err := o.HandleQuery(ctx, Query{Text: "I want a refund for my order"})
	if err != nil {
		t.Fatalf("HandleQuery: %v", err)
	}
	if resp.Intent != intent.RefundRequest || resp.Decision != decision.SaveDraft {
		t.Fatalf("intent=%s decision=%s, want refund_request/SAVE_DRAFT", resp.Intent, resp.Decision)
	}
	if resp.Confidence != 0.8 {
		t.Errorf("Confidence = %v, want 0.8", resp.Confidence)
	}
	if resp.Automation.DraftLocation == "" || resp.Automation.Ticket != nil {
		t.Fatalf("automation = %+v", resp.Automation)
	}

	id := resp.Automation.DraftLocation[len("drafts/"):]
	rec, ok, err := store.LoadRecord(ctx, id)
	if err != nil || !ok {
		t.Fatalf("LoadRecord(%s) ok=%v err=%v", id, ok, err)
	}
	if rec.Status != storage.StatusSaveDraft {
		t.Errorf("Status = %s, want SAVE_DRAFT", rec.Status)
	}
	if rec.Subject != "Support: Refund Request" {
		t.Errorf("Subject = %q", rec.Subject)
	}
	if rec.Body != "Refunds are issued within 5 days." {
		t.Errorf("Body = %q, want top passage", rec.Body)
	}
	if rec.RecipientEmail != DefaultUserEmail {
		t.Errorf("RecipientEmail = %q, want default", rec.RecipientEmail)
	}
	if len(tickets.saved) != 0 {
		t.Errorf("tickets created for a draft: %+v", tickets.saved)
	}
}

func TestHandleQuery_PasswordPendingApproval(t *testing.T) {
	store := openTestStore(t)
	o := newTestOrchestrator(store, fixedResults(0.9, "Use the reset link."), &mockTickets{})

	resp, err := o.HandleQuery(context.Background(), Query{Text: "please reset my password", UserEmail: "ann@example.com"})
	if err != nil {
		t.Fatalf("HandleQuery: %v", err)
	}
	if resp.Intent != intent.PasswordReset || resp.Decision != decision.PendingApproval {
		t.Fatalf("intent=%s decision=%s, want password_reset/PENDING_APPROVAL", resp.Intent, resp.Decision)
	}
	pending, _ := store.ListRecordsByStatus(context.Background(), []storage.Status{storage.StatusPendingApproval})
	if len(pending) != 1 || pending[0].RecipientEmail != "ann@example.com" {
		t.Errorf("pending = %+v", pending)
	}
	if pending[0].Subject != "Support: Password Reset" {
		t.Errorf("Subject = %q", pending[0].Subject)
	}
}

func TestHandleQuery_UnknownIntentEscalates(t *testing.T) {
	store := openTestStore(t)
	tickets := &mockTickets{}
	o := newTestOrchestrator(store, fixedResults(0.9, "irrelevant"), tickets)

	resp, err := o.HandleQuery(context.Background(), Query{Text: "random unrelated text"})
	if err != nil {
		t.Fatalf("HandleQuery: %v", err)
	}
	if resp.Intent != intent.GeneralSupport || resp.Decision != decision.Escalate {
		t.Fatalf("intent=%s decision=%s, want general_support/ESCALATE", resp.Intent, resp.Decision)
	}
	if resp.Automation.Ticket == nil {
		t.Fatal("no ticket in response")
	}
	tk := *resp.Automation.Ticket
	if tk.Status != storage.TicketStatusOpen || tk.Subject != "Escalated Issue: general_support" || tk.Message != "random unrelated text" {
		t.Errorf("ticket = %+v", tk)
	}
	if len(tickets.saved) != 1 || tickets.saved[0].TicketID != tk.TicketID {
		t.Errorf("saved tickets = %+v", tickets.saved)
	}
	if n := countRecords(t, store); n != 0 {
		t.Errorf("%d records created for an escalation", n)
	}
}

func TestHandleQuery_NoResults(t *testing.T) {
	store := openTestStore(t)
	tickets := &mockTickets{}
	r := &mockRetriever{searchFn: func(context.Context, string, int) ([]retrieval.Result, error) { return nil, nil }}
	o := newTestOrchestrator(store, r, tickets)

	_, err := o.HandleQuery(context.Background(), Query{Text: "I want a refund"})
	if !errors.Is(err, ErrNoResults) {
		t.Fatalf("error = %v, want ErrNoResults", err)
	}
	if countRecords(t, store) != 0 || len(tickets.saved) != 0 {
		t.Error("state persisted for a query without results")
	}
}

func TestHandleQuery_RetrievalErrorIsWrapped(t *testing.T) {
	store := openTestStore(t)
	r := &mockRetriever{searchFn: func(context.Context, string, int) ([]retrieval.Result, error) {
		return nil, retrieval.ErrNoBackend
	}}
	o := newTestOrchestrator(store, r, &mockTickets{})

	_, err := o.HandleQuery(context.Background(), Query{Text: "refund"})
	if !errors.Is(err, retrieval.ErrNoBackend) {
		t.Fatalf("error = %v, want ErrNoBackend", err)
	}
}

func TestHandleQuery_TicketStorageFailure(t *testing.T) {
	store := openTestStore(t)
	tickets := &mockTickets{saveFn: func(storage.Ticket) error {
		return storage.ErrStorageFailure
	}}
	o := newTestOrchestrator(store, fixedResults(0.2, "x"), tickets)

	_, err := o.HandleQuery(context.Background(), Query{Text: "where is my parcel"})
	if !errors.Is(err, storage.ErrStorageFailure) {
		t.Fatalf("error = %v, want ErrStorageFailure", err)
	}
}

func TestHandleQuery_DefaultsTopK(t *testing.T) {
	store := openTestStore(t)
	r := fixedResults(0.8, "x")
	o := newTestOrchestrator(store, r, &mockTickets{})

	if _, err := o.HandleQuery(context.Background(), Query{Text: "refund", TopK: -1}); err != nil {
		t.Fatalf("HandleQuery: %v", err)
	}
	if r.lastTopK != DefaultTopK {
		t.Errorf("topK = %d, want %d", r.lastTopK, DefaultTopK)
	}
	if _, err := o.HandleQuery(context.Background(), Query{Text: "refund", TopK: 2}); err != nil {
		t.Fatalf("HandleQuery: %v", err)
	}
	if r.lastTopK != 2 {
		t.Errorf("topK = %d, want 2", r.lastTopK)
	}
}

func TestHandleQuery_ConfiguredTopK(t *testing.T) {
	store := openTestStore(t)
	r := fixedResults(0.8, "x")
	o := NewOrchestrator(Deps{
		TopK:       9,
		Retriever:  r,
		Classifier: intent.KeywordClassifier{},
		Records:    store,
		Tickets:    &mockTickets{},
		Logger:     quietLogger(),
	})

	if _, err := o.HandleQuery(context.Background(), Query{Text: "refund"}); err != nil {
		t.Fatalf("HandleQuery: %v", err)
	}
	if r.lastTopK != 9 {
		t.Errorf("topK = %d, want configured 9", r.lastTopK)
	}
}

func TestHandleQuery_LowConfidenceRefundEscalates(t *testing.T) {
	store := openTestStore(t)
	tickets := &mockTickets{}
	o := newTestOrchestrator(store, fixedResults(0.59, "x"), tickets)

	resp, err := o.HandleQuery(context.Background(), Query{Text: "refund please"})
	if err != nil {
		t.Fatalf("HandleQuery: %v", err)
	}
	if resp.Decision != decision.Escalate || len(tickets.saved) != 1 {
		t.Errorf("decision=%s tickets=%d, want ESCALATE with one ticket", resp.Decision, len(tickets.saved))
	}
	if tickets.saved[0].Subject != "Escalated Issue: refund_request" {
		t.Errorf("Subject = %q", tickets.saved[0].Subject)
	}
}

type fakeIndexer struct {
	docs  []storage.ContextDoc
	err   error
	calls int
}

func (f *fakeIndexer) Rebuild(_ context.Context, docs []storage.ContextDoc) (retrieval.IndexStatus, error) {
	f.calls++
	if f.err != nil {
		return retrieval.IndexStatus{}, f.err
	}
	f.docs = docs
	return retrieval.IndexStatus{Backend: "fake", Documents: len(docs)}, nil
}

func TestRebuildIndex(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	if err := store.SaveContextDoc(ctx, storage.ContextDoc{ID: "api-1", Content: "ingested", Source: "api"}); err != nil {
		t.Fatalf("SaveContextDoc: %v", err)
	}

	idx := &fakeIndexer{}
	var gotRef string
	o := NewOrchestrator(Deps{
		Corpus: store,
		Index:  idx,
		LoadCorpus: func(ref string) ([]storage.ContextDoc, error) {
			gotRef = ref
			return []storage.ContextDoc{{ID: "a.txt#0", Content: "refunds"}, {ID: "a.txt#1", Content: "returns"}}, nil
		},
		Logger: quietLogger(),
	})

	status, err := o.RebuildIndex(ctx, "sample_docs")
	if err != nil {
		t.Fatalf("RebuildIndex: %v", err)
	}
	if gotRef != "sample_docs" {
		t.Errorf("corpus ref = %q", gotRef)
	}
	if status.Documents != 3 || len(idx.docs) != 3 {
		t.Errorf("indexed %d docs, want corpus plus ingested (3)", status.Documents)
	}
}

func TestRebuildIndex_LoadFailureKeepsDocs(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	store.ReplaceCorpusDocs(ctx, []storage.ContextDoc{{ID: "old", Content: "old"}})

	o := NewOrchestrator(Deps{
		Corpus:     store,
		Index:      &fakeIndexer{},
		LoadCorpus: func(string) ([]storage.ContextDoc, error) { return nil, errors.New("missing dir") },
		Logger:     quietLogger(),
	})
	if _, err := o.RebuildIndex(ctx, "nope"); err == nil {
		t.Fatal("expected error")
	}
	docs, _ := store.AllContextDocs(ctx)
	if len(docs) != 1 || docs[0].ID != "old" {
		t.Errorf("docs = %+v, want previous corpus intact", docs)
	}
}

func TestRebuildIndex_BuildFailureKeepsStoredDocs(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	store.ReplaceCorpusDocs(ctx, []storage.ContextDoc{{ID: "old", Content: "old"}})

	idx := &fakeIndexer{err: errors.New("embedding failed")}
	o := NewOrchestrator(Deps{
		Corpus: store,
		Index:  idx,
		LoadCorpus: func(string) ([]storage.ContextDoc, error) {
			return []storage.ContextDoc{{ID: "new", Content: "new"}}, nil
		},
		Logger: quietLogger(),
	})
	if _, err := o.RebuildIndex(ctx, "sample_docs"); err == nil {
		t.Fatal("expected error")
	}
	if idx.calls != 1 {
		t.Errorf("Rebuild called %d times, want 1", idx.calls)
	}
	docs, _ := store.AllContextDocs(ctx)
	if len(docs) != 1 || docs[0].ID != "old" {
		t.Errorf("docs = %+v, want the previous corpus kept after a failed build", docs)
	}
}

func TestRebuildIndex_NotConfigured(t *testing.T) {
	o := NewOrchestrator(Deps{Logger: quietLogger()})
	if _, err := o.RebuildIndex(context.Background(), "x"); err == nil {
		t.Error("expected error without rebuild dependencies")
	}
}

func TestSubjects(t *testing.T) {
	if got := DraftSubject(intent.PaymentIssue); got != "Support: Payment Issue" {
		t.Errorf("DraftSubject = %q", got)
	}
	if got := EscalationSubject(intent.GeneralSupport); got != "Escalated Issue: general_support" {
		t.Errorf("EscalationSubject = %q", got)
	}
}

func TestTicketFactory(t *testing.T) {
	f := NewTicketFactory()
	a := f.Create("u@x.io", "s", "m")
	b := f.Create("u@x.io", "s", "m")
	if a.TicketID == b.TicketID {
		t.Error("ticket ids repeat")
	}
	if a.Status != storage.TicketStatusOpen || a.CreatedAt.IsZero() {
		t.Errorf("ticket = %+v", a)
	}
}

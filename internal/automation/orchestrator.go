// Package automation turns a support query into a persisted draft or an
// escalation ticket, and moves drafts through human review.
package automation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/kalambet/deskflow/internal/decision"
	"github.com/kalambet/deskflow/internal/intent"
	"github.com/kalambet/deskflow/internal/retrieval"
	"github.com/kalambet/deskflow/internal/storage"
	"github.com/kalambet/deskflow/internal/telemetry"
)

const (
	DefaultTopK      = 5
	DefaultUserEmail = "user@example.com"
)

// ErrNoResults is returned when retrieval finds nothing for a query. No
// record or ticket is created in that case.
var ErrNoResults = errors.New("no retrieval results")

// RecordStore is the draft persistence the automation layer writes to.
type RecordStore interface {
	CreateRecord(ctx context.Context, r storage.NewRecord) (string, error)
	LoadRecord(ctx context.Context, ticketID string) (storage.Record, bool, error)
	ListRecordsByStatus(ctx context.Context, statuses []storage.Status) ([]storage.Record, error)
	UpdateRecordStatus(ctx context.Context, ticketID string, status storage.Status) error
	DeliverRecord(ctx context.Context, ticketID string, status storage.Status, deliver func(storage.Record) (string, error)) error
}

type TicketStore interface {
	SaveTicket(ctx context.Context, t storage.Ticket) error
}

// CorpusStore holds the documents an index rebuild reads.
type CorpusStore interface {
	ReplaceCorpusDocs(ctx context.Context, docs []storage.ContextDoc) error
	AllContextDocs(ctx context.Context) ([]storage.ContextDoc, error)
}

type Indexer interface {
	Rebuild(ctx context.Context, docs []storage.ContextDoc) (retrieval.IndexStatus, error)
}

// CorpusLoader reads the documents found at a corpus reference.
type CorpusLoader func(ref string) ([]storage.ContextDoc, error)

type Query struct {
	Text      string `json:"query"`
	TopK      int    `json:"top_k"`
	UserEmail string `json:"user_email"`
}

// Automation describes what was persisted for a query.
type Automation struct {
	Decision      decision.Action `json:"decision"`
	DraftLocation string          `json:"draft_location,omitempty"`
	Ticket        *storage.Ticket `json:"ticket,omitempty"`
}

type Response struct {
	Query      string             `json:"query"`
	Intent     intent.Label       `json:"intent"`
	Confidence float64            `json:"confidence"`
	Decision   decision.Action    `json:"decision"`
	Results    []retrieval.Result `json:"results"`
	Automation Automation         `json:"automation"`
}

// Deps wires an Orchestrator. Corpus, Index and LoadCorpus are only needed
// for RebuildIndex. TopK applies to queries that do not set one.
type Deps struct {
	TopK       int
	Retriever  retrieval.Retriever
	Classifier intent.Classifier
	Records    RecordStore
	Tickets    TicketStore
	Corpus     CorpusStore
	Index      Indexer
	LoadCorpus CorpusLoader
	Logger     *slog.Logger
}

// Orchestrator runs one support query end to end: retrieve, classify,
// decide, persist. Requests are independent and may run concurrently.
type Orchestrator struct {
	deps    Deps
	factory *TicketFactory
	newID   func() string
	logger  *slog.Logger
}

func NewOrchestrator(deps Deps) *Orchestrator {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if deps.TopK <= 0 {
		deps.TopK = DefaultTopK
	}
	return &Orchestrator{
		deps:    deps,
		factory: NewTicketFactory(),
		newID:   func() string { return uuid.New().String() },
		logger:  logger,
	}
}

// HandleQuery processes q. The first failing step's error is returned and
// nothing is retried. Persistence is the last step, so any earlier failure
// leaves no record or ticket behind.
func (o *Orchestrator) HandleQuery(ctx context.Context, q Query) (Response, error) {
	if q.TopK <= 0 {
		q.TopK = o.deps.TopK
	}
	if q.UserEmail == "" {
		q.UserEmail = DefaultUserEmail
	}

	results, err := o.deps.Retriever.Search(ctx, q.Text, q.TopK)
	if err != nil {
		telemetry.QueryFailures.WithLabelValues("retrieval").Inc()
		return Response{}, fmt.Errorf("retrieving context: %w", err)
	}
	if len(results) == 0 {
		telemetry.QueryFailures.WithLabelValues("no_results").Inc()
		return Response{}, ErrNoResults
	}

	label := o.deps.Classifier.Classify(ctx, q.Text)
	top := results[0]
	action := decision.Decide(label, top.Score)
	telemetry.Decisions.WithLabelValues(string(label), string(action)).Inc()

	resp := Response{
		Query:      q.Text,
		Intent:     label,
		Confidence: top.Score,
		Decision:   action,
		Results:    results,
		Automation: Automation{Decision: action},
	}

	switch action {
	case decision.SaveDraft, decision.PendingApproval:
		id := o.newID()
		status := storage.Status(action)
		loc, err := o.deps.Records.CreateRecord(ctx, storage.NewRecord{
			TicketID:       id,
			RecipientEmail: q.UserEmail,
			Subject:        DraftSubject(label),
			Body:           top.Meta.Text,
			Confidence:     top.Score,
			Status:         status,
		})
		if err != nil {
			telemetry.QueryFailures.WithLabelValues("storage").Inc()
			return Response{}, err
		}
		telemetry.DraftsCreated.WithLabelValues(string(status)).Inc()
		o.logger.Info("draft saved", "ticket_id", id, "intent", label, "status", status, "confidence", top.Score)
		resp.Automation.DraftLocation = loc

	default:
		t := o.factory.Create(q.UserEmail, EscalationSubject(label), q.Text)
		if err := o.deps.Tickets.SaveTicket(ctx, t); err != nil {
			telemetry.QueryFailures.WithLabelValues("storage").Inc()
			return Response{}, err
		}
		telemetry.TicketsCreated.Inc()
		o.logger.Info("query escalated", "ticket_id", t.TicketID, "intent", label, "confidence", top.Score)
		resp.Automation.Ticket = &t
	}

	return resp, nil
}

// RebuildIndex reloads the corpus at ref and re-indexes the active backend
// over the new corpus plus every non-corpus document. The stored corpus is
// replaced only after the index build succeeds, so a failed build leaves
// both the index and the stored documents as they were.
func (o *Orchestrator) RebuildIndex(ctx context.Context, ref string) (retrieval.IndexStatus, error) {
	if o.deps.LoadCorpus == nil || o.deps.Corpus == nil || o.deps.Index == nil {
		return retrieval.IndexStatus{}, errors.New("index rebuild is not configured")
	}

	docs, err := o.deps.LoadCorpus(ref)
	if err != nil {
		return retrieval.IndexStatus{}, fmt.Errorf("loading corpus: %w", err)
	}
	prev, err := o.deps.Corpus.AllContextDocs(ctx)
	if err != nil {
		return retrieval.IndexStatus{}, fmt.Errorf("listing documents: %w", err)
	}

	next := make([]storage.ContextDoc, 0, len(prev)+len(docs))
	for _, d := range prev {
		if d.Source != storage.SourceCorpus {
			next = append(next, d)
		}
	}
	next = append(next, docs...)

	status, err := o.deps.Index.Rebuild(ctx, next)
	if err != nil {
		return retrieval.IndexStatus{}, err
	}
	if err := o.deps.Corpus.ReplaceCorpusDocs(ctx, docs); err != nil {
		if _, rerr := o.deps.Index.Rebuild(ctx, prev); rerr != nil {
			o.logger.Error("index no longer matches stored documents", "corpus", ref, "error", rerr)
		}
		return retrieval.IndexStatus{}, err
	}
	telemetry.IndexedDocuments.Set(float64(status.Documents))
	o.logger.Info("index rebuilt", "backend", status.Backend, "documents", status.Documents, "corpus", ref)
	return status, nil
}

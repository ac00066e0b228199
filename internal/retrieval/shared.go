package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kalambet/deskflow/internal/storage"
)

// Provider constructs a backend on demand. New fails when the backend's
// prerequisites (a running engine, a model) are missing.
type Provider struct {
	Name string
	New  func(ctx context.Context) (Backend, error)
}

// Shared is the process-wide retriever. The first call that needs a backend
// tries the providers in order and keeps the first that builds; every later
// call reuses it. A failed attempt is not cached, so a later call retries.
type Shared struct {
	providers []Provider
	docs      DocSource
	now       func() time.Time

	mu      sync.Mutex
	backend Backend
}

// NewShared returns a Shared over providers. When docs is non-nil and the
// chosen backend starts empty, it is built from docs before first use.
func NewShared(providers []Provider, docs DocSource) *Shared {
	return &Shared{
		providers: providers,
		docs:      docs,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Backend returns the active backend, constructing it on first use.
func (s *Shared) Backend(ctx context.Context) (Backend, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.backend != nil {
		return s.backend, nil
	}

	var errs []error
	for _, p := range s.providers {
		b, err := p.New(ctx)
		if err != nil {
			slog.Warn("retrieval provider unavailable", "provider", p.Name, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", p.Name, err))
			continue
		}
		if err := s.bootstrap(ctx, b); err != nil {
			slog.Warn("retrieval provider failed to load documents", "provider", p.Name, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", p.Name, err))
			continue
		}
		slog.Info("retrieval backend ready", "provider", p.Name)
		s.backend = b
		return b, nil
	}
	if len(errs) == 0 {
		return nil, fmt.Errorf("%w: no providers configured", ErrNoBackend)
	}
	return nil, fmt.Errorf("%w: %w", ErrNoBackend, errors.Join(errs...))
}

func (s *Shared) bootstrap(ctx context.Context, b Backend) error {
	if s.docs == nil {
		return nil
	}
	n, err := b.Len(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	docs, err := s.docs.AllContextDocs(ctx)
	if err != nil {
		return fmt.Errorf("listing documents: %w", err)
	}
	if len(docs) == 0 {
		return nil
	}
	return b.Build(ctx, docs)
}

// Active names the constructed backend, or "" before first use.
func (s *Shared) Active() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.backend == nil {
		return ""
	}
	return s.backend.Name()
}

func (s *Shared) Search(ctx context.Context, query string, topK int) ([]Result, error) {
	b, err := s.Backend(ctx)
	if err != nil {
		return nil, err
	}
	return b.Search(ctx, query, topK)
}

// Rebuild re-indexes the active backend from docs.
func (s *Shared) Rebuild(ctx context.Context, docs []storage.ContextDoc) (IndexStatus, error) {
	b, err := s.Backend(ctx)
	if err != nil {
		return IndexStatus{}, err
	}
	if err := b.Build(ctx, docs); err != nil {
		return IndexStatus{}, fmt.Errorf("rebuilding %s index: %w", b.Name(), err)
	}
	return IndexStatus{Backend: b.Name(), Documents: len(docs), BuiltAt: s.now()}, nil
}

// IndexDoc adds a single document to the active backend.
func (s *Shared) IndexDoc(ctx context.Context, doc storage.ContextDoc) (string, error) {
	b, err := s.Backend(ctx)
	if err != nil {
		return "", err
	}
	return b.IndexDoc(ctx, doc)
}

// Package retrieval ranks knowledge-base passages against a support query.
package retrieval

import (
	"cmp"
	"context"
	"errors"
	"slices"
	"strings"
	"time"

	"github.com/kalambet/deskflow/internal/storage"
)

// ErrNoBackend is returned when no configured provider could build a backend.
var ErrNoBackend = errors.New("no retrieval backend available")

// Meta describes the passage behind a Result.
type Meta struct {
	Text   string `json:"text"`
	DocID  string `json:"doc_id"`
	Source string `json:"source"`
}

// Result is one ranked passage. Score is in [0,1], higher is better.
type Result struct {
	Score float64 `json:"score"`
	Meta  Meta    `json:"meta"`
}

// IndexStatus reports the outcome of a rebuild.
type IndexStatus struct {
	Backend   string    `json:"backend"`
	Documents int       `json:"documents"`
	BuiltAt   time.Time `json:"built_at"`
}

// Retriever is what the automation layer searches through.
type Retriever interface {
	Search(ctx context.Context, query string, topK int) ([]Result, error)
}

// Backend is a concrete search index.
type Backend interface {
	Name() string

	// Search returns at most topK results ordered by descending score.
	Search(ctx context.Context, query string, topK int) ([]Result, error)

	// Build replaces the whole index with docs. On error the previous index
	// is left in place.
	Build(ctx context.Context, docs []storage.ContextDoc) error

	// IndexDoc adds one document and returns the index reference it was
	// stored under.
	IndexDoc(ctx context.Context, doc storage.ContextDoc) (string, error)

	// Len returns the number of indexed passages.
	Len(ctx context.Context) (int, error)
}

// DocSource lists the documents an index is built from.
type DocSource interface {
	AllContextDocs(ctx context.Context) ([]storage.ContextDoc, error)
}

// sortResults orders by score descending, then doc id for a stable ranking.
func sortResults(results []Result) {
	slices.SortFunc(results, func(a, b Result) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		return strings.Compare(a.Meta.DocID, b.Meta.DocID)
	})
}

func clampScore(s float64) float64 {
	switch {
	case s < 0:
		return 0
	case s > 1:
		return 1
	}
	return s
}

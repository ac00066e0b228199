package retrieval

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/kalambet/deskflow/internal/engine"
	"github.com/kalambet/deskflow/internal/storage"
)

const vectorBackendName = "vector"

// VectorBackend embeds the query with the engine and ranks stored passages by
// cosine similarity. Negative similarities are reported as 0.
type VectorBackend struct {
	embedder *Embedder
	store    *VectorStore
}

func NewVectorBackend(embedder *Embedder, store *VectorStore) *VectorBackend {
	return &VectorBackend{embedder: embedder, store: store}
}

// VectorProvider builds a VectorBackend once the engine is reachable and has
// the embedding model.
func VectorProvider(eng engine.Engine, model string, db *sql.DB) Provider {
	return Provider{
		Name: vectorBackendName,
		New: func(ctx context.Context) (Backend, error) {
			if !eng.IsRunning(ctx) {
				return nil, engine.ErrNotRunning
			}
			if !eng.HasModel(ctx, model) {
				return nil, fmt.Errorf("embedding model %s is not available", model)
			}
			return NewVectorBackend(NewEmbedder(eng, model), NewVectorStore(db)), nil
		},
	}
}

func (b *VectorBackend) Name() string { return vectorBackendName }

func (b *VectorBackend) Search(ctx context.Context, query string, topK int) ([]Result, error) {
	if topK <= 0 {
		return nil, nil
	}
	vec, err := b.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	hits, err := b.store.Search(ctx, vec, topK)
	if err != nil {
		return nil, err
	}

	results := make([]Result, len(hits))
	for i, h := range hits {
		results[i] = Result{
			Score: clampScore(h.Score),
			Meta:  Meta{Text: h.Text, DocID: h.SourceID, Source: h.Source},
		}
	}
	sortResults(results)
	return results, nil
}

// Build embeds every document before touching the table, so a failed
// embedding leaves the old index intact.
func (b *VectorBackend) Build(ctx context.Context, docs []storage.ContextDoc) error {
	texts := make([]string, len(docs))
	for i, d := range docs {
		texts[i] = d.Content
	}
	vecs, err := b.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return err
	}

	vectors := make([]Vector, len(docs))
	for i, d := range docs {
		vectors[i] = Vector{ID: d.ID, SourceID: d.ID, TextChunk: d.Content, Embedding: vecs[i]}
	}
	return b.store.Replace(ctx, vectors)
}

// IndexDoc replaces any vectors already stored for doc.ID, so indexing a
// document the backend was bootstrapped with does not duplicate it.
func (b *VectorBackend) IndexDoc(ctx context.Context, doc storage.ContextDoc) (string, error) {
	vec, err := b.embedder.Embed(ctx, doc.Content)
	if err != nil {
		return "", err
	}
	id := uuid.New().String()
	if err := b.store.ReplaceSource(ctx, doc.ID, []Vector{{ID: id, SourceID: doc.ID, TextChunk: doc.Content, Embedding: vec}}); err != nil {
		return "", err
	}
	return id, nil
}

func (b *VectorBackend) Len(ctx context.Context) (int, error) {
	return b.store.Count(ctx)
}

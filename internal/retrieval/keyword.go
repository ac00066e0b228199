package retrieval

import (
	"context"
	"strings"
	"sync"
	"unicode"

	"github.com/kalambet/deskflow/internal/storage"
)

const keywordBackendName = "keyword"

// KeywordBackend scores a passage by the fraction of distinct query terms it
// contains. It needs no external service.
type KeywordBackend struct {
	mu   sync.RWMutex
	docs []keywordDoc
}

type keywordDoc struct {
	doc   storage.ContextDoc
	terms map[string]struct{}
}

// KeywordProvider loads every stored document into a KeywordBackend.
func KeywordProvider(docs DocSource) Provider {
	return Provider{
		Name: keywordBackendName,
		New: func(ctx context.Context) (Backend, error) {
			b := NewKeywordBackend()
			all, err := docs.AllContextDocs(ctx)
			if err != nil {
				return nil, err
			}
			if err := b.Build(ctx, all); err != nil {
				return nil, err
			}
			return b, nil
		},
	}
}

func NewKeywordBackend() *KeywordBackend {
	return &KeywordBackend{}
}

func (b *KeywordBackend) Name() string { return keywordBackendName }

func (b *KeywordBackend) Search(_ context.Context, query string, topK int) ([]Result, error) {
	if topK <= 0 {
		return nil, nil
	}
	q := terms(query)
	if len(q) == 0 {
		return nil, nil
	}

	b.mu.RLock()
	var results []Result
	for _, d := range b.docs {
		hits := 0
		for t := range q {
			if _, ok := d.terms[t]; ok {
				hits++
			}
		}
		if hits == 0 {
			continue
		}
		results = append(results, Result{
			Score: clampScore(float64(hits) / float64(len(q))),
			Meta:  Meta{Text: d.doc.Content, DocID: d.doc.ID, Source: d.doc.Source},
		})
	}
	b.mu.RUnlock()

	sortResults(results)
	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

func (b *KeywordBackend) Build(_ context.Context, docs []storage.ContextDoc) error {
	indexed := make([]keywordDoc, len(docs))
	for i, d := range docs {
		indexed[i] = keywordDoc{doc: d, terms: terms(d.Title + " " + d.Content)}
	}
	b.mu.Lock()
	b.docs = indexed
	b.mu.Unlock()
	return nil
}

func (b *KeywordBackend) IndexDoc(_ context.Context, doc storage.ContextDoc) (string, error) {
	kd := keywordDoc{doc: doc, terms: terms(doc.Title + " " + doc.Content)}
	b.mu.Lock()
	defer b.mu.Unlock()
	// A backend bootstrapped after the doc was stored already holds it.
	for i := range b.docs {
		if b.docs[i].doc.ID == doc.ID {
			b.docs[i] = kd
			return doc.ID, nil
		}
	}
	b.docs = append(b.docs, kd)
	return doc.ID, nil
}

func (b *KeywordBackend) Len(_ context.Context) (int, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.docs), nil
}

// stopwords are dropped from both queries and documents.
var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "can": {}, "do": {}, "for": {},
	"how": {}, "i": {}, "in": {}, "is": {}, "it": {}, "my": {}, "of": {},
	"on": {}, "or": {}, "the": {}, "to": {}, "what": {}, "with": {}, "you": {},
}

func terms(text string) map[string]struct{} {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		if _, stop := stopwords[f]; stop {
			continue
		}
		out[f] = struct{}{}
	}
	return out
}

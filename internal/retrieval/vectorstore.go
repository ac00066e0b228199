package retrieval

import (
	"cmp"
	"container/heap"
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"slices"
	"strings"
	"time"
)

// Vector is one embedded passage in the context_vectors table.
type Vector struct {
	ID        string
	SourceID  string
	TextChunk string
	Embedding []float32
	CreatedAt time.Time
}

// ScoredVector is a Vector hit. Source is the owning document's source.
type ScoredVector struct {
	ID       string
	SourceID string
	Text     string
	Source   string
	Score    float64
}

// VectorStore does brute-force cosine search over the context_vectors table
// of the shared SQLite database.
type VectorStore struct {
	db *sql.DB
}

// NewVectorStore wraps db. The table must already exist (storage migrations).
func NewVectorStore(db *sql.DB) *VectorStore {
	return &VectorStore{db: db}
}

// Insert adds vectors in a single transaction.
func (s *VectorStore) Insert(ctx context.Context, vectors []Vector) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning insert transaction: %w", err)
	}
	defer tx.Rollback()

	if err := insertVectors(ctx, tx, vectors); err != nil {
		return err
	}
	return tx.Commit()
}

// ReplaceSource drops every vector of sourceID and inserts vectors in their
// place, in a single transaction.
func (s *VectorStore) ReplaceSource(ctx context.Context, sourceID string, vectors []Vector) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning replace transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM context_vectors WHERE source_id = ?`, sourceID); err != nil {
		return fmt.Errorf("clearing vectors of %s: %w", sourceID, err)
	}
	if err := insertVectors(ctx, tx, vectors); err != nil {
		return err
	}
	return tx.Commit()
}

// Replace swaps the whole table for vectors in a single transaction.
func (s *VectorStore) Replace(ctx context.Context, vectors []Vector) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning replace transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM context_vectors`); err != nil {
		return fmt.Errorf("clearing vectors: %w", err)
	}
	if err := insertVectors(ctx, tx, vectors); err != nil {
		return err
	}
	return tx.Commit()
}

func insertVectors(ctx context.Context, tx *sql.Tx, vectors []Vector) error {
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO context_vectors (id, source_id, text_chunk, embedding, created_at)
		VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing insert statement: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, v := range vectors {
		createdAt := v.CreatedAt
		if createdAt.IsZero() {
			createdAt = now
		}
		if _, err := stmt.ExecContext(ctx, v.ID, v.SourceID, v.TextChunk, encodeFloat32s(v.Embedding), createdAt.Format(time.RFC3339)); err != nil {
			return fmt.Errorf("inserting vector %s: %w", v.ID, err)
		}
	}
	return nil
}

type idScore struct {
	ID    string
	Score float64
}

// Search returns the topK most similar vectors, best first. Only ids and
// embeddings are scanned; the winners' text is fetched afterwards.
func (s *VectorStore) Search(ctx context.Context, vector []float32, topK int) ([]ScoredVector, error) {
	if topK <= 0 {
		return nil, nil
	}
	queryNorm := norm(vector)
	if queryNorm == 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, `SELECT id, embedding FROM context_vectors`)
	if err != nil {
		return nil, fmt.Errorf("querying vectors: %w", err)
	}

	h := &idScoreHeap{}
	var buf []float32
	for rows.Next() {
		var id string
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		buf, err = decodeFloat32sInto(buf, blob)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("decoding embedding for %s: %w", id, err)
		}

		score := cosine(vector, buf, queryNorm)
		if h.Len() < topK {
			heap.Push(h, idScore{ID: id, Score: score})
		} else if score > (*h)[0].Score {
			(*h)[0] = idScore{ID: id, Score: score}
			heap.Fix(h, 0)
		}
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return nil, fmt.Errorf("iterating rows: %w", err)
	}
	if h.Len() == 0 {
		return nil, nil
	}

	ids := make([]any, h.Len())
	scores := make(map[string]float64, h.Len())
	for i := len(ids) - 1; i >= 0; i-- {
		item := heap.Pop(h).(idScore)
		ids[i] = item.ID
		scores[item.ID] = item.Score
	}

	// The single connection is released above before this second query runs.
	full, err := s.db.QueryContext(ctx, `
		SELECT v.id, v.source_id, v.text_chunk, COALESCE(d.source, '')
		FROM context_vectors v LEFT JOIN context_docs d ON d.id = v.source_id
		WHERE v.id IN (?`+strings.Repeat(",?", len(ids)-1)+`)`, ids...)
	if err != nil {
		return nil, fmt.Errorf("fetching top-K vectors: %w", err)
	}
	defer full.Close()

	results := make([]ScoredVector, 0, len(ids))
	for full.Next() {
		var sv ScoredVector
		if err := full.Scan(&sv.ID, &sv.SourceID, &sv.Text, &sv.Source); err != nil {
			return nil, fmt.Errorf("scanning vector: %w", err)
		}
		sv.Score = scores[sv.ID]
		results = append(results, sv)
	}
	if err := full.Err(); err != nil {
		return nil, err
	}

	slices.SortStableFunc(results, func(a, b ScoredVector) int {
		return cmp.Compare(b.Score, a.Score)
	})
	return results, nil
}

func (s *VectorStore) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM context_vectors`).Scan(&n)
	return n, err
}

func encodeFloat32s(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// decodeFloat32sInto reuses buf when it is large enough.
func decodeFloat32sInto(buf []float32, b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("byte slice length %d is not a multiple of 4", len(b))
	}
	n := len(b) / 4
	if cap(buf) < n {
		buf = make([]float32, n)
	} else {
		buf = buf[:n]
	}
	for i := range buf {
		buf[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return buf, nil
}

func norm(v []float32) float64 {
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	return math.Sqrt(sum)
}

// cosine returns dot(a,b)/(|a||b|) given the precomputed |a|. Vectors of
// different dimension score 0.
func cosine(a, b []float32, aNorm float64) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, bNormSq float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		bNormSq += float64(b[i]) * float64(b[i])
	}
	if bNormSq == 0 {
		return 0
	}
	return dot / (aNorm * math.Sqrt(bNormSq))
}

// idScoreHeap is a min-heap on Score.
type idScoreHeap []idScore

func (h idScoreHeap) Len() int           { return len(h) }
func (h idScoreHeap) Less(i, j int) bool { return h[i].Score < h[j].Score }
func (h idScoreHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *idScoreHeap) Push(x any)        { *h = append(*h, x.(idScore)) }
func (h *idScoreHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

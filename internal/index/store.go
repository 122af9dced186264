package index

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"docchat/internal/domain"
	"docchat/internal/repository"
)

// Hit is one search result: a chunk ordinal and its squared L2 distance to
// the query vector.
type Hit struct {
	Ordinal  int
	Distance float32
}

// Store owns the vector index, the chunk sequence, the chunk metadata and the
// document registry as a single aggregate. All four structures mutate together
// under one lock; callers never get mutable handles to them. Ordinals are
// append-only and never reused: deletion only tombstones metadata, and the
// index is never shrunk outside Rebuild.
type Store struct {
	mu   sync.RWMutex
	repo *repository.StateRepository
	log  *zap.Logger

	dim     int
	vectors [][]float32
	chunks  []string
	meta    []domain.ChunkMetadata
	docs    map[string]domain.DocumentRecord
}

// New creates an empty store backed by the given state repository.
func New(repo *repository.StateRepository, logger *zap.Logger) *Store {
	return &Store{
		repo: repo,
		log:  logger,
		docs: make(map[string]domain.DocumentRecord),
	}
}

// AppendChunks appends texts and their metadata to the global sequence and
// returns the assigned ordinals. The two slices must be aligned.
func (s *Store) AppendChunks(texts []string, metas []domain.ChunkMetadata) ([]int, error) {
	if len(texts) != len(metas) {
		return nil, fmt.Errorf("chunk/metadata length mismatch: %d vs %d", len(texts), len(metas))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ordinals := make([]int, len(texts))
	for i := range texts {
		ordinals[i] = len(s.chunks)
		s.chunks = append(s.chunks, texts[i])
		s.meta = append(s.meta, metas[i])
	}
	return ordinals, nil
}

// AddVectors appends vectors to the index in caller order. The index is
// created lazily, sized to the first observed dimensionality.
func (s *Store) AddVectors(vecs [][]float32) error {
	if len(vecs) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.dim == 0 {
		s.dim = len(vecs[0])
	}
	for i, v := range vecs {
		if len(v) != s.dim {
			return fmt.Errorf("vector %d has dimension %d, index has %d", i, len(v), s.dim)
		}
	}
	s.vectors = append(s.vectors, vecs...)
	return nil
}

// Search returns the k nearest ordinals by squared L2 distance, ascending,
// ties broken by ordinal. Tombstoned ordinals are not filtered here; callers
// own that, along with range checks against the chunk sequence.
func (s *Store) Search(query []float32, k int) []Hit {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if k <= 0 || len(s.vectors) == 0 {
		return nil
	}

	hits := make([]Hit, len(s.vectors))
	for i, v := range s.vectors {
		hits[i] = Hit{Ordinal: i, Distance: sqDistance(query, v)}
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Distance != hits[j].Distance {
			return hits[i].Distance < hits[j].Distance
		}
		return hits[i].Ordinal < hits[j].Ordinal
	})

	if k > len(hits) {
		k = len(hits)
	}
	return hits[:k]
}

// Chunk returns the text and metadata at an ordinal, reporting whether the
// ordinal is in range of both sequences.
func (s *Store) Chunk(ordinal int) (string, domain.ChunkMetadata, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if ordinal < 0 || ordinal >= len(s.chunks) || ordinal >= len(s.meta) {
		return "", domain.ChunkMetadata{}, false
	}
	return s.chunks[ordinal], s.meta[ordinal], true
}

// Count returns the number of indexed vectors.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.vectors)
}

// ChunkCount returns the length of the chunk sequence, tombstones included.
func (s *Store) ChunkCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.chunks)
}

// RegisterDocument records a filename -> {fingerprint, ordinals} mapping,
// replacing any existing record for the filename.
func (s *Store) RegisterDocument(rec domain.DocumentRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[rec.Filename] = rec
}

// Document returns the registry record for a filename.
func (s *Store) Document(filename string) (domain.DocumentRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.docs[filename]
	return rec, ok
}

// RemoveDocument drops a filename from the registry and tombstones its chunk
// ordinals. The vector index keeps the stale slots until the next Rebuild.
func (s *Store) RemoveDocument(filename string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.docs[filename]
	if !ok {
		return false
	}
	delete(s.docs, filename)
	for _, ord := range rec.ChunkOrdinals {
		if ord >= 0 && ord < len(s.meta) {
			s.meta[ord].Deleted = true
		}
	}
	return true
}

// Documents lists registry records sorted by filename.
func (s *Store) Documents() []domain.DocumentRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := make([]domain.DocumentRecord, 0, len(s.docs))
	for _, rec := range s.docs {
		records = append(records, rec)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Filename < records[j].Filename })
	return records
}

// Stats summarizes the store for status queries.
func (s *Store) Stats() domain.IndexStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.docs))
	for name := range s.docs {
		names = append(names, name)
	}
	sort.Strings(names)

	tombstones := 0
	for _, m := range s.meta {
		if m.Deleted {
			tombstones++
		}
	}

	return domain.IndexStats{
		TotalDocuments: len(s.docs),
		DocumentList:   names,
		TotalChunks:    len(s.chunks),
		IndexVectors:   len(s.vectors),
		Tombstones:     tombstones,
	}
}

// Diagnose reports registry/chunk alignment for one document, surfacing
// out-of-range ordinals. It never repairs anything.
func (s *Store) Diagnose(filename string) (*domain.DocumentDiagnosis, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.docs[filename]
	if !ok {
		return nil, domain.ErrNotFound
	}

	diag := &domain.DocumentDiagnosis{
		Filename:    rec.Filename,
		Fingerprint: rec.Fingerprint,
		TotalChunks: len(rec.ChunkOrdinals),
	}
	for _, ord := range rec.ChunkOrdinals {
		if ord < 0 || ord >= len(s.chunks) || ord >= len(s.meta) {
			diag.InvalidOrdinals = append(diag.InvalidOrdinals, ord)
		}
	}
	for i := 0; i < len(rec.ChunkOrdinals) && i < 5; i++ {
		ord := rec.ChunkOrdinals[i]
		if ord < 0 || ord >= len(s.chunks) || ord >= len(s.meta) {
			diag.Samples = append(diag.Samples, domain.ChunkSample{Ordinal: ord, OutOfRange: true})
			continue
		}
		m := s.meta[ord]
		diag.Samples = append(diag.Samples, domain.ChunkSample{
			Ordinal:     ord,
			Metadata:    &m,
			TextPreview: preview(s.chunks[ord], 100),
		})
	}
	return diag, nil
}

// CheckConsistency verifies index.count == len(chunks) == len(metadata).
// A mismatch is logged, never fatal; recovery is an operator-triggered
// rebuild.
func (s *Store) CheckConsistency() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.vectors) != len(s.chunks) || len(s.chunks) != len(s.meta) {
		s.log.Warn("index/chunk count mismatch",
			zap.Int("vectors", len(s.vectors)),
			zap.Int("chunks", len(s.chunks)),
			zap.Int("metadata", len(s.meta)),
		)
		return false
	}
	return true
}

// Rebuild re-embeds every live chunk from scratch, compacting tombstones away
// and renumbering ordinals. It returns a new Store for the caller to install;
// the receiver is left untouched. This is the only operation that reclaims
// index slots.
func (s *Store) Rebuild(ctx context.Context, embed func(context.Context, []string) ([][]float32, error)) (*Store, error) {
	s.mu.RLock()
	remap := make(map[int]int)
	var texts []string
	var metas []domain.ChunkMetadata
	for ord := range s.chunks {
		if s.meta[ord].Deleted {
			continue
		}
		remap[ord] = len(texts)
		texts = append(texts, s.chunks[ord])
		metas = append(metas, s.meta[ord])
	}
	oldDocs := make([]domain.DocumentRecord, 0, len(s.docs))
	for _, rec := range s.docs {
		oldDocs = append(oldDocs, rec)
	}
	s.mu.RUnlock()

	fresh := New(s.repo, s.log)
	if len(texts) == 0 {
		return fresh, nil
	}

	vectors, err := embed(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("rebuild embedding: %w", err)
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("rebuild embedding count mismatch: %d texts, %d vectors", len(texts), len(vectors))
	}

	if _, err := fresh.AppendChunks(texts, metas); err != nil {
		return nil, err
	}
	if err := fresh.AddVectors(vectors); err != nil {
		return nil, err
	}
	for _, rec := range oldDocs {
		var ordinals []int
		for _, ord := range rec.ChunkOrdinals {
			if mapped, ok := remap[ord]; ok {
				ordinals = append(ordinals, mapped)
			}
		}
		rec.ChunkOrdinals = ordinals
		fresh.RegisterDocument(rec)
	}

	s.log.Info("index rebuilt",
		zap.Int("chunks", len(texts)),
		zap.Int("documents", len(oldDocs)),
	)
	return fresh, nil
}

func sqDistance(a, b []float32) float32 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var sum float32
	for i := 0; i < n; i++ {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}

func preview(text string, max int) string {
	runes := []rune(text)
	if len(runes) <= max {
		return text
	}
	return string(runes[:max]) + "..."
}

package index

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"docchat/internal/domain"
	"docchat/internal/repository"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := repository.NewDB(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return New(repository.NewStateRepository(db), zap.NewNop())
}

func TestAppendChunksAssignsSequentialOrdinals(t *testing.T) {
	s := newTestStore(t)

	ords, err := s.AppendChunks(
		[]string{"a", "b"},
		[]domain.ChunkMetadata{{Source: "x.txt"}, {Source: "x.txt"}},
	)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1}, ords)

	ords, err = s.AppendChunks(
		[]string{"c"},
		[]domain.ChunkMetadata{{Source: "y.txt"}},
	)
	require.NoError(t, err)
	assert.Equal(t, []int{2}, ords)
	assert.Equal(t, 3, s.ChunkCount())
}

func TestAppendChunksRejectsMisalignedSlices(t *testing.T) {
	s := newTestStore(t)
	_, err := s.AppendChunks([]string{"a", "b"}, []domain.ChunkMetadata{{}})
	assert.Error(t, err)
}

func TestAddVectorsLazyDimension(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.AddVectors([][]float32{{1, 0, 0}}))
	assert.Equal(t, 1, s.Count())

	err := s.AddVectors([][]float32{{1, 0}})
	assert.Error(t, err)
	assert.Equal(t, 1, s.Count())

	require.NoError(t, s.AddVectors([][]float32{{0, 1, 0}, {0, 0, 1}}))
	assert.Equal(t, 3, s.Count())
}

func TestSearchOrdersByDistanceThenOrdinal(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.AddVectors([][]float32{
		{0, 1},
		{1, 0},
		{0, 1},
		{0.9, 0.1},
	}))

	hits := s.Search([]float32{1, 0}, 3)
	require.Len(t, hits, 3)
	assert.Equal(t, 1, hits[0].Ordinal)
	assert.Equal(t, 3, hits[1].Ordinal)
	// ordinals 0 and 2 are equidistant, the lower wins
	assert.Equal(t, 0, hits[2].Ordinal)
}

func TestSearchCapsKAtIndexSize(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.AddVectors([][]float32{{1}, {2}}))

	assert.Len(t, s.Search([]float32{0}, 10), 2)
	assert.Nil(t, s.Search([]float32{0}, 0))
}

func TestSearchEmptyIndex(t *testing.T) {
	s := newTestStore(t)
	assert.Nil(t, s.Search([]float32{1, 0}, 3))
}

func TestRemoveDocumentTombstones(t *testing.T) {
	s := newTestStore(t)
	ords, err := s.AppendChunks(
		[]string{"a", "b", "c"},
		[]domain.ChunkMetadata{{Source: "x.txt"}, {Source: "x.txt"}, {Source: "y.txt"}},
	)
	require.NoError(t, err)
	s.RegisterDocument(domain.DocumentRecord{Filename: "x.txt", Fingerprint: "f1", ChunkOrdinals: ords[:2]})
	s.RegisterDocument(domain.DocumentRecord{Filename: "y.txt", Fingerprint: "f2", ChunkOrdinals: ords[2:]})

	assert.True(t, s.RemoveDocument("x.txt"))
	assert.False(t, s.RemoveDocument("x.txt"))

	// the sequence never shrinks, the chunks are only flagged
	assert.Equal(t, 3, s.ChunkCount())
	_, m, ok := s.Chunk(0)
	require.True(t, ok)
	assert.True(t, m.Deleted)
	_, m, ok = s.Chunk(2)
	require.True(t, ok)
	assert.False(t, m.Deleted)

	stats := s.Stats()
	assert.Equal(t, 1, stats.TotalDocuments)
	assert.Equal(t, 2, stats.Tombstones)
	assert.Equal(t, []string{"y.txt"}, stats.DocumentList)
}

func TestDiagnoseReportsOutOfRangeOrdinals(t *testing.T) {
	s := newTestStore(t)
	_, err := s.AppendChunks([]string{"a"}, []domain.ChunkMetadata{{Source: "x.txt"}})
	require.NoError(t, err)
	s.RegisterDocument(domain.DocumentRecord{Filename: "x.txt", Fingerprint: "f", ChunkOrdinals: []int{0, 7}})

	diag, err := s.Diagnose("x.txt")
	require.NoError(t, err)
	assert.Equal(t, 2, diag.TotalChunks)
	assert.Equal(t, []int{7}, diag.InvalidOrdinals)
	require.Len(t, diag.Samples, 2)
	assert.False(t, diag.Samples[0].OutOfRange)
	assert.True(t, diag.Samples[1].OutOfRange)

	_, err = s.Diagnose("missing.txt")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCheckConsistency(t *testing.T) {
	s := newTestStore(t)
	_, err := s.AppendChunks(
		[]string{"a", "b"},
		[]domain.ChunkMetadata{{Source: "x"}, {Source: "x"}},
	)
	require.NoError(t, err)

	// chunks without vectors: the aborted-ingestion shape
	assert.False(t, s.CheckConsistency())

	require.NoError(t, s.AddVectors([][]float32{{1}, {2}}))
	assert.True(t, s.CheckConsistency())
}

func TestRebuildCompactsTombstonesAndRemaps(t *testing.T) {
	s := newTestStore(t)
	ords, err := s.AppendChunks(
		[]string{"a", "b", "c", "d"},
		[]domain.ChunkMetadata{
			{Source: "x.txt"}, {Source: "x.txt"},
			{Source: "y.txt"}, {Source: "y.txt"},
		},
	)
	require.NoError(t, err)
	require.NoError(t, s.AddVectors([][]float32{{1}, {2}, {3}, {4}}))
	s.RegisterDocument(domain.DocumentRecord{Filename: "x.txt", Fingerprint: "f1", ChunkOrdinals: ords[:2]})
	s.RegisterDocument(domain.DocumentRecord{Filename: "y.txt", Fingerprint: "f2", ChunkOrdinals: ords[2:]})
	s.RemoveDocument("x.txt")

	var embedded []string
	fresh, err := s.Rebuild(context.Background(), func(_ context.Context, texts []string) ([][]float32, error) {
		embedded = texts
		vecs := make([][]float32, len(texts))
		for i := range vecs {
			vecs[i] = []float32{float32(i)}
		}
		return vecs, nil
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"c", "d"}, embedded)
	assert.Equal(t, 2, fresh.ChunkCount())
	assert.Equal(t, 2, fresh.Count())
	assert.Equal(t, 0, fresh.Stats().Tombstones)

	rec, ok := fresh.Document("y.txt")
	require.True(t, ok)
	assert.Equal(t, []int{0, 1}, rec.ChunkOrdinals)
	_, ok = fresh.Document("x.txt")
	assert.False(t, ok)

	// the original aggregate is untouched
	assert.Equal(t, 4, s.ChunkCount())
}

func TestRebuildEmbeddingFailureLeavesOriginal(t *testing.T) {
	s := newTestStore(t)
	_, err := s.AppendChunks([]string{"a"}, []domain.ChunkMetadata{{Source: "x.txt"}})
	require.NoError(t, err)
	require.NoError(t, s.AddVectors([][]float32{{1}}))

	boom := errors.New("provider down")
	_, err = s.Rebuild(context.Background(), func(context.Context, []string) ([][]float32, error) {
		return nil, boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, s.Count())
}

func TestPersistRestoreRoundTrip(t *testing.T) {
	db, err := repository.NewDB(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	defer db.Close()
	repo := repository.NewStateRepository(db)

	s := New(repo, zap.NewNop())
	ords, err := s.AppendChunks(
		[]string{"alpha", "beta"},
		[]domain.ChunkMetadata{
			{Source: "x.pdf", Kind: domain.KindPDF, Page: 1, Length: 5},
			{Source: "x.pdf", Kind: domain.KindPDF, Page: 2, StartOffset: 5, Length: 4, Deleted: true},
		},
	)
	require.NoError(t, err)
	require.NoError(t, s.AddVectors([][]float32{{0.5, -1}, {2, 3}}))
	s.RegisterDocument(domain.DocumentRecord{Filename: "x.pdf", Fingerprint: "abc", ChunkOrdinals: ords})
	require.NoError(t, s.Persist())

	restored := New(repo, zap.NewNop())
	require.NoError(t, restored.Restore())

	assert.Equal(t, 2, restored.ChunkCount())
	assert.Equal(t, 2, restored.Count())

	text, m, ok := restored.Chunk(0)
	require.True(t, ok)
	assert.Equal(t, "alpha", text)
	assert.Equal(t, domain.KindPDF, m.Kind)
	assert.Equal(t, 1, m.Page)

	_, m, ok = restored.Chunk(1)
	require.True(t, ok)
	assert.True(t, m.Deleted)

	rec, ok := restored.Document("x.pdf")
	require.True(t, ok)
	assert.Equal(t, "abc", rec.Fingerprint)
	assert.Equal(t, ords, rec.ChunkOrdinals)

	hits := restored.Search([]float32{0.5, -1}, 1)
	require.Len(t, hits, 1)
	assert.Equal(t, 0, hits[0].Ordinal)
}

func TestRestoreEmptyDatabase(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Restore())
	assert.Equal(t, 0, s.ChunkCount())
	assert.Equal(t, 0, s.Count())
}

func TestHandleSwap(t *testing.T) {
	a := newTestStore(t)
	b := newTestStore(t)

	h := NewHandle(a)
	assert.Same(t, a, h.Load())

	old := h.Swap(b)
	assert.Same(t, a, old)
	assert.Same(t, b, h.Load())
}

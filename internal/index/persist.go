package index

import (
	"fmt"

	"go.uber.org/zap"

	"docchat/internal/domain"
	"docchat/internal/repository"
)

// Persist writes the whole aggregate to the state repository. The in-memory
// state stays authoritative either way; callers log a persist failure and
// keep serving.
func (s *Store) Persist() error {
	s.mu.RLock()
	snap := &repository.StateSnapshot{
		Chunks:    append([]string(nil), s.chunks...),
		Metadata:  append([]domain.ChunkMetadata(nil), s.meta...),
		Documents: s.documentsLocked(),
		Dim:       s.dim,
		Vectors:   append([][]float32(nil), s.vectors...),
	}
	s.mu.RUnlock()

	if err := s.repo.Save(snap); err != nil {
		return fmt.Errorf("persist index state: %w", err)
	}
	return nil
}

// Restore replaces the aggregate with the stored snapshot. An empty database
// leaves the store empty. A vector/chunk count mismatch is restored as-is and
// logged; an operator rebuild repairs it.
func (s *Store) Restore() error {
	snap, err := s.repo.Load()
	if err != nil {
		return fmt.Errorf("restore index state: %w", err)
	}

	s.mu.Lock()
	s.chunks = snap.Chunks
	s.meta = snap.Metadata
	s.dim = snap.Dim
	s.vectors = snap.Vectors
	s.docs = make(map[string]domain.DocumentRecord, len(snap.Documents))
	for _, doc := range snap.Documents {
		s.docs[doc.Filename] = doc
	}
	s.mu.Unlock()

	if !s.CheckConsistency() {
		s.log.Warn("restored state is inconsistent, rebuild to repair")
	} else if len(snap.Chunks) > 0 {
		s.log.Info("index state restored",
			zap.Int("chunks", len(snap.Chunks)),
			zap.Int("documents", len(snap.Documents)),
			zap.Int("vectors", len(snap.Vectors)),
		)
	}
	return nil
}

func (s *Store) documentsLocked() []domain.DocumentRecord {
	records := make([]domain.DocumentRecord, 0, len(s.docs))
	for _, rec := range s.docs {
		records = append(records, rec)
	}
	return records
}

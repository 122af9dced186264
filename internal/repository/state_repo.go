package repository

import (
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"

	"docchat/internal/domain"
)

// StateSnapshot is the full index unit: chunk texts, chunk metadata, the
// document registry and the serialized vector index. The four parts are
// persisted and restored together.
type StateSnapshot struct {
	Chunks    []string
	Metadata  []domain.ChunkMetadata
	Documents []domain.DocumentRecord
	Dim       int
	Vectors   [][]float32
}

// StateRepository persists the index unit atomically.
type StateRepository struct {
	db *DB
}

// NewStateRepository creates a new state repository
func NewStateRepository(db *DB) *StateRepository {
	return &StateRepository{db: db}
}

// Save writes the whole snapshot in a single transaction, replacing any
// previously stored unit.
func (r *StateRepository) Save(snap *StateSnapshot) error {
	if len(snap.Chunks) != len(snap.Metadata) {
		return fmt.Errorf("chunk/metadata length mismatch: %d vs %d", len(snap.Chunks), len(snap.Metadata))
	}

	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("begin state save: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"chunks", "documents", "vector_index"} {
		if _, err := tx.Exec("DELETE FROM " + table); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}

	insertChunk, err := tx.Prepare(`
		INSERT INTO chunks (ordinal, text, source, kind, page, start_offset, length, deleted)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare chunk insert: %w", err)
	}
	defer insertChunk.Close()

	for ord, text := range snap.Chunks {
		m := snap.Metadata[ord]
		deleted := 0
		if m.Deleted {
			deleted = 1
		}
		if _, err := insertChunk.Exec(ord, text, m.Source, m.Kind, m.Page, m.StartOffset, m.Length, deleted); err != nil {
			return fmt.Errorf("insert chunk %d: %w", ord, err)
		}
	}

	for _, doc := range snap.Documents {
		ordinals, err := json.Marshal(doc.ChunkOrdinals)
		if err != nil {
			return fmt.Errorf("marshal ordinals for %s: %w", doc.Filename, err)
		}
		if _, err := tx.Exec(`
			INSERT INTO documents (filename, fingerprint, chunk_ordinals)
			VALUES (?, ?, ?)
		`, doc.Filename, doc.Fingerprint, string(ordinals)); err != nil {
			return fmt.Errorf("insert document %s: %w", doc.Filename, err)
		}
	}

	if len(snap.Vectors) > 0 {
		if _, err := tx.Exec(`
			INSERT INTO vector_index (id, dim, count, vectors)
			VALUES (1, ?, ?, ?)
		`, snap.Dim, len(snap.Vectors), encodeVectors(snap.Vectors, snap.Dim)); err != nil {
			return fmt.Errorf("insert vector index: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit state save: %w", err)
	}
	return nil
}

// Load reads the stored snapshot. An empty database yields an empty snapshot.
func (r *StateRepository) Load() (*StateSnapshot, error) {
	snap := &StateSnapshot{}

	rows, err := r.db.Query(`
		SELECT ordinal, text, source, kind, page, start_offset, length, deleted
		FROM chunks ORDER BY ordinal ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("load chunks: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			ordinal, deleted int
			text             string
			m                domain.ChunkMetadata
		)
		if err := rows.Scan(&ordinal, &text, &m.Source, &m.Kind, &m.Page, &m.StartOffset, &m.Length, &deleted); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		m.Deleted = deleted != 0
		snap.Chunks = append(snap.Chunks, text)
		snap.Metadata = append(snap.Metadata, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chunks: %w", err)
	}

	docRows, err := r.db.Query(`SELECT filename, fingerprint, chunk_ordinals FROM documents`)
	if err != nil {
		return nil, fmt.Errorf("load documents: %w", err)
	}
	defer docRows.Close()

	for docRows.Next() {
		var doc domain.DocumentRecord
		var ordinals string
		if err := docRows.Scan(&doc.Filename, &doc.Fingerprint, &ordinals); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		if err := json.Unmarshal([]byte(ordinals), &doc.ChunkOrdinals); err != nil {
			return nil, fmt.Errorf("unmarshal ordinals for %s: %w", doc.Filename, err)
		}
		snap.Documents = append(snap.Documents, doc)
	}
	if err := docRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}

	var (
		dim, count int
		blob       []byte
	)
	err = r.db.QueryRow(`SELECT dim, count, vectors FROM vector_index WHERE id = 1`).Scan(&dim, &count, &blob)
	switch {
	case err == sql.ErrNoRows:
		return snap, nil
	case err != nil:
		return nil, fmt.Errorf("load vector index: %w", err)
	}

	vectors, err := decodeVectors(blob, dim, count)
	if err != nil {
		return nil, err
	}
	snap.Dim = dim
	snap.Vectors = vectors
	return snap, nil
}

func encodeVectors(vectors [][]float32, dim int) []byte {
	buf := make([]byte, 0, len(vectors)*dim*4)
	for _, vec := range vectors {
		for _, f := range vec {
			buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(f))
		}
	}
	return buf
}

func decodeVectors(blob []byte, dim, count int) ([][]float32, error) {
	if dim <= 0 || count < 0 || len(blob) != dim*count*4 {
		return nil, fmt.Errorf("vector blob size mismatch: dim %d, count %d, %d bytes", dim, count, len(blob))
	}
	vectors := make([][]float32, count)
	off := 0
	for i := range vectors {
		vec := make([]float32, dim)
		for j := range vec {
			vec[j] = math.Float32frombits(binary.LittleEndian.Uint32(blob[off:]))
			off += 4
		}
		vectors[i] = vec
	}
	return vectors, nil
}

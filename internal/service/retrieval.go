package service

import (
	"fmt"

	"go.uber.org/zap"

	"docchat/internal/domain"
	"docchat/internal/index"
)

// Planner selects the context passages for a question. It over-fetches from
// the index and diversifies across source documents, so one long document
// cannot crowd out every other source.
type Planner struct {
	handle *index.Handle
	topK   int
	log    *zap.Logger
}

// NewPlanner creates a retrieval planner over the given store handle.
func NewPlanner(handle *index.Handle, topK int, logger *zap.Logger) *Planner {
	return &Planner{handle: handle, topK: topK, log: logger}
}

// Retrieve returns up to topK passages for a query vector, plus the
// deduplicated passage labels in order of first appearance. Returns
// ErrIndexEmpty when no documents or no vectors are indexed.
func (p *Planner) Retrieve(query []float32) ([]domain.ContextPassage, []string, error) {
	store := p.handle.Load()
	stats := store.Stats()
	if stats.TotalDocuments == 0 || stats.IndexVectors == 0 {
		return nil, nil, domain.ErrIndexEmpty
	}

	hits := store.Search(query, 4*p.topK)

	type candidate struct {
		text string
		meta domain.ChunkMetadata
	}
	var live []candidate
	for _, hit := range hits {
		text, meta, ok := store.Chunk(hit.Ordinal)
		if !ok {
			p.log.Warn("search hit outside chunk sequence", zap.Int("ordinal", hit.Ordinal))
			continue
		}
		if meta.Deleted {
			continue
		}
		live = append(live, candidate{text: text, meta: meta})
	}

	var picked []candidate
	seenSources := make(map[string]bool)
	seenTexts := make(map[string]bool)

	// first pass: prefer unseen sources, but never starve the result below
	// half of topK while nearer hits remain
	for _, c := range live {
		if len(picked) >= p.topK {
			break
		}
		if seenSources[c.meta.Source] && 2*len(picked) >= p.topK {
			continue
		}
		picked = append(picked, c)
		seenSources[c.meta.Source] = true
		seenTexts[c.text] = true
	}

	// second pass: fill remaining slots with any unpicked text, nearest first
	for _, c := range live {
		if len(picked) >= p.topK {
			break
		}
		if seenTexts[c.text] {
			continue
		}
		picked = append(picked, c)
		seenTexts[c.text] = true
	}

	passages := make([]domain.ContextPassage, len(picked))
	var sources []string
	listed := make(map[string]bool)
	for i, c := range picked {
		label := passageLabel(c.meta)
		passages[i] = domain.ContextPassage{Text: c.text, Label: label}
		if !listed[label] {
			listed[label] = true
			sources = append(sources, label)
		}
	}
	return passages, sources, nil
}

func passageLabel(m domain.ChunkMetadata) string {
	if m.Kind == domain.KindPDF && m.Page > 0 {
		return fmt.Sprintf("%s (page %d)", m.Source, m.Page)
	}
	return m.Source
}

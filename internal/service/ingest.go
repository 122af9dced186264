package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"sync/atomic"
	"unicode/utf8"

	"go.uber.org/zap"

	"docchat/internal/chunker"
	"docchat/internal/config"
	"docchat/internal/domain"
	"docchat/internal/extract"
	"docchat/internal/index"
)

// Pipeline runs document ingestion: extraction, chunking, embedding and
// registration against the active store. Only one run may be in flight;
// a second request is rejected, not queued.
type Pipeline struct {
	handle  *index.Handle
	batcher *Batcher
	cfg     config.IndexConfig
	log     *zap.Logger

	busy  atomic.Bool
	stMu  sync.Mutex
	state domain.IngestionState
}

// NewPipeline creates an ingestion pipeline over the given store handle.
func NewPipeline(handle *index.Handle, batcher *Batcher, cfg config.IndexConfig, logger *zap.Logger) *Pipeline {
	return &Pipeline{handle: handle, batcher: batcher, cfg: cfg, log: logger}
}

// Busy reports whether a run is in flight.
func (p *Pipeline) Busy() bool {
	return p.busy.Load()
}

// State returns a copy of the current run's progress.
func (p *Pipeline) State() domain.IngestionState {
	p.stMu.Lock()
	defer p.stMu.Unlock()
	st := p.state
	st.IsProcessing = p.busy.Load()
	return st
}

// Ingest processes a batch of raw documents. Unchanged files are skipped by
// content fingerprint, changed files replace their previous chunks via
// tombstoning, new files are added. All new chunks are embedded in one pass
// at the end; an embedding failure aborts the run and leaves them unindexed
// until a rebuild.
func (p *Pipeline) Ingest(ctx context.Context, docs []domain.RawDocument) ([]domain.DocumentResult, error) {
	if !p.busy.CompareAndSwap(false, true) {
		return nil, domain.ErrIngestBusy
	}
	defer p.busy.Store(false)

	return p.run(ctx, docs)
}

// Reingest drops a document's registry record and ingests it again from
// scratch. The removal happens only after the busy guard is taken, so a
// rejected call leaves the document untouched.
func (p *Pipeline) Reingest(ctx context.Context, doc domain.RawDocument) ([]domain.DocumentResult, error) {
	if !p.busy.CompareAndSwap(false, true) {
		return nil, domain.ErrIngestBusy
	}
	defer p.busy.Store(false)

	// dropping the record first keeps the fingerprint check from skipping
	// unchanged content
	p.handle.Load().RemoveDocument(doc.Filename)
	return p.run(ctx, []domain.RawDocument{doc})
}

func (p *Pipeline) run(ctx context.Context, docs []domain.RawDocument) ([]domain.DocumentResult, error) {
	p.stMu.Lock()
	p.state = domain.IngestionState{TotalFiles: len(docs)}
	p.stMu.Unlock()

	store := p.handle.Load()
	results := make([]domain.DocumentResult, 0, len(docs))
	var newTexts []string

	for _, doc := range docs {
		result := p.ingestOne(store, doc, &newTexts)
		results = append(results, result)

		p.stMu.Lock()
		p.state.ProcessedFiles++
		p.state.ChunksCreated += result.Chunks
		p.stMu.Unlock()
	}

	if len(newTexts) > 0 {
		vectors, err := p.batcher.Embed(ctx, newTexts)
		if err != nil {
			p.log.Error("embedding failed, chunks left unindexed until rebuild",
				zap.Int("chunks", len(newTexts)),
				zap.Error(err),
			)
			store.CheckConsistency()
			return results, fmt.Errorf("embed new chunks: %w", err)
		}
		if err := store.AddVectors(vectors); err != nil {
			return results, fmt.Errorf("index new chunks: %w", err)
		}
	}

	store.CheckConsistency()
	if err := store.Persist(); err != nil {
		p.log.Error("persist failed, in-memory state remains authoritative", zap.Error(err))
	}

	p.log.Info("ingestion finished",
		zap.Int("files", len(docs)),
		zap.Int("new_chunks", len(newTexts)),
	)
	return results, nil
}

// ingestOne classifies, extracts and chunks a single document, appending its
// chunk texts to newTexts for the batch embedding pass.
func (p *Pipeline) ingestOne(store *index.Store, doc domain.RawDocument, newTexts *[]string) domain.DocumentResult {
	fp := fingerprint(doc.Raw)

	outcome := domain.OutcomeAdded
	if prev, ok := store.Document(doc.Filename); ok {
		if prev.Fingerprint == fp {
			p.log.Debug("document unchanged, skipping", zap.String("filename", doc.Filename))
			return domain.DocumentResult{Filename: doc.Filename, Outcome: domain.OutcomeSkipped}
		}
		outcome = domain.OutcomeReplaced
	}

	texts, metas, err := p.extractChunks(doc)
	if err != nil {
		p.log.Warn("document extraction failed",
			zap.String("filename", doc.Filename),
			zap.Error(err),
		)
		return domain.DocumentResult{Filename: doc.Filename, Outcome: domain.OutcomeFailed, Error: err.Error()}
	}

	// tombstone the old chunks only after the new content extracted cleanly
	if outcome == domain.OutcomeReplaced {
		store.RemoveDocument(doc.Filename)
	}

	ordinals, err := store.AppendChunks(texts, metas)
	if err != nil {
		return domain.DocumentResult{Filename: doc.Filename, Outcome: domain.OutcomeFailed, Error: err.Error()}
	}
	*newTexts = append(*newTexts, texts...)

	store.RegisterDocument(domain.DocumentRecord{
		Filename:      doc.Filename,
		Fingerprint:   fp,
		ChunkOrdinals: ordinals,
	})
	return domain.DocumentResult{Filename: doc.Filename, Outcome: outcome, Chunks: len(ordinals)}
}

// extractChunks turns raw bytes into chunk texts plus aligned metadata.
// PDF pages are chunked independently so no chunk spans a page boundary.
func (p *Pipeline) extractChunks(doc domain.RawDocument) ([]string, []domain.ChunkMetadata, error) {
	kind := extract.DetectKind(doc.Filename)

	var texts []string
	var metas []domain.ChunkMetadata

	appendSpans := func(spans []chunker.Span, page int) {
		for _, span := range spans {
			texts = append(texts, span.Text)
			metas = append(metas, domain.ChunkMetadata{
				Source:      doc.Filename,
				Kind:        kind,
				Page:        page,
				StartOffset: span.Start,
				Length:      utf8.RuneCountInString(span.Text),
			})
		}
	}

	switch kind {
	case domain.KindPDF:
		pages, err := extract.PDFPages(doc.Raw)
		if err != nil {
			return nil, nil, fmt.Errorf("extract pdf: %w", err)
		}
		for i, page := range pages {
			spans, err := chunker.Split(page, p.cfg.ChunkSize, p.cfg.ChunkOverlap)
			if err != nil {
				return nil, nil, err
			}
			if len(spans) == 0 {
				p.log.Debug("empty pdf page skipped",
					zap.String("filename", doc.Filename),
					zap.Int("page", i+1),
				)
				continue
			}
			appendSpans(spans, i+1)
		}
	default:
		spans, err := chunker.Split(extract.DecodeText(doc.Raw), p.cfg.ChunkSize, p.cfg.ChunkOverlap)
		if err != nil {
			return nil, nil, err
		}
		appendSpans(spans, 0)
	}

	return texts, metas, nil
}

// Rebuild re-embeds every live chunk into a fresh store and swaps it in.
// Rejected while an ingestion run is in flight.
func (p *Pipeline) Rebuild(ctx context.Context) error {
	if !p.busy.CompareAndSwap(false, true) {
		return domain.ErrIngestBusy
	}
	defer p.busy.Store(false)

	store := p.handle.Load()
	fresh, err := store.Rebuild(ctx, p.batcher.Embed)
	if err != nil {
		return err
	}
	p.handle.Swap(fresh)

	if err := fresh.Persist(); err != nil {
		p.log.Error("persist failed, in-memory state remains authoritative", zap.Error(err))
	}
	return nil
}

func fingerprint(raw []byte) string {
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

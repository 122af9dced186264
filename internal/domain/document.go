package domain

// Chunk kind constants
const (
	KindPDF  = "pdf"
	KindText = "text"
	KindHTML = "html"
)

// ChunkMetadata describes the chunk stored at the same ordinal in the chunk
// sequence. The two sequences stay aligned for the lifetime of the store;
// a chunk is never removed, only tombstoned via Deleted.
type ChunkMetadata struct {
	Source      string `json:"source"`
	Kind        string `json:"kind"`
	Page        int    `json:"page,omitempty"` // 1-based, pdf only
	StartOffset int    `json:"start_offset"`
	Length      int    `json:"length"`
	Deleted     bool   `json:"deleted"`
}

// DocumentRecord maps an ingested filename to its content fingerprint and the
// ordinals of the chunks extracted from it.
type DocumentRecord struct {
	Filename      string `json:"filename"`
	Fingerprint   string `json:"fingerprint"`
	ChunkOrdinals []int  `json:"chunk_ordinals"`
}

// RawDocument is one (filename, raw bytes) input to the ingestion pipeline.
type RawDocument struct {
	Filename string
	Raw      []byte
}

// Ingestion outcome tags for one document in a run
const (
	OutcomeAdded    = "added"
	OutcomeSkipped  = "skipped"
	OutcomeReplaced = "replaced"
	OutcomeFailed   = "failed"
)

// DocumentResult is the per-document outcome of an ingestion run.
type DocumentResult struct {
	Filename string `json:"filename"`
	Outcome  string `json:"outcome"`
	Chunks   int    `json:"chunks"`
	Error    string `json:"error,omitempty"`
}

// IngestionState is the transient progress of the current (or last) run.
// Never persisted.
type IngestionState struct {
	IsProcessing   bool `json:"is_processing"`
	TotalFiles     int  `json:"total_files"`
	ProcessedFiles int  `json:"processed_files"`
	ChunksCreated  int  `json:"chunks_created"`
}

// IndexStats summarizes the store for status queries.
type IndexStats struct {
	TotalDocuments int      `json:"total_documents"`
	DocumentList   []string `json:"document_list"`
	TotalChunks    int      `json:"total_chunks"`
	IndexVectors   int      `json:"index_vectors"`
	Tombstones     int      `json:"tombstones"`
}

// ChunkSample is a preview of one chunk in a document diagnosis.
type ChunkSample struct {
	Ordinal     int            `json:"ordinal"`
	Metadata    *ChunkMetadata `json:"metadata,omitempty"`
	TextPreview string         `json:"text_preview,omitempty"`
	OutOfRange  bool           `json:"out_of_range,omitempty"`
}

// DocumentDiagnosis reports registry/chunk alignment for one document. It
// surfaces orphaned and out-of-range ordinals; it never repairs them.
type DocumentDiagnosis struct {
	Filename        string        `json:"filename"`
	Fingerprint     string        `json:"fingerprint"`
	TotalChunks     int           `json:"total_chunks"`
	InvalidOrdinals []int         `json:"invalid_ordinals,omitempty"`
	Samples         []ChunkSample `json:"chunks_sample"`
}

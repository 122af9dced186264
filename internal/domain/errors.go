package domain

import "errors"

var (
	// ErrNotFound indicates resource not found
	ErrNotFound = errors.New("resource not found")
	// ErrIndexEmpty indicates a query against an empty or absent vector index
	ErrIndexEmpty = errors.New("no documents indexed")
	// ErrIngestBusy indicates an ingestion or rebuild run is already active
	ErrIngestBusy = errors.New("ingestion already in progress")
	// ErrInvalidChunking indicates chunk overlap >= chunk size misconfiguration
	ErrInvalidChunking = errors.New("chunk overlap must be smaller than chunk size")
	// ErrUnsupportedFile indicates an upload with an unsupported extension
	ErrUnsupportedFile = errors.New("unsupported file type")
)

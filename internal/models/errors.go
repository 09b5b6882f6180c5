package models

import "errors"

// Error kinds surfaced by the pipeline. Wrap with fmt.Errorf("%w: ...: %w", kind, cause)
// so callers can match the kind and still reach the cause.
var (
	ErrIngest             = errors.New("ingest failed")
	ErrEmbeddingProvider  = errors.New("embedding provider error")
	ErrIndexUnavailable   = errors.New("vector index unavailable")
	ErrCompletionProvider = errors.New("completion provider error")
	ErrSchemaValidation   = errors.New("generated item failed schema validation")
	ErrInvalidInput       = errors.New("invalid input")
)

// internal/types/errors.go
package types

import "fmt"

// EmptyDocumentError reports a document with nothing to chunk. Callers
// decide whether to skip the document or abort the batch.
type EmptyDocumentError struct {
	DocumentID string
}

func (e *EmptyDocumentError) Error() string {
	return fmt.Sprintf("document %q has no text and no table rows", e.DocumentID)
}

// DimensionMismatchError reports a vector whose length differs from the
// index's fixed dimension. This usually means the embedding model changed
// without reindexing; the collection must be rebuilt.
type DimensionMismatchError struct {
	Want int
	Got  int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("vector dimension %d does not match index dimension %d", e.Got, e.Want)
}

// GatewayUnavailableError reports that the embedding/LLM service could
// not be reached. Transient; callers retry with backoff.
type GatewayUnavailableError struct {
	Endpoint string
	Err      error
}

func (e *GatewayUnavailableError) Error() string {
	return fmt.Sprintf("gateway unreachable at %s: %v", e.Endpoint, e.Err)
}

func (e *GatewayUnavailableError) Unwrap() error { return e.Err }

// IngestionError reports a document-scoped ingestion failure. Nothing
// from the document was inserted.
type IngestionError struct {
	DocumentID string
	Err        error
}

func (e *IngestionError) Error() string {
	return fmt.Sprintf("ingestion of document %q failed: %v", e.DocumentID, e.Err)
}

func (e *IngestionError) Unwrap() error { return e.Err }

// ConsistencyError reports a divergence between the vector index and the
// metadata store. Fatal for the collection: mutation halts until the
// collection is rebuilt from raw documents.
type ConsistencyError struct {
	Op            string
	IndexSize     int
	MetadataCount int
}

func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("consistency violation during %s: index has %d entries, metadata has %d", e.Op, e.IndexSize, e.MetadataCount)
}

package memory

import (
	"time"
)

// MemoryRecordMetadata is the non-vector part of a record. It is returned
// verbatim on retrieval.
type MemoryRecordMetadata struct {
	// IsReference marks records that point at content stored elsewhere.
	IsReference bool `json:"is_reference"`

	// ExternalSourceName names the system holding referenced content.
	ExternalSourceName string `json:"external_source_name,omitempty"`

	// ID is the record key within its collection.
	ID string `json:"id"`

	Description        string `json:"description,omitempty"`
	Text               string `json:"text"`
	AdditionalMetadata string `json:"additional_metadata,omitempty"`
}

// MemoryRecord is one stored item.
type MemoryRecord struct {
	Key       string
	Metadata  MemoryRecordMetadata
	Embedding []float32
	Timestamp time.Time
}

// MemoryQueryResult is a read-only projection of a record with its
// relevance to a query. Embedding is nil unless explicitly requested.
type MemoryQueryResult struct {
	Metadata  MemoryRecordMetadata `json:"metadata"`
	Relevance float64              `json:"relevance"`
	Embedding []float32            `json:"embedding,omitempty"`
	Timestamp time.Time            `json:"timestamp"`
}

// LocalRecord creates a record that stores its content inline.
func LocalRecord(key, text, description, additionalMetadata string, embedding []float32, ts time.Time) *MemoryRecord {
	return &MemoryRecord{
		Key: key,
		Metadata: MemoryRecordMetadata{
			ID:                 key,
			Text:               text,
			Description:        description,
			AdditionalMetadata: additionalMetadata,
		},
		Embedding: embedding,
		Timestamp: ts,
	}
}

// ReferenceRecord creates a record pointing at externally stored content.
// text is kept as the excerpt the embedding was computed from.
func ReferenceRecord(externalID, sourceName, text, description, additionalMetadata string, embedding []float32, ts time.Time) *MemoryRecord {
	return &MemoryRecord{
		Key: externalID,
		Metadata: MemoryRecordMetadata{
			IsReference:        true,
			ExternalSourceName: sourceName,
			ID:                 externalID,
			Text:               text,
			Description:        description,
			AdditionalMetadata: additionalMetadata,
		},
		Embedding: embedding,
		Timestamp: ts,
	}
}

// Clone returns a deep copy. The embedding is dropped unless withEmbedding is set.
func (r *MemoryRecord) Clone(withEmbedding bool) *MemoryRecord {
	out := *r
	out.Embedding = nil
	if withEmbedding {
		out.Embedding = CopyVector(r.Embedding)
	}
	return &out
}

// NewQueryResult projects rec into a query result.
func NewQueryResult(rec *MemoryRecord, relevance float64, withEmbedding bool) *MemoryQueryResult {
	res := &MemoryQueryResult{
		Metadata:  rec.Metadata,
		Relevance: relevance,
		Timestamp: rec.Timestamp,
	}
	if withEmbedding {
		res.Embedding = CopyVector(rec.Embedding)
	}
	return res
}

// CopyVector returns a copy of v, or nil for an empty vector.
func CopyVector(v []float32) []float32 {
	if len(v) == 0 {
		return nil
	}
	out := make([]float32, len(v))
	copy(out, v)
	return out
}

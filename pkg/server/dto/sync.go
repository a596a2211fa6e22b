package dto

import (
	"errors"
	"time"

	"github.com/soundprediction/retrievo/pkg/syncer"
	"github.com/soundprediction/retrievo/pkg/types"
)

// SyncChunksRequest is the body of POST /api/v1/sync/chunks.
type SyncChunksRequest struct {
	KnowledgeBaseID string  `json:"knowledge_base_id" binding:"required"`
	DocumentID      string  `json:"document_id" binding:"required"`
	Chunks          []Chunk `json:"chunks" binding:"required"`
}

// Chunk is one document chunk supplied by the ingestion pipeline.
type Chunk struct {
	ID        string                 `json:"id" binding:"required"`
	Text      string                 `json:"text"`
	Embedding []float32              `json:"embedding,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	UpdatedAt *time.Time             `json:"updated_at,omitempty"`
}

// Validate performs validation beyond binding tags.
func (r *SyncChunksRequest) Validate() error {
	if len(r.Chunks) == 0 {
		return errors.New("chunks array cannot be empty")
	}
	for _, c := range r.Chunks {
		if c.ID == "" {
			return errors.New("every chunk needs an id")
		}
	}
	return nil
}

// ToRecords converts the chunks into sync records.
func (r *SyncChunksRequest) ToRecords() []types.Record {
	out := make([]types.Record, 0, len(r.Chunks))
	for _, c := range r.Chunks {
		rec := types.Record{
			ID:        c.ID,
			Text:      c.Text,
			Embedding: c.Embedding,
			Metadata:  c.Metadata,
			UpdatedAt: time.Now().UTC(),
		}
		if c.UpdatedAt != nil {
			rec.UpdatedAt = *c.UpdatedAt
		}
		out = append(out, rec)
	}
	return out
}

// SyncEmbeddingsRequest is the body of POST /api/v1/sync/embeddings.
type SyncEmbeddingsRequest struct {
	KnowledgeBaseID string   `json:"knowledge_base_id" binding:"required"`
	ChunkIDs        []string `json:"chunk_ids" binding:"required"`
}

// IncrementalSyncRequest is the body of POST /api/v1/sync/incremental.
type IncrementalSyncRequest struct {
	DataType string    `json:"data_type" binding:"required"`
	Since    time.Time `json:"since" binding:"required"`
}

// JobSubmitted is the reply to a successful sync submission.
type JobSubmitted struct {
	JobID string `json:"job_id"`
}

// JobStatusResponse is the reply of GET /api/v1/sync/jobs/:id.
type JobStatusResponse struct {
	Job syncer.JobRecord `json:"job"`
}

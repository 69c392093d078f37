package types

import "time"

// Transcript is an immutable unit of raw call text owned by the caller.
// The core never mutates it; it only derives chunks from it.
type Transcript struct {
	ID       string    `json:"id"`
	RepID    string    `json:"rep_id"`
	CallDate time.Time `json:"call_date"`
	CallType string    `json:"call_type,omitempty"`
	Text     string    `json:"text"`
}

// ExtractionStatus is the entity-extraction state of a single chunk.
// Pending -> Processing -> {Completed | Failed}. Failed goes back to
// Pending only through an explicit backfill retry.
type ExtractionStatus string

const (
	ExtractionPending    ExtractionStatus = "pending"
	ExtractionProcessing ExtractionStatus = "processing"
	ExtractionCompleted  ExtractionStatus = "completed"
	ExtractionFailed     ExtractionStatus = "failed"
)

// Entity is a single extracted entity from a chunk.
type Entity struct {
	Name string `json:"name"`
	Kind string `json:"kind"`
}

// Chunk is a bounded, overlap-linked segment of a transcript. Embedding
// presence and extraction status are independent indexing facets.
type Chunk struct {
	ID               string           `json:"id"`
	TranscriptID     string           `json:"transcript_id"`
	ChunkIndex       int              `json:"chunk_index"`
	Text             string           `json:"text"`
	CharLength       int              `json:"char_length"`
	Embedding        []float32        `json:"embedding,omitempty"`
	ExtractionStatus ExtractionStatus `json:"extraction_status"`
	Entities         []Entity         `json:"entities,omitempty"`
}

// HasEmbedding reports whether the embedding facet is populated.
func (c Chunk) HasEmbedding() bool { return len(c.Embedding) > 0 }

// JobKind says which indexing facet a backfill recomputes.
type JobKind string

const (
	JobEmbedding        JobKind = "embedding"
	JobEntityExtraction JobKind = "entity_extraction"
)

// IndexingJob tracks one batch indexing run over many chunks. It is
// mutated only by the worker loop that owns it; readers get snapshots.
type IndexingJob struct {
	ID              string    `json:"id"`
	Kind            JobKind   `json:"kind"`
	Total           int       `json:"total"`
	Completed       int       `json:"completed"`
	Failed          int       `json:"failed"`
	StartedAt       time.Time `json:"started_at"`
	LastHeartbeatAt time.Time `json:"last_heartbeat_at"`
	CancelRequested bool      `json:"cancel_requested"`
}

// Done reports whether the job reached a terminal state.
func (j IndexingJob) Done() bool {
	return j.Completed+j.Failed >= j.Total || j.CancelRequested
}

// Stalled reports whether the job looks stuck: heartbeat older than the
// timeout while work remains and no cancel was requested. A finished job
// is never stalled, however old its heartbeat.
func (j IndexingJob) Stalled(now time.Time, timeout time.Duration) bool {
	if j.Completed+j.Failed >= j.Total || j.CancelRequested {
		return false
	}
	return now.Sub(j.LastHeartbeatAt) > timeout
}

// IndexHealth is the aggregate indexing state over a transcript set,
// used to gate whether retrieval-based analysis is safe to run.
type IndexHealth struct {
	TotalChunks         int `json:"total_chunks"`
	WithEmbeddings      int `json:"with_embeddings"`
	ExtractionCompleted int `json:"extraction_completed"`
	ExtractionPending   int `json:"extraction_pending"`
	ExtractionFailed    int `json:"extraction_failed"`
}

// AnalysisScope is the resolved transcript set for one analysis run.
// Immutable once resolved; IDs are kept sorted for reproducibility.
type AnalysisScope struct {
	TranscriptIDs []string `json:"transcript_ids"`
}

// AnalysisTier is the strategy chosen for an analysis run.
type AnalysisTier string

const (
	TierDirect       AnalysisTier = "direct"
	TierSampled      AnalysisTier = "sampled"
	TierHierarchical AnalysisTier = "hierarchical"
)

// BatchDigest is the structured output of one hierarchical map call.
// Unavailable digests stand in for batches that permanently failed so
// the reduce pass sees an explicit gap instead of a size mismatch.
type BatchDigest struct {
	BatchIndex    int                `json:"batch_index"`
	CallCount     int                `json:"call_count"`
	KeyFindings   []string           `json:"key_findings"`
	Scores        map[string]float64 `json:"scores,omitempty"`
	NotableQuotes []string           `json:"notable_quotes,omitempty"`
	Unavailable   bool               `json:"unavailable,omitempty"`
}

// TrendReport is the final coaching-trend output of an analysis run.
type TrendReport struct {
	Tier              AnalysisTier `json:"tier"`
	CallCount         int          `json:"call_count"`
	SampledCallCount  int          `json:"sampled_call_count,omitempty"`
	ExcludedCallCount int          `json:"excluded_call_count,omitempty"`
	Summary           string       `json:"summary"`
	Strengths         []string     `json:"strengths,omitempty"`
	Improvements      []string     `json:"improvements,omitempty"`
	CoachingActions   []string     `json:"coaching_actions,omitempty"`
	DurationMs        int64        `json:"duration_ms"`
}

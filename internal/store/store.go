// Package store holds transcripts, their chunks with per-chunk indexing
// state, and indexing-job progress records. It is the single shared
// resource of the pipeline: worker loops mutate it, monitoring reads
// snapshot it.
package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"coaching-insights-go/internal/logger"
	"coaching-insights-go/internal/types"
)

type Store struct {
	mu           sync.RWMutex
	transcripts  map[string]types.Transcript
	chunks       map[string]*types.Chunk
	byTranscript map[string][]string // ordered chunk ids per transcript
	jobs         map[string]*types.IndexingJob
	vectors      *VectorIndex
	log          *logger.Logger
}

func New(log *logger.Logger) (*Store, error) {
	vectors, err := newVectorIndex()
	if err != nil {
		return nil, err
	}
	return &Store{
		transcripts:  map[string]types.Transcript{},
		chunks:       map[string]*types.Chunk{},
		byTranscript: map[string][]string{},
		jobs:         map[string]*types.IndexingJob{},
		vectors:      vectors,
		log:          log,
	}, nil
}

// PutTranscript registers a transcript. The text is treated as
// immutable input; re-submitting the same id overwrites the record but
// leaves existing chunks alone until the caller re-chunks.
func (s *Store) PutTranscript(t types.Transcript) (types.Transcript, error) {
	if t.Text == "" {
		return types.Transcript{}, fmt.Errorf("transcript %q: empty text", t.ID)
	}
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transcripts[t.ID] = t
	return t, nil
}

func (s *Store) GetTranscript(id string) (types.Transcript, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.transcripts[id]
	return t, ok
}

// TranscriptsChronological returns the given transcripts ordered by
// call date, then id, for stable analysis narratives.
func (s *Store) TranscriptsChronological(ids []string) []types.Transcript {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.Transcript, 0, len(ids))
	for _, id := range ids {
		if t, ok := s.transcripts[id]; ok {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CallDate.Equal(out[j].CallDate) {
			return out[i].CallDate.Before(out[j].CallDate)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// ReplaceChunks swaps a transcript's chunk set wholesale. Old chunks
// (and their vector entries) are deleted; chunks are never partially
// patched.
func (s *Store) ReplaceChunks(ctx context.Context, transcriptID string, texts []string) ([]types.Chunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.transcripts[transcriptID]; !ok {
		return nil, fmt.Errorf("unknown transcript %q", transcriptID)
	}

	old := s.byTranscript[transcriptID]
	if len(old) > 0 {
		if err := s.vectors.Remove(ctx, old...); err != nil {
			return nil, fmt.Errorf("clear vector entries: %w", err)
		}
		for _, id := range old {
			delete(s.chunks, id)
		}
	}

	ids := make([]string, 0, len(texts))
	out := make([]types.Chunk, 0, len(texts))
	for i, text := range texts {
		c := types.Chunk{
			ID:               uuid.New().String(),
			TranscriptID:     transcriptID,
			ChunkIndex:       i,
			Text:             text,
			CharLength:       len(text),
			ExtractionStatus: types.ExtractionPending,
		}
		s.chunks[c.ID] = &c
		ids = append(ids, c.ID)
		out = append(out, c)
	}
	s.byTranscript[transcriptID] = ids
	s.log.WithField("transcript_id", transcriptID).
		WithField("old_chunks", len(old)).
		WithField("new_chunks", len(out)).
		Debug("chunk set replaced")
	return out, nil
}

// Chunks returns copies of a transcript's chunks in original-text order.
func (s *Store) Chunks(transcriptID string) []types.Chunk {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.byTranscript[transcriptID]
	out := make([]types.Chunk, 0, len(ids))
	for _, id := range ids {
		if c := s.chunks[id]; c != nil {
			out = append(out, *c)
		}
	}
	return out
}

func (s *Store) GetChunk(id string) (types.Chunk, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.chunks[id]
	if !ok {
		return types.Chunk{}, false
	}
	return *c, true
}

// SetEmbedding stores a chunk's embedding and mirrors it into the
// vector index. The embedding facet is independent of extraction state.
func (s *Store) SetEmbedding(ctx context.Context, chunkID string, embedding []float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.chunks[chunkID]
	if !ok {
		return fmt.Errorf("unknown chunk %q", chunkID)
	}
	c.Embedding = embedding
	return s.vectors.Upsert(ctx, *c)
}

// MarkExtraction advances a chunk's extraction status. Illegal
// transitions are rejected so the state machine stays closed.
func (s *Store) MarkExtraction(chunkID string, status types.ExtractionStatus, entities []types.Entity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.chunks[chunkID]
	if !ok {
		return fmt.Errorf("unknown chunk %q", chunkID)
	}
	if !legalTransition(c.ExtractionStatus, status) {
		return fmt.Errorf("chunk %s: illegal extraction transition %s -> %s", chunkID, c.ExtractionStatus, status)
	}
	c.ExtractionStatus = status
	if status == types.ExtractionCompleted {
		c.Entities = entities
	}
	return nil
}

func legalTransition(from, to types.ExtractionStatus) bool {
	switch from {
	case types.ExtractionPending:
		return to == types.ExtractionProcessing
	case types.ExtractionProcessing:
		// Pending is allowed so an aborted job can release its unit.
		return to == types.ExtractionCompleted || to == types.ExtractionFailed || to == types.ExtractionPending
	case types.ExtractionFailed:
		// Only an explicit backfill retry resets Failed.
		return to == types.ExtractionPending
	default:
		return false
	}
}

// ResetFailedExtractions flips Failed chunks back to Pending ahead of a
// backfill retry. Returns how many were reset.
func (s *Store) ResetFailedExtractions(transcriptIDs []string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, tid := range s.targetTranscripts(transcriptIDs) {
		for _, id := range s.byTranscript[tid] {
			if c := s.chunks[id]; c != nil && c.ExtractionStatus == types.ExtractionFailed {
				c.ExtractionStatus = types.ExtractionPending
				n++
			}
		}
	}
	return n
}

// ChunksNeedingIndex returns copies of the chunks a backfill of the
// given kind still has to process, in transcript and chunk order.
// An empty transcript set means the whole corpus. Completed work is
// skipped, which is what makes restarted jobs resume instead of
// redoing everything.
func (s *Store) ChunksNeedingIndex(kind types.JobKind, transcriptIDs []string) []types.Chunk {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []types.Chunk
	for _, tid := range s.targetTranscripts(transcriptIDs) {
		for _, id := range s.byTranscript[tid] {
			c := s.chunks[id]
			if c == nil {
				continue
			}
			switch kind {
			case types.JobEmbedding:
				// Blank text can never be embedded; collecting it would
				// make every restarted backfill re-fail the same unit.
				if !c.HasEmbedding() && strings.TrimSpace(c.Text) != "" {
					out = append(out, *c)
				}
			case types.JobEntityExtraction:
				if c.ExtractionStatus == types.ExtractionPending {
					out = append(out, *c)
				}
			}
		}
	}
	return out
}

// Health aggregates indexing state over a transcript set (empty means
// the whole corpus). Pure read, no side effects.
func (s *Store) Health(transcriptIDs []string) types.IndexHealth {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var h types.IndexHealth
	for _, tid := range s.targetTranscripts(transcriptIDs) {
		for _, id := range s.byTranscript[tid] {
			c := s.chunks[id]
			if c == nil {
				continue
			}
			h.TotalChunks++
			if c.HasEmbedding() {
				h.WithEmbeddings++
			}
			switch c.ExtractionStatus {
			case types.ExtractionCompleted:
				h.ExtractionCompleted++
			case types.ExtractionFailed:
				h.ExtractionFailed++
			default:
				h.ExtractionPending++
			}
		}
	}
	return h
}

// targetTranscripts interprets an empty id set as every transcript,
// in sorted order. Callers must hold at least the read lock.
func (s *Store) targetTranscripts(ids []string) []string {
	if len(ids) > 0 {
		return ids
	}
	all := make([]string, 0, len(s.transcripts))
	for id := range s.transcripts {
		all = append(all, id)
	}
	sort.Strings(all)
	return all
}

// ResolveScope turns a rep + date range filter into an explicit,
// sorted transcript set. The range is inclusive on both ends.
func (s *Store) ResolveScope(repID string, from, to time.Time) types.AnalysisScope {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var ids []string
	for id, t := range s.transcripts {
		if repID != "" && t.RepID != repID {
			continue
		}
		if !from.IsZero() && t.CallDate.Before(from) {
			continue
		}
		if !to.IsZero() && t.CallDate.After(to) {
			continue
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return types.AnalysisScope{TranscriptIDs: ids}
}

// ScopeFromIDs normalizes an explicit selection: unknown ids dropped,
// duplicates removed, result sorted.
func (s *Store) ScopeFromIDs(ids []string) types.AnalysisScope {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := map[string]bool{}
	var out []string
	for _, id := range ids {
		if _, ok := s.transcripts[id]; ok && !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return types.AnalysisScope{TranscriptIDs: out}
}

// Search ranks embedded chunks by similarity to the query embedding,
// restricted to the candidate transcript set (empty means no filter).
// Results are chunk copies with similarity scores, best first.
func (s *Store) Search(ctx context.Context, embedding []float32, candidateIDs []string, k int) ([]types.Chunk, []float32, error) {
	candidates := map[string]bool{}
	for _, id := range candidateIDs {
		candidates[id] = true
	}

	// Query the whole index and filter: chromem has no set-membership
	// filter, and the index lives in memory anyway.
	matches, err := s.vectors.Query(ctx, embedding, s.vectors.Size())
	if err != nil {
		return nil, nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	var chunks []types.Chunk
	var scores []float32
	for _, m := range matches {
		if len(chunks) >= k {
			break
		}
		if len(candidates) > 0 && !candidates[m.TranscriptID] {
			continue
		}
		if c := s.chunks[m.ChunkID]; c != nil {
			chunks = append(chunks, *c)
			scores = append(scores, m.Similarity)
		}
	}
	return chunks, scores, nil
}

// --- IndexingJob registry -------------------------------------------------

// CreateJob registers a new backfill run. The job record is owned by
// the worker loop; everyone else reads snapshots.
func (s *Store) CreateJob(kind types.JobKind, total int) types.IndexingJob {
	now := time.Now()
	j := types.IndexingJob{
		ID:              uuid.New().String(),
		Kind:            kind,
		Total:           total,
		StartedAt:       now,
		LastHeartbeatAt: now,
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[j.ID] = &j
	return j
}

// JobSnapshot returns a copy of the job's current progress.
func (s *Store) JobSnapshot(id string) (types.IndexingJob, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[id]
	if !ok {
		return types.IndexingJob{}, false
	}
	return *j, true
}

// RecordBatch adds batch results to the job's counters and refreshes
// the heartbeat. Called by the owning worker loop after every batch.
func (s *Store) RecordBatch(jobID string, completed, failed int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j := s.jobs[jobID]; j != nil {
		j.Completed += completed
		j.Failed += failed
		j.LastHeartbeatAt = time.Now()
	}
}

// RequestCancel flags the job for cooperative cancellation. The worker
// loop checks it between batches, never mid-batch.
func (s *Store) RequestCancel(jobID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok {
		return false
	}
	j.CancelRequested = true
	return true
}

// StalledJobs reports jobs whose heartbeat is older than the timeout
// while work remains. Monitoring only; job state is not mutated.
func (s *Store) StalledJobs(timeout time.Duration) []types.IndexingJob {
	s.mu.RLock()
	defer s.mu.RUnlock()
	now := time.Now()
	var out []types.IndexingJob
	for _, j := range s.jobs {
		if j.Stalled(now, timeout) {
			out = append(out, *j)
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].StartedAt.Before(out[k].StartedAt) })
	return out
}

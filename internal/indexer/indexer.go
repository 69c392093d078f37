// Package indexer drives chunks through the indexing state machine:
// embedding and entity extraction backfills over bounded batches, with
// heartbeats, cooperative cancellation, and resume-on-restart.
package indexer

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"coaching-insights-go/internal/config"
	"coaching-insights-go/internal/gateway"
	"coaching-insights-go/internal/logger"
	"coaching-insights-go/internal/store"
	"coaching-insights-go/internal/types"
)

// Embedder computes a fixed-length vector for a piece of text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// EntityExtractor pulls structured entities out of a piece of text.
type EntityExtractor interface {
	Extract(ctx context.Context, text string) ([]types.Entity, error)
}

// Selector chooses which chunks a backfill covers.
type Selector struct {
	TranscriptIDs []string
	// RetryFailed resets Failed extractions to Pending before the run.
	RetryFailed bool
}

type Indexer struct {
	store     *store.Store
	embedder  Embedder
	extractor EntityExtractor

	batchSize    int
	concurrency  int
	stallTimeout time.Duration
	log          *logger.Logger
}

func New(s *store.Store, emb Embedder, ext EntityExtractor, cfg config.Config, log *logger.Logger) *Indexer {
	return &Indexer{
		store:        s,
		embedder:     emb,
		extractor:    ext,
		batchSize:    max(1, cfg.IndexBatchSize),
		concurrency:  max(1, cfg.Concurrency),
		stallTimeout: cfg.StallTimeout,
		log:          log,
	}
}

// StartBackfill creates the job and processes it in the background.
// Callers must not start two backfills over overlapping scopes; each
// chunk is processed by exactly one job at a time by convention.
func (ix *Indexer) StartBackfill(ctx context.Context, kind types.JobKind, sel Selector) types.IndexingJob {
	job, chunks := ix.prepare(kind, sel)
	go func() {
		if err := ix.run(context.WithoutCancel(ctx), job.ID, kind, chunks); err != nil {
			ix.log.WithJob(job.ID, string(kind)).WithError(err).Warn("backfill aborted")
		}
	}()
	return job
}

// Backfill is the synchronous variant: it returns once the job is
// finished, cancelled, or aborted.
func (ix *Indexer) Backfill(ctx context.Context, kind types.JobKind, sel Selector) (types.IndexingJob, error) {
	job, chunks := ix.prepare(kind, sel)
	err := ix.run(ctx, job.ID, kind, chunks)
	snap, _ := ix.store.JobSnapshot(job.ID)
	return snap, err
}

func (ix *Indexer) prepare(kind types.JobKind, sel Selector) (types.IndexingJob, []types.Chunk) {
	if kind == types.JobEntityExtraction && sel.RetryFailed {
		n := ix.store.ResetFailedExtractions(sel.TranscriptIDs)
		ix.log.WithField("reset", n).Info("failed extractions reset for retry")
	}
	// Chunks already Completed (or already embedded) are not collected,
	// which is what makes a restarted job resume instead of redo.
	chunks := ix.store.ChunksNeedingIndex(kind, sel.TranscriptIDs)
	job := ix.store.CreateJob(kind, len(chunks))
	ix.log.WithJob(job.ID, string(kind)).WithField("total", job.Total).Info("backfill started")
	return job, chunks
}

// Cancel flags the job; the worker loop honors it between batches.
func (ix *Indexer) Cancel(jobID string) bool {
	return ix.store.RequestCancel(jobID)
}

// Progress returns a job snapshot plus whether it currently reads as
// stalled. Read-only; recovery is the caller's decision.
func (ix *Indexer) Progress(jobID string) (types.IndexingJob, bool, bool) {
	snap, ok := ix.store.JobSnapshot(jobID)
	if !ok {
		return types.IndexingJob{}, false, false
	}
	return snap, snap.Stalled(time.Now(), ix.stallTimeout), true
}

// StalledJobs lists every job whose heartbeat has gone quiet.
func (ix *Indexer) StalledJobs() []types.IndexingJob {
	return ix.store.StalledJobs(ix.stallTimeout)
}

func (ix *Indexer) run(ctx context.Context, jobID string, kind types.JobKind, chunks []types.Chunk) error {
	log := ix.log.WithJob(jobID, string(kind))
	for start := 0; start < len(chunks); start += ix.batchSize {
		// Cancellation is cooperative: checked between batches only.
		if snap, ok := ix.store.JobSnapshot(jobID); ok && snap.CancelRequested {
			log.Info("backfill cancelled")
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		end := min(start+ix.batchSize, len(chunks))
		completed, failed, err := ix.processBatch(ctx, kind, chunks[start:end])
		ix.store.RecordBatch(jobID, completed, failed)
		if err != nil {
			// Quota exhaustion stops the job early and cleanly;
			// completed work stays intact and the job is resumable.
			return err
		}
	}
	log.Info("backfill finished")
	return nil
}

// processBatch indexes one batch with a bounded worker pool. Per-chunk
// failures are counted, never fatal; only quota exhaustion aborts.
func (ix *Indexer) processBatch(ctx context.Context, kind types.JobKind, batch []types.Chunk) (int, int, error) {
	var completed, failed atomic.Int64
	var quotaErr atomic.Pointer[error]

	g := new(errgroup.Group)
	g.SetLimit(ix.concurrency)
	for _, chunk := range batch {
		chunk := chunk
		g.Go(func() error {
			if quotaErr.Load() != nil {
				return nil // stop issuing further calls
			}
			err := ix.processChunk(ctx, kind, chunk)
			switch {
			case err == nil:
				completed.Add(1)
			case errors.Is(err, gateway.ErrQuotaExceeded):
				quotaErr.CompareAndSwap(nil, &err)
			default:
				failed.Add(1)
				ix.log.WithField("chunk_id", chunk.ID).WithError(err).Warn("chunk indexing failed")
			}
			return nil
		})
	}
	_ = g.Wait()

	if perr := quotaErr.Load(); perr != nil {
		return int(completed.Load()), int(failed.Load()), *perr
	}
	return int(completed.Load()), int(failed.Load()), nil
}

func (ix *Indexer) processChunk(ctx context.Context, kind types.JobKind, chunk types.Chunk) error {
	// Empty text is a permanent input problem; skip the service call.
	if strings.TrimSpace(chunk.Text) == "" {
		if kind == types.JobEntityExtraction {
			_ = ix.store.MarkExtraction(chunk.ID, types.ExtractionProcessing, nil)
			_ = ix.store.MarkExtraction(chunk.ID, types.ExtractionFailed, nil)
		}
		return errors.New("empty chunk text")
	}

	switch kind {
	case types.JobEmbedding:
		vec, err := ix.embedder.Embed(ctx, chunk.Text)
		if err != nil {
			return err
		}
		return ix.store.SetEmbedding(ctx, chunk.ID, vec)

	case types.JobEntityExtraction:
		if err := ix.store.MarkExtraction(chunk.ID, types.ExtractionProcessing, nil); err != nil {
			return err
		}
		entities, err := ix.extractor.Extract(ctx, chunk.Text)
		if err != nil {
			if errors.Is(err, gateway.ErrQuotaExceeded) {
				// Release the unit; the aborted job may be resumed.
				_ = ix.store.MarkExtraction(chunk.ID, types.ExtractionPending, nil)
			} else {
				_ = ix.store.MarkExtraction(chunk.ID, types.ExtractionFailed, nil)
			}
			return err
		}
		return ix.store.MarkExtraction(chunk.ID, types.ExtractionCompleted, entities)

	default:
		return errors.New("unknown job kind")
	}
}

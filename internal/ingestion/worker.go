// Package ingestion runs the Ingestion Worker: it claims knowledge_asset
// jobs off the ingest queue, converts and chunks the uploaded document, and
// embeds and indexes each chunk into the retrieval vector store.
package ingestion

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/memoh-platform/convoy/internal/domain"
	"github.com/memoh-platform/convoy/internal/embeddings"
	"github.com/memoh-platform/convoy/internal/metrics"
	"github.com/memoh-platform/convoy/internal/objectstore"
	"github.com/memoh-platform/convoy/internal/retrieval"
	"github.com/memoh-platform/convoy/internal/store"
	"github.com/memoh-platform/convoy/internal/streams"
)

// visibilityTimeout bounds how long a job can sit claimed by one consumer
// before reclaim treats it as abandoned and hands it to another.
const visibilityTimeout = 5 * time.Minute

// maxChunkRunes caps a chunk before embedding; matches the context window
// budgeting the retrieval package assumes downstream.
const maxChunkRunes = 1800

// embedBatchSize bounds how many chunks are sent to the embedding provider
// per request (spec §4.4 step 4: "embed each chunk with batch size ≤ 64").
const embedBatchSize = 64

// Worker consumes the ingest stream, one job at a time per goroutine, and
// drives a job through fetch -> convert -> chunk -> embed -> index.
type Worker struct {
	queue      *streams.Stream
	store      *store.Store
	objects    *objectstore.Store
	embedder   *embeddings.Resolver
	vectors    *retrieval.VectorStore
	metrics    *metrics.Recorder
	log        *slog.Logger
	maxAttempts int
}

func NewWorker(queue *streams.Stream, st *store.Store, objects *objectstore.Store, embedder *embeddings.Resolver, vectors *retrieval.VectorStore, rec *metrics.Recorder, log *slog.Logger, maxAttempts int) *Worker {
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	return &Worker{
		queue:       queue,
		store:       st,
		objects:     objects,
		embedder:    embedder,
		vectors:     vectors,
		metrics:     rec,
		log:         log.With(slog.String("component", "ingestion_worker")),
		maxAttempts: maxAttempts,
	}
}

// Run reads jobs off the queue until ctx is cancelled, reclaiming any job
// left idle past visibilityTimeout on a visibilityTimeout/3 ticker so a
// crashed consumer doesn't strand it permanently.
func (w *Worker) Run(ctx context.Context, consumer string) {
	reclaimTicker := time.NewTicker(visibilityTimeout / 3)
	defer reclaimTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-reclaimTicker.C:
			w.reclaim(ctx, consumer)
		default:
		}

		msgs, err := w.queue.Read(ctx, consumer, 1, 2*time.Second)
		if err != nil {
			w.log.Error("read ingest queue failed", slog.Any("error", err))
			time.Sleep(time.Second)
			continue
		}
		for _, m := range msgs {
			w.process(ctx, m)
		}
	}
}

func (w *Worker) reclaim(ctx context.Context, consumer string) {
	msgs, err := w.queue.Claim(ctx, consumer, visibilityTimeout, 10)
	if err != nil {
		w.log.Error("claim abandoned ingest jobs failed", slog.Any("error", err))
		return
	}
	for _, m := range msgs {
		w.process(ctx, m)
	}
}

func (w *Worker) process(ctx context.Context, m streams.Message) {
	started := time.Now()
	jobID, tenantID, brandID, assetID, err := parseJobMessage(m)
	if err != nil {
		w.log.Error("malformed ingest job message, dead-lettering", slog.Any("error", err))
		_ = w.queue.DeadLetter(ctx, m.ID, m.Values)
		return
	}

	log := w.log.With(slog.String("job_id", jobID.String()), slog.String("asset_id", assetID.String()))

	if err := w.runJob(ctx, jobID, tenantID, brandID, assetID); err != nil {
		log.Error("ingestion job failed", slog.Any("error", err))
		w.metrics.IncIngestionFailure("processing_error")

		job, getErr := w.store.IngestionJobs.Get(ctx, jobID)
		deadLetter := getErr == nil && job.Attempts >= w.maxAttempts
		_ = w.store.IngestionJobs.MarkFailed(ctx, jobID, deadLetter, err.Error())
		_ = w.store.Assets.SetStatus(ctx, assetID, domain.AssetFailed)

		if deadLetter {
			_ = w.queue.DeadLetter(ctx, m.ID, m.Values)
		} else {
			// leave unacked; XAUTOCLAIM will redeliver it to a consumer
			// once visibilityTimeout elapses and this worker retries.
			w.metrics.ObserveIngestionJob(time.Since(started))
			return
		}
	}

	_ = w.queue.Ack(ctx, m.ID)
	w.metrics.ObserveIngestionJob(time.Since(started))
}

func (w *Worker) runJob(ctx context.Context, jobID, tenantID, brandID, assetID uuid.UUID) error {
	if job, err := w.store.IngestionJobs.Get(ctx, jobID); err == nil && job.Status == domain.JobCancelled {
		return nil
	}
	if err := w.store.IngestionJobs.MarkRunning(ctx, jobID); err != nil {
		return fmt.Errorf("mark running: %w", err)
	}
	if err := w.store.Assets.SetStatus(ctx, assetID, domain.AssetIngesting); err != nil {
		return fmt.Errorf("set asset ingesting: %w", err)
	}

	asset, err := w.store.Assets.Get(ctx, assetID)
	if err != nil {
		return fmt.Errorf("load asset: %w", err)
	}

	raw, err := w.objects.Get(ctx, asset.ObjectKey)
	if err != nil {
		return fmt.Errorf("fetch object: %w", err)
	}

	format := DetectFormat(asset.ContentType, asset.Filename)
	text, markdown, err := ToMarkdown(format, raw)
	if err != nil {
		return fmt.Errorf("convert %s document: %w", format, err)
	}

	chunks := ChunkDocument(text, markdown, maxChunkRunes)
	if len(chunks) == 0 {
		return fmt.Errorf("document produced no chunks")
	}
	totalChunks := len(chunks)

	dimensions := 0
	for start := 0; start < len(chunks); start += embedBatchSize {
		end := start + embedBatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := chunks[start:end]

		results, err := w.embedder.EmbedBatch(ctx, tenantID.String(), batch)
		if err != nil {
			return fmt.Errorf("embed chunks %d-%d: %w", start, end-1, err)
		}
		if dimensions == 0 && len(results) > 0 {
			dimensions = len(results[0].Embedding)
			if err := w.vectors.EnsureCollection(ctx, uint64(dimensions)); err != nil {
				return fmt.Errorf("ensure vector collection: %w", err)
			}
		}

		for j, result := range results {
			i := start + j
			chunk := retrieval.Chunk{
				ChunkID:  fmt.Sprintf("%s:%d", assetID, i),
				AssetID:  assetID,
				TenantID: tenantID,
				BrandID:  brandID,
				Text:     chunks[i],
				Position: i,
			}
			if err := w.vectors.Upsert(ctx, chunk, result.Embedding); err != nil {
				return fmt.Errorf("upsert chunk %d: %w", i, err)
			}
			if err := w.store.IngestionJobs.IncrementProcessed(ctx, jobID, totalChunks); err != nil {
				return fmt.Errorf("record processed chunk %d: %w", i, err)
			}
		}
	}

	if err := w.store.IngestionJobs.MarkSucceeded(ctx, jobID, totalChunks); err != nil {
		return fmt.Errorf("mark succeeded: %w", err)
	}
	return w.store.Assets.SetStatus(ctx, assetID, domain.AssetReady)
}

func parseJobMessage(m streams.Message) (jobID, tenantID, brandID, assetID uuid.UUID, err error) {
	fields := map[string]*uuid.UUID{
		"job_id":    &jobID,
		"tenant_id": &tenantID,
		"brand_id":  &brandID,
		"asset_id":  &assetID,
	}
	for key, dst := range fields {
		raw, _ := m.Values[key].(string)
		parsed, parseErr := uuid.Parse(raw)
		if parseErr != nil {
			return uuid.Nil, uuid.Nil, uuid.Nil, uuid.Nil, fmt.Errorf("field %s: %w", key, parseErr)
		}
		*dst = parsed
	}
	return jobID, tenantID, brandID, assetID, nil
}

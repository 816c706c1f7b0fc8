package store

import (
	"context"

	"github.com/google/uuid"

	"github.com/memoh-platform/convoy/internal/apperr"
	"github.com/memoh-platform/convoy/internal/domain"
)

type IngestionJobStore struct{ base }

func (s *IngestionJobStore) Create(ctx context.Context, j domain.IngestionJob) error {
	_, err := s.ex.Exec(ctx, `
		INSERT INTO ingestion_jobs (job_id, tenant_id, brand_id, asset_id, status)
		VALUES ($1, $2, $3, $4, 'queued')`,
		j.JobID, j.TenantID, j.BrandID, j.AssetID)
	if err != nil {
		return apperr.Wrap(apperr.KindTransient, true, "ingestion_job_create_failed", err)
	}
	return nil
}

func (s *IngestionJobStore) Get(ctx context.Context, jobID uuid.UUID) (domain.IngestionJob, error) {
	var j domain.IngestionJob
	var status string
	err := s.ex.QueryRow(ctx, `
		SELECT job_id, tenant_id, brand_id, asset_id, status, attempts, processed_chunks, total_chunks, COALESCE(error_message,''), created_at, updated_at, completed_at
		FROM ingestion_jobs WHERE job_id = $1`, jobID,
	).Scan(&j.JobID, &j.TenantID, &j.BrandID, &j.AssetID, &status, &j.Attempts, &j.ProcessedChunks, &j.TotalChunks, &j.ErrorMessage, &j.CreatedAt, &j.UpdatedAt, &j.CompletedAt)
	if err != nil {
		return domain.IngestionJob{}, notFoundOr(err, "ingestion_job", jobID)
	}
	j.Status = domain.JobStatus(status)
	return j, nil
}

// ListByTenant returns jobs newest-first with simple offset pagination for
// the admin /ingestion_jobs listing endpoint.
func (s *IngestionJobStore) ListByTenant(ctx context.Context, tenantID uuid.UUID, limit, offset int) ([]domain.IngestionJob, error) {
	rows, err := s.ex.Query(ctx, `
		SELECT job_id, tenant_id, brand_id, asset_id, status, attempts, processed_chunks, total_chunks, COALESCE(error_message,''), created_at, updated_at, completed_at
		FROM ingestion_jobs WHERE tenant_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		tenantID, limit, offset)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindTransient, true, "ingestion_job_list_failed", err)
	}
	defer rows.Close()

	var out []domain.IngestionJob
	for rows.Next() {
		var j domain.IngestionJob
		var status string
		if err := rows.Scan(&j.JobID, &j.TenantID, &j.BrandID, &j.AssetID, &status, &j.Attempts, &j.ProcessedChunks, &j.TotalChunks, &j.ErrorMessage, &j.CreatedAt, &j.UpdatedAt, &j.CompletedAt); err != nil {
			return nil, apperr.Wrap(apperr.KindTransient, true, "ingestion_job_scan_failed", err)
		}
		j.Status = domain.JobStatus(status)
		out = append(out, j)
	}
	return out, rows.Err()
}

// IncrementProcessed advances processed_chunks by one and records the job's
// total_chunks once known (spec §4.4 step 6: "update processed_chunks
// progressively"), so a job's progress is observable mid-run rather than
// only at completion.
func (s *IngestionJobStore) IncrementProcessed(ctx context.Context, jobID uuid.UUID, totalChunks int) error {
	_, err := s.ex.Exec(ctx, `
		UPDATE ingestion_jobs SET processed_chunks = processed_chunks + 1, total_chunks = $2, updated_at = now() WHERE job_id = $1`,
		jobID, totalChunks)
	if err != nil {
		return apperr.Wrap(apperr.KindTransient, true, "ingestion_job_increment_processed_failed", err)
	}
	return nil
}

func (s *IngestionJobStore) MarkRunning(ctx context.Context, jobID uuid.UUID) error {
	_, err := s.ex.Exec(ctx, `
		UPDATE ingestion_jobs SET status = 'running', attempts = attempts + 1, updated_at = now() WHERE job_id = $1`, jobID)
	if err != nil {
		return apperr.Wrap(apperr.KindTransient, true, "ingestion_job_mark_running_failed", err)
	}
	return nil
}

func (s *IngestionJobStore) MarkSucceeded(ctx context.Context, jobID uuid.UUID, totalChunks int) error {
	_, err := s.ex.Exec(ctx, `
		UPDATE ingestion_jobs SET status = 'succeeded', processed_chunks = $2, total_chunks = $2, updated_at = now(), completed_at = now() WHERE job_id = $1`,
		jobID, totalChunks)
	if err != nil {
		return apperr.Wrap(apperr.KindTransient, true, "ingestion_job_mark_succeeded_failed", err)
	}
	return nil
}

// MarkFailed records a failed attempt. exhausted marks whether the job's
// retry budget is spent: the queue message is moved to its own dead-letter
// stream partition in that case (a queue-level concern, see
// internal/streams.Stream.DeadLetter), but the job's own status is simply
// the spec's terminal "failed" state either way.
func (s *IngestionJobStore) MarkFailed(ctx context.Context, jobID uuid.UUID, exhausted bool, reason string) error {
	_, err := s.ex.Exec(ctx, `
		UPDATE ingestion_jobs SET status = 'failed', error_message = $2, updated_at = now(), completed_at = now() WHERE job_id = $1`,
		jobID, reason)
	if err != nil {
		return apperr.Wrap(apperr.KindTransient, true, "ingestion_job_mark_failed_failed", err)
	}
	return nil
}

// Cancel transitions a job to the terminal "cancelled" state (spec.md §3's
// IngestionJob.status enum) provided it has not already settled into
// succeeded/failed/cancelled.
func (s *IngestionJobStore) Cancel(ctx context.Context, jobID uuid.UUID) error {
	tag, err := s.ex.Exec(ctx, `
		UPDATE ingestion_jobs SET status = 'cancelled', updated_at = now(), completed_at = now()
		WHERE job_id = $1 AND status NOT IN ('succeeded', 'failed', 'cancelled')`, jobID)
	if err != nil {
		return apperr.Wrap(apperr.KindTransient, true, "ingestion_job_cancel_failed", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.Conflict("ingestion_job_already_terminal", "job %s has already reached a terminal state", jobID)
	}
	return nil
}

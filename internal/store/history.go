package store

import (
	"database/sql"
	"fmt"
)

// RecordJob inserts or updates a job record by ID. The export manager calls
// this once a job reaches a terminal status, so re-recording only happens when
// a crashed run is replayed with the same job ID.
func (db *DB) RecordJob(r *JobRecord) error {
	_, err := db.Exec(`
		INSERT INTO export_jobs (id, account_id, status, format, output_path,
			conversations, messages, media_exported, media_missing, errors,
			error_text, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			output_path = excluded.output_path,
			conversations = excluded.conversations,
			messages = excluded.messages,
			media_exported = excluded.media_exported,
			media_missing = excluded.media_missing,
			errors = excluded.errors,
			error_text = excluded.error_text,
			finished_at = excluded.finished_at`,
		r.ID, r.AccountID, r.Status, r.Format, r.OutputPath,
		r.Conversations, r.Messages, r.MediaExported, r.MediaMissing, r.Errors,
		r.ErrorText, r.StartedAt, r.FinishedAt)
	if err != nil {
		return fmt.Errorf("record job: %w", err)
	}
	return nil
}

// ListJobs returns finished jobs, most recent first.
func (db *DB) ListJobs(limit, offset int) ([]*JobRecord, error) {
	rows, err := db.Query(`
		SELECT id, account_id, status, format, output_path,
			conversations, messages, media_exported, media_missing, errors,
			error_text, started_at, finished_at
		FROM export_jobs
		ORDER BY started_at DESC, id
		LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*JobRecord
	for rows.Next() {
		r := &JobRecord{}
		if err := rows.Scan(&r.ID, &r.AccountID, &r.Status, &r.Format, &r.OutputPath,
			&r.Conversations, &r.Messages, &r.MediaExported, &r.MediaMissing, &r.Errors,
			&r.ErrorText, &r.StartedAt, &r.FinishedAt); err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, r)
	}
	return jobs, rows.Err()
}

// GetJob returns a job record by ID, or nil if not found.
func (db *DB) GetJob(id string) (*JobRecord, error) {
	r := &JobRecord{}
	err := db.QueryRow(`
		SELECT id, account_id, status, format, output_path,
			conversations, messages, media_exported, media_missing, errors,
			error_text, started_at, finished_at
		FROM export_jobs WHERE id = ?`, id).
		Scan(&r.ID, &r.AccountID, &r.Status, &r.Format, &r.OutputPath,
			&r.Conversations, &r.Messages, &r.MediaExported, &r.MediaMissing, &r.Errors,
			&r.ErrorText, &r.StartedAt, &r.FinishedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return r, nil
}

// PruneJobs keeps only the newest keep records and deletes the rest.
func (db *DB) PruneJobs(keep int) error {
	_, err := db.Exec(`
		DELETE FROM export_jobs WHERE id NOT IN (
			SELECT id FROM export_jobs ORDER BY started_at DESC, id LIMIT ?
		)`, keep)
	if err != nil {
		return fmt.Errorf("prune jobs: %w", err)
	}
	return nil
}

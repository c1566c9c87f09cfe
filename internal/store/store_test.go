package store

import (
	"path/filepath"
	"testing"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestMigrateAppliesOnFreshDB(t *testing.T) {
	db := testDB(t)

	// testDB already ran Migrate, so run it again to check idempotency.
	result, err := db.Migrate()
	if err != nil {
		t.Fatal(err)
	}
	if result.Changed {
		t.Error("second Migrate() should report Changed=false")
	}
	if result.Version != 1 {
		t.Errorf("version = %d, want 1", result.Version)
	}
}

func TestRecordAndGetJob(t *testing.T) {
	db := testDB(t)

	rec := &JobRecord{
		ID:            "job-1",
		AccountID:     "acct",
		Status:        "done",
		Format:        "json",
		OutputPath:    "/out/export.zip",
		Conversations: 3,
		Messages:      120,
		MediaExported: 40,
		MediaMissing:  2,
		StartedAt:     1000,
		FinishedAt:    2000,
	}
	if err := db.RecordJob(rec); err != nil {
		t.Fatal(err)
	}

	got, err := db.GetJob("job-1")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil {
		t.Fatal("GetJob returned nil for recorded job")
	}
	if got.Status != "done" || got.Messages != 120 || got.MediaMissing != 2 {
		t.Errorf("got %+v, want recorded values", got)
	}

	// Non-existent.
	got, err = db.GetJob("missing")
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Error("expected nil for missing job")
	}
}

func TestRecordJobIdempotent(t *testing.T) {
	db := testDB(t)

	rec := &JobRecord{ID: "job-1", AccountID: "acct", Status: "running", Format: "json", StartedAt: 1000}
	if err := db.RecordJob(rec); err != nil {
		t.Fatal(err)
	}
	// Re-record with terminal status should update, not duplicate.
	rec.Status = "error"
	rec.ErrorText = "disk full"
	rec.FinishedAt = 1500
	if err := db.RecordJob(rec); err != nil {
		t.Fatal(err)
	}

	jobs, err := db.ListJobs(10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(jobs) != 1 {
		t.Fatalf("got %d jobs, want 1 (idempotent record failed)", len(jobs))
	}
	if jobs[0].Status != "error" || jobs[0].ErrorText != "disk full" {
		t.Errorf("got %+v, want updated error fields", jobs[0])
	}
}

func TestListJobsOrder(t *testing.T) {
	db := testDB(t)

	for i, start := range []int64{3000, 1000, 2000} {
		rec := &JobRecord{ID: string(rune('a' + i)), AccountID: "acct", Status: "done", Format: "json", StartedAt: start}
		if err := db.RecordJob(rec); err != nil {
			t.Fatal(err)
		}
	}

	jobs, err := db.ListJobs(10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(jobs) != 3 {
		t.Fatalf("got %d jobs, want 3", len(jobs))
	}
	if jobs[0].StartedAt != 3000 || jobs[2].StartedAt != 1000 {
		t.Errorf("jobs not ordered by started_at DESC: %d, %d, %d",
			jobs[0].StartedAt, jobs[1].StartedAt, jobs[2].StartedAt)
	}
}

func TestPruneJobs(t *testing.T) {
	db := testDB(t)

	for i := 0; i < 5; i++ {
		rec := &JobRecord{ID: string(rune('a' + i)), AccountID: "acct", Status: "done", Format: "json", StartedAt: int64(i * 1000)}
		if err := db.RecordJob(rec); err != nil {
			t.Fatal(err)
		}
	}

	if err := db.PruneJobs(2); err != nil {
		t.Fatal(err)
	}

	jobs, err := db.ListJobs(10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(jobs) != 2 {
		t.Fatalf("got %d jobs after prune, want 2", len(jobs))
	}
	// Newest two survive.
	if jobs[0].StartedAt != 4000 || jobs[1].StartedAt != 3000 {
		t.Errorf("prune kept wrong records: %d, %d", jobs[0].StartedAt, jobs[1].StartedAt)
	}
}

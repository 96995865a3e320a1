package pipeline

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/extractd/extractd/internal/extract"
)

func TestNewJob_StartsQueued(t *testing.T) {
	job := NewJob(json.RawMessage(`{"type":"object"}`), "some text", nil, "")

	if job.ID == "" || len(job.ID) != 26 {
		t.Errorf("expected a 26-char ULID, got %q", job.ID)
	}
	if job.Status != StatusQueued || job.Phase != "queued" {
		t.Errorf("new job state: %s/%s", job.Status, job.Phase)
	}
	if job.Result() != nil {
		t.Errorf("new job should have no result")
	}
}

func TestJob_StateTransitions(t *testing.T) {
	job := NewJob(nil, "text", nil, "")

	transitions := []struct {
		status JobStatus
		phase  string
	}{
		{StatusParsing, "parsing"},
		{StatusAnalyzing, "analyzing"},
		{StatusExtracting, "extracting"},
		{StatusCompleted, "done"},
	}

	for _, tr := range transitions {
		before := job.UpdatedAt
		// Small sleep to ensure time difference is detectable.
		time.Sleep(time.Millisecond)
		job.SetStatus(tr.status, tr.phase)

		if job.Status != tr.status {
			t.Errorf("expected status %q, got %q", tr.status, job.Status)
		}
		if job.Phase != tr.phase {
			t.Errorf("expected phase %q, got %q", tr.phase, job.Phase)
		}
		if !job.UpdatedAt.After(before) {
			t.Errorf("expected UpdatedAt to advance after SetStatus(%q)", tr.status)
		}
	}
}

func TestJob_AddError(t *testing.T) {
	job := NewJob(nil, "text", nil, "")
	job.AddError("schema: not an object")
	job.AddError("chunk 3 failed")

	snap := job.Snapshot()
	if len(snap.Errors) != 2 {
		t.Fatalf("expected 2 errors, got %d", len(snap.Errors))
	}
	if snap.Errors[0] != "schema: not an object" {
		t.Errorf("expected first error preserved, got %q", snap.Errors[0])
	}
}

func TestJob_ResultRoundTrip(t *testing.T) {
	job := NewJob(nil, "text", nil, "")
	result := &extract.DocumentResult{
		Data:     map[string]any{"name": "Ann"},
		Strategy: "single_pass",
	}
	job.SetResult(result)

	got := job.Result()
	if got == nil || got.Data["name"] != "Ann" {
		t.Errorf("result not stored: %+v", got)
	}

	snap := job.Snapshot()
	if snap.Result == nil || snap.Result.Strategy != "single_pass" {
		t.Errorf("snapshot should carry the result: %+v", snap.Result)
	}
}

func TestJob_SnapshotErrorsNotNil(t *testing.T) {
	// Snapshot should always return non-nil errors slice.
	job := NewJob(nil, "text", nil, "")
	snap := job.Snapshot()
	if snap.Errors == nil {
		t.Error("expected non-nil errors slice in snapshot")
	}
	if len(snap.Errors) != 0 {
		t.Errorf("expected empty errors, got %d", len(snap.Errors))
	}
}

func TestJobStore_PutGet(t *testing.T) {
	store := NewJobStore(time.Hour)
	job := NewJob(nil, "text", nil, "")
	store.Put(job)

	got := store.Get(job.ID)
	if got == nil {
		t.Fatal("expected to get job back")
	}
	if got.ID != job.ID {
		t.Errorf("expected ID %q, got %q", job.ID, got.ID)
	}
}

func TestJobStore_GetMissing(t *testing.T) {
	store := NewJobStore(time.Hour)
	if store.Get("nonexistent") != nil {
		t.Error("expected nil for missing job")
	}
}

func TestJobStore_TTLCleanup(t *testing.T) {
	store := NewJobStore(50 * time.Millisecond)

	expired := NewJob(nil, "text", nil, "")
	store.Put(expired)

	// Wait for the TTL to pass.
	time.Sleep(100 * time.Millisecond)

	// Add a fresh job.
	fresh := NewJob(nil, "text", nil, "")
	store.Put(fresh)

	store.Cleanup()

	if store.Get(expired.ID) != nil {
		t.Error("expected expired job to be cleaned up")
	}
	if store.Get(fresh.ID) == nil {
		t.Error("expected fresh job to survive cleanup")
	}
}

func TestJobStore_CleanupEmpty(t *testing.T) {
	store := NewJobStore(time.Hour)
	// Should not panic on empty store.
	store.Cleanup()
}

func TestNewID_Unique(t *testing.T) {
	a := NewID()
	b := NewID()
	if a == b {
		t.Errorf("consecutive ids must differ")
	}
	if len(a) != 26 || len(b) != 26 {
		t.Errorf("ids should be 26 chars, got %d and %d", len(a), len(b))
	}
}

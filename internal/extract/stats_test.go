package extract

import (
	"testing"
	"time"
)

func TestCallStatsSnapshotPercentiles(t *testing.T) {
	stats := NewCallStats(time.Hour)
	stats.Record(100, 10, 5)
	stats.Record(200, 10, 5)
	stats.Record(300, 10, 5)
	stats.Record(400, 10, 5)
	stats.Record(500, 10, 5)

	snap := stats.Snapshot()
	if snap.Count != 5 {
		t.Fatalf("expected count=5, got %d", snap.Count)
	}
	if snap.MinMs != 100 {
		t.Fatalf("expected min=100, got %d", snap.MinMs)
	}
	if snap.MaxMs != 500 {
		t.Fatalf("expected max=500, got %d", snap.MaxMs)
	}
	if snap.AvgMs != 300 {
		t.Fatalf("expected avg=300, got %f", snap.AvgMs)
	}
	if snap.P50Ms != 300 {
		t.Fatalf("expected p50=300, got %f", snap.P50Ms)
	}
	if snap.P95Ms != 480 {
		t.Fatalf("expected p95=480, got %f", snap.P95Ms)
	}
	if snap.P99Ms != 496 {
		t.Fatalf("expected p99=496, got %f", snap.P99Ms)
	}
	if snap.PromptTokens != 50 || snap.CompletionTokens != 25 {
		t.Fatalf("expected token totals 50/25, got %d/%d", snap.PromptTokens, snap.CompletionTokens)
	}
}

func TestCallStatsPrunesExpiredSamples(t *testing.T) {
	stats := NewCallStats(10 * time.Millisecond)
	stats.Record(100, 7, 3)
	time.Sleep(25 * time.Millisecond)

	snap := stats.Snapshot()
	if snap.Count != 0 {
		t.Fatalf("expected count=0 after prune, got %d", snap.Count)
	}
	// Token totals are lifetime counters and survive the latency window.
	if snap.PromptTokens != 7 || snap.CompletionTokens != 3 {
		t.Fatalf("token totals should not be pruned, got %d/%d", snap.PromptTokens, snap.CompletionTokens)
	}

	stats.Record(200, 0, 0)
	snap = stats.Snapshot()
	if snap.Count != 1 {
		t.Fatalf("expected count=1 for fresh sample, got %d", snap.Count)
	}
	if snap.MinMs != 200 || snap.MaxMs != 200 {
		t.Fatalf("expected min=max=200, got min=%d max=%d", snap.MinMs, snap.MaxMs)
	}
}

func TestCallStatsRecordClampsNegativeDuration(t *testing.T) {
	stats := NewCallStats(time.Hour)
	stats.Record(-10, 0, 0)
	snap := stats.Snapshot()
	if snap.Count != 1 {
		t.Fatalf("expected count=1, got %d", snap.Count)
	}
	if snap.MinMs != 0 || snap.MaxMs != 0 {
		t.Fatalf("expected clamped duration=0, got min=%d max=%d", snap.MinMs, snap.MaxMs)
	}
}

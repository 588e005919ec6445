package loadtest

import (
	"path/filepath"
	"testing"
	"time"
)

func setupTestStore(t *testing.T, numRecords int, tombstonePct float64) *TestStore {
	t.Helper()
	ts, err := CreateTestStore(filepath.Join(t.TempDir(), "load.db"), numRecords, tombstonePct)
	if err != nil {
		t.Fatalf("CreateTestStore failed: %v", err)
	}
	t.Cleanup(func() { ts.Close() })
	return ts
}

func TestCreateTestStore(t *testing.T) {
	ts := setupTestStore(t, 100, 0.2)

	if got := len(ts.LiveIDs) + len(ts.TombstoneIDs); got != 100 {
		t.Errorf("created %d records, want 100", got)
	}
	if len(ts.TombstoneIDs) != 20 {
		t.Errorf("got %d tombstones, want 20", len(ts.TombstoneIDs))
	}
}

func TestConcurrentReadsSmall(t *testing.T) {
	ts := setupTestStore(t, 100, 0.2)

	stats, err := ts.RunConcurrentReads(10, 10)
	if err != nil {
		t.Fatalf("RunConcurrentReads failed: %v", err)
	}
	if stats.TotalQueries != 100 {
		t.Errorf("TotalQueries = %d, want 100", stats.TotalQueries)
	}
	if stats.Errors != 0 {
		t.Errorf("got %d errors", stats.Errors)
	}
	if stats.P50 > stats.P99 {
		t.Errorf("P50 %v exceeds P99 %v", stats.P50, stats.P99)
	}
}

func TestReadsNeverSurfaceTombstones(t *testing.T) {
	ts := setupTestStore(t, 50, 0.5)

	stats, err := ts.RunConcurrentReads(5, 5)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Errors != 0 {
		t.Errorf("got %d errors", stats.Errors)
	}
}

func TestConcurrentConsistency(t *testing.T) {
	ts := setupTestStore(t, 50, 0.1)

	if err := ts.VerifyConcurrentConsistency(5, 200*time.Millisecond); err != nil {
		t.Fatalf("consistency violated: %v", err)
	}
}

func TestManyConcurrentReaders(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping high-concurrency test in short mode")
	}

	ts := setupTestStore(t, 500, 0.2)

	stats, err := ts.RunConcurrentReads(50, 20)
	if err != nil {
		t.Fatalf("RunConcurrentReads failed: %v", err)
	}
	if stats.TotalQueries != 1000 {
		t.Errorf("TotalQueries = %d, want 1000", stats.TotalQueries)
	}
	if stats.Errors != 0 {
		t.Errorf("got %d errors under concurrency", stats.Errors)
	}
}

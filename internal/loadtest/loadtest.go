// Package loadtest provides load testing utilities for the local store.
//
// The contract promises that reads never touch the network and render
// straight from the local store, so list latency is the number that
// keeps the UI responsive. These utilities populate a store with a
// realistic record mix (live records plus tombstones) and measure
// concurrent read latency under WAL mode.
package loadtest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/replog/replog/internal/model"
	"github.com/replog/replog/internal/store"
)

// TestStore is a populated store for load testing.
type TestStore struct {
	Store        *store.Store
	UserID       string
	LiveIDs      []string
	TombstoneIDs []string
	TotalRecords int
}

// LatencyStats captures performance metrics from load tests.
type LatencyStats struct {
	Min          time.Duration
	Max          time.Duration
	Mean         time.Duration
	P50          time.Duration
	P95          time.Duration
	P99          time.Duration
	TotalQueries int
	Errors       int
	Durations    []time.Duration
}

// CreateTestStore creates a store at dbPath populated with numRecords
// exercises for a single user. tombstonePct of them are soft-deleted,
// which is the worst case for list queries: tombstones sit in the same
// table and every read has to filter them.
func CreateTestStore(dbPath string, numRecords int, tombstonePct float64) (*TestStore, error) {
	st, err := store.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	ctx := context.Background()
	if err := st.InitSchema(ctx); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	ts := &TestStore{
		Store:        st,
		UserID:       uuid.NewString(),
		LiveIDs:      make([]string, 0, numRecords),
		TotalRecords: numRecords,
	}

	names := []string{"Bench Press", "Squat", "Deadlift", "Overhead Press", "Row", "Pull Up"}
	statuses := []model.SyncStatus{model.SyncSynced, model.SyncSynced, model.SyncSynced, model.SyncPending}
	baseTime := time.Now().UTC().Add(-30 * 24 * time.Hour)
	tombstoneEvery := 0
	if tombstonePct > 0 {
		tombstoneEvery = int(1 / tombstonePct)
	}

	for i := 0; i < numRecords; i++ {
		createdAt := baseTime.Add(time.Duration(i) * time.Minute)
		ex := model.Exercise{
			ID:         fmt.Sprintf("load-%05d", i),
			UserID:     ts.UserID,
			Name:       fmt.Sprintf("%s %d", names[i%len(names)], i),
			CreatedAt:  createdAt,
			UpdatedAt:  createdAt,
			SyncStatus: statuses[i%len(statuses)],
		}
		if tombstoneEvery > 0 && i%tombstoneEvery == 0 {
			ex.Deleted = true
			ex.SyncStatus = model.SyncPending
		}
		if err := st.SaveExercise(ctx, &ex); err != nil {
			_ = st.Close()
			return nil, fmt.Errorf("failed to insert record %s: %w", ex.ID, err)
		}
		if ex.Deleted {
			ts.TombstoneIDs = append(ts.TombstoneIDs, ex.ID)
		} else {
			ts.LiveIDs = append(ts.LiveIDs, ex.ID)
		}
	}

	return ts, nil
}

// Close closes the test store.
func (ts *TestStore) Close() error {
	if ts.Store != nil {
		return ts.Store.Close()
	}
	return nil
}

// RunConcurrentReads simulates N concurrent readers listing the user's
// exercises, queriesPerReader times each, and returns aggregated
// latency statistics.
func (ts *TestStore) RunConcurrentReads(numReaders, queriesPerReader int) (*LatencyStats, error) {
	var wg sync.WaitGroup
	resultsChan := make(chan []time.Duration, numReaders)
	errorsChan := make(chan error, numReaders)

	for i := 0; i < numReaders; i++ {
		wg.Add(1)
		go func(readerID int) {
			defer wg.Done()

			ctx := context.Background()
			durations := make([]time.Duration, 0, queriesPerReader)
			for j := 0; j < queriesPerReader; j++ {
				start := time.Now()
				_, err := ts.Store.ExercisesForUser(ctx, ts.UserID)
				durations = append(durations, time.Since(start))
				if err != nil {
					errorsChan <- fmt.Errorf("reader %d query %d failed: %w", readerID, j, err)
					return
				}
			}
			resultsChan <- durations
		}(i)
	}

	wg.Wait()
	close(resultsChan)
	close(errorsChan)

	errorCount := 0
	for range errorsChan {
		errorCount++
	}

	var allDurations []time.Duration
	for durations := range resultsChan {
		allDurations = append(allDurations, durations...)
	}
	if len(allDurations) == 0 {
		return nil, fmt.Errorf("no successful queries completed")
	}

	stats := computeLatencyStats(allDurations)
	stats.Errors = errorCount
	return stats, nil
}

// VerifyConcurrentConsistency runs readers against a live writer for
// the given duration. Readers check the contract invariants on every
// result: tombstones never surface and every record belongs to the
// queried user. The writer keeps adding and tombstoning records so the
// readers observe the store mid-mutation.
func (ts *TestStore) VerifyConcurrentConsistency(numReaders int, duration time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), duration)
	defer cancel()

	var wg sync.WaitGroup
	errorsChan := make(chan error, numReaders+1)

	wg.Add(1)
	go func() {
		defer wg.Done()
		i := 0
		for ctx.Err() == nil {
			now := time.Now().UTC()
			ex := model.Exercise{
				ID:         uuid.NewString(),
				UserID:     ts.UserID,
				Name:       fmt.Sprintf("Churn %d", i),
				CreatedAt:  now,
				UpdatedAt:  now,
				SyncStatus: model.SyncPending,
			}
			if err := ts.Store.SaveExercise(ctx, &ex); err != nil && ctx.Err() == nil {
				errorsChan <- fmt.Errorf("writer save failed: %w", err)
				return
			}
			if i%3 == 0 {
				if _, err := ts.Store.MarkDeleted(ctx, ts.UserID, ex.ID, time.Now().UTC()); err != nil && ctx.Err() == nil {
					errorsChan <- fmt.Errorf("writer delete failed: %w", err)
					return
				}
			}
			i++
			time.Sleep(time.Millisecond)
		}
	}()

	for i := 0; i < numReaders; i++ {
		wg.Add(1)
		go func(readerID int) {
			defer wg.Done()

			for ctx.Err() == nil {
				records, err := ts.Store.ExercisesForUser(ctx, ts.UserID)
				if err != nil {
					if ctx.Err() == nil {
						errorsChan <- fmt.Errorf("reader %d failed: %w", readerID, err)
					}
					return
				}
				for _, rec := range records {
					if rec.ID == "" {
						errorsChan <- fmt.Errorf("reader %d found record with empty ID", readerID)
						return
					}
					if rec.Deleted {
						errorsChan <- fmt.Errorf("reader %d found tombstone in list: %s", readerID, rec.ID)
						return
					}
					if rec.UserID != ts.UserID {
						errorsChan <- fmt.Errorf("reader %d found foreign record: %s", readerID, rec.ID)
						return
					}
				}
				time.Sleep(time.Millisecond)
			}
		}(i)
	}

	wg.Wait()
	close(errorsChan)

	for err := range errorsChan {
		if err != nil {
			return err
		}
	}
	return nil
}

func computeLatencyStats(durations []time.Duration) *LatencyStats {
	if len(durations) == 0 {
		return &LatencyStats{}
	}

	sorted := make([]time.Duration, len(durations))
	copy(sorted, durations)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i] < sorted[j]
	})

	var sum time.Duration
	for _, d := range durations {
		sum += d
	}

	return &LatencyStats{
		Min:          sorted[0],
		Max:          sorted[len(sorted)-1],
		Mean:         sum / time.Duration(len(durations)),
		P50:          sorted[len(sorted)*50/100],
		P95:          sorted[len(sorted)*95/100],
		P99:          sorted[len(sorted)*99/100],
		TotalQueries: len(durations),
		Durations:    sorted,
	}
}

// PrintStats formats and prints latency statistics.
func (s *LatencyStats) PrintStats() {
	fmt.Printf("Latency Statistics:\n")
	fmt.Printf("  Total Queries: %d\n", s.TotalQueries)
	fmt.Printf("  Errors:        %d\n", s.Errors)
	fmt.Printf("  Min:           %v\n", s.Min)
	fmt.Printf("  P50 (Median):  %v\n", s.P50)
	fmt.Printf("  Mean:          %v\n", s.Mean)
	fmt.Printf("  P95:           %v\n", s.P95)
	fmt.Printf("  P99:           %v\n", s.P99)
	fmt.Printf("  Max:           %v\n", s.Max)
}

package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/replog/replog/internal/model"
	"github.com/replog/replog/internal/observability"
)

// cycle runs one full reconciliation pass: push the account profile,
// drain pending records, then pull the remote set and merge. Cycles are
// serialized on runMu.
func (e *Engine) cycle(ctx context.Context) error {
	e.runMu.Lock()
	defer e.runMu.Unlock()

	acct, syncable, err := e.syncableAccount(ctx)
	if err != nil {
		return err
	}
	if !syncable {
		return nil
	}
	// A passive monitor has no probe to clear an offline observation,
	// so it never skips cycles; the next successful pull clears it.
	if !e.monitor.Online() && !e.monitor.Passive() {
		return nil
	}

	e.setSyncing(true)
	defer e.setSyncing(false)

	started := time.Now()
	defer func() { observability.ObserveCycle(time.Since(started)) }()

	if err := e.pushAccount(ctx, acct); err != nil {
		e.logger.Printf("Profile push failed: %v", err)
	}

	pushed, failed := e.pushPending(ctx, started)

	if err := e.pull(ctx, acct.ID); err != nil {
		e.logger.Printf("Remote pull failed: %v", err)
		e.monitor.SetOnline(false)
		return err
	}

	e.monitor.SetOnline(true)

	now := time.Now()
	e.mu.Lock()
	e.lastSyncAt = now
	e.mu.Unlock()

	if err := e.store.TouchLastSync(ctx, now); err != nil {
		e.logger.Printf("Failed to record sync watermark: %v", err)
	}
	if err := e.store.SetMeta(ctx, metaLastSync, now.UTC().Format(time.RFC3339Nano)); err != nil {
		e.logger.Printf("Failed to persist sync watermark: %v", err)
	}

	if pending, err := e.store.CountPending(ctx); err == nil {
		observability.SetPending(pending)
	}
	observability.RecordSyncSuccess(now)

	if pushed > 0 || failed > 0 {
		e.logger.Printf("Cycle complete: pushed=%d failed=%d", pushed, failed)
	}
	return nil
}

// pushAccount upserts the profile remotely, with its own retry budget.
// Once exhausted the profile is parked until a forced sync.
func (e *Engine) pushAccount(ctx context.Context, acct *model.UserAccount) error {
	e.mu.Lock()
	parked := e.acctParked
	e.mu.Unlock()
	if parked {
		return nil
	}

	err := e.remote.PushAccount(ctx, acct)
	if err == nil {
		e.mu.Lock()
		e.acctAttempts = 0
		e.mu.Unlock()
		return nil
	}

	e.mu.Lock()
	e.acctAttempts++
	if e.acctAttempts >= e.opts.AccountAttempts {
		e.acctParked = true
	}
	attempts := e.acctAttempts
	e.mu.Unlock()

	return fmt.Errorf("attempt %d/%d: %w", attempts, e.opts.AccountAttempts, err)
}

// pushPending drains the pending queue: tombstones propagate as remote
// deletes and are then hard-deleted locally; live records upsert. Each
// record carries its own persisted retry budget; records inside a
// backoff window are skipped this cycle.
func (e *Engine) pushPending(ctx context.Context, now time.Time) (pushed, failed int) {
	records, err := e.store.PendingChanges(ctx)
	if err != nil {
		e.logger.Printf("Failed to list pending changes: %v", err)
		return 0, 0
	}

	for _, rec := range records {
		if !e.eligible(rec.ID, now) {
			continue
		}

		var pushErr error
		if rec.Deleted {
			pushErr = e.remote.DeleteExercise(ctx, rec.UserID, rec.ID)
		} else {
			pushErr = e.remote.PushExercise(ctx, rec)
		}
		observability.RecordPushAttempt(pushErr == nil)

		if pushErr == nil {
			e.clearRetry(rec.ID)
			if rec.Deleted {
				if err := e.store.HardDelete(ctx, rec.ID); err != nil {
					e.logger.Printf("Failed to drop propagated tombstone %s: %v", rec.ID, err)
				}
			} else if err := e.store.SetSyncStatus(ctx, rec.ID, model.SyncSynced, ""); err != nil {
				e.logger.Printf("Failed to mark %s synced: %v", rec.ID, err)
			}
			pushed++
			continue
		}

		failed++
		attempts, err := e.store.IncrementAttempts(ctx, rec.ID)
		if err != nil {
			e.logger.Printf("Failed to bump attempts for %s: %v", rec.ID, err)
			continue
		}

		if attempts >= e.opts.ExerciseAttempts {
			e.clearRetry(rec.ID)
			if err := e.store.SetSyncStatus(ctx, rec.ID, model.SyncError, pushErr.Error()); err != nil {
				e.logger.Printf("Failed to park %s in error state: %v", rec.ID, err)
			}
			e.logger.Printf("Record %s exhausted %d attempts: %v", rec.ID, attempts, pushErr)
		} else {
			e.deferRetry(rec.ID, attempts, now)
			e.logger.Printf("Push failed for %s (attempt %d/%d): %v", rec.ID, attempts, e.opts.ExerciseAttempts, pushErr)
		}
	}
	return pushed, failed
}

// pull fetches the remote's live set and merges each record.
func (e *Engine) pull(ctx context.Context, userID string) error {
	remote, err := e.remote.FetchExercises(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to fetch remote exercises: %w", err)
	}

	for _, rec := range remote {
		if err := e.applyRemote(ctx, rec, false); err != nil {
			e.logger.Printf("Failed to merge remote record %s: %v", rec.ID, err)
		}
	}
	return nil
}

// applyRemote merges one remote record into the local store under
// last-write-wins on updated_at. Local wins ties, so a record the
// device wrote never loses to its own echo. The losing side of a real
// conflict goes to the conflict log.
func (e *Engine) applyRemote(ctx context.Context, remote model.Exercise, deleted bool) error {
	local, found, err := e.store.LookupExercise(ctx, remote.ID)
	if err != nil {
		return err
	}

	if !found {
		if deleted {
			return nil // nothing to delete
		}
		remote.SyncStatus = model.SyncSynced
		remote.Deleted = false
		return e.store.SaveExercise(ctx, &remote)
	}

	// Local wins ties and anything newer.
	if !remote.UpdatedAt.After(local.UpdatedAt) {
		return nil
	}

	// Remote wins. A local side with unconfirmed work is a real
	// conflict; record the discarded write before overwriting.
	if local.SyncStatus != model.SyncSynced || local.Deleted {
		if err := e.store.LogConflict(ctx, *local, remote.UpdatedAt, time.Now()); err != nil {
			e.logger.Printf("Failed to log conflict for %s: %v", local.ID, err)
		}
		observability.RecordConflict()
	}
	e.clearRetry(remote.ID)

	if deleted {
		return e.store.HardDelete(ctx, remote.ID)
	}

	remote.SyncStatus = model.SyncSynced
	remote.Deleted = false
	return e.store.SaveExercise(ctx, &remote)
}

package storage

import (
	"context"
	"log/slog"
	"time"
)

// KeyIndex answers whether a storage key still belongs to a file record.
type KeyIndex interface {
	HasStorageKey(ctx context.Context, key string) (bool, error)
}

// Sweeper periodically removes stored objects that no file record points to.
// Such orphans are left behind when a best-effort delete fails or the process
// dies between writing bytes and inserting the record.
type Sweeper struct {
	index    KeyIndex
	store    *FileSystemStore
	interval time.Duration
	grace    time.Duration
	now      func() time.Time
	done     chan struct{}
}

// MinSweepGrace is the shortest grace period a sweeper accepts. An upload's
// bytes exist before its record is inserted, so a shorter grace could remove
// them in between.
const MinSweepGrace = 5 * time.Minute

// NewSweeper creates a sweeper. Objects younger than grace are never touched,
// which keeps in-flight uploads safe. A grace below MinSweepGrace is raised to it.
func NewSweeper(index KeyIndex, store *FileSystemStore, interval, grace time.Duration) *Sweeper {
	if grace < MinSweepGrace {
		grace = MinSweepGrace
	}
	return &Sweeper{
		index:    index,
		store:    store,
		interval: interval,
		grace:    grace,
		now:      time.Now,
		done:     make(chan struct{}),
	}
}

// Start begins the sweep loop in a background goroutine.
func (sw *Sweeper) Start(ctx context.Context) {
	slog.Info("orphan sweeper started", "interval", sw.interval, "grace", sw.grace)

	go func() {
		ticker := time.NewTicker(sw.interval)
		defer ticker.Stop()

		sw.Sweep(ctx)

		for {
			select {
			case <-ticker.C:
				sw.Sweep(ctx)
			case <-ctx.Done():
				slog.Info("orphan sweeper stopping")
				close(sw.done)
				return
			}
		}
	}()
}

// Wait blocks until the sweeper has fully stopped.
func (sw *Sweeper) Wait() {
	<-sw.done
}

// Sweep runs a single reconciliation pass and returns how many objects were removed.
func (sw *Sweeper) Sweep(ctx context.Context) int {
	objects, err := sw.store.List()
	if err != nil {
		slog.Error("failed to list stored objects", "error", err)
		return 0
	}

	cutoff := sw.now().Add(-sw.grace)
	var removed, failed int
	for _, obj := range objects {
		if ctx.Err() != nil {
			break
		}
		if obj.ModTime.After(cutoff) {
			continue
		}

		known, err := sw.index.HasStorageKey(ctx, obj.StorageKey)
		if err != nil {
			slog.Error("failed to look up storage key", "storage_key", obj.StorageKey, "error", err)
			failed++
			continue
		}
		if known {
			continue
		}

		if err := sw.store.Remove(obj.Path); err != nil {
			slog.Error("failed to remove orphaned object", "storage_key", obj.StorageKey, "error", err)
			failed++
			continue
		}
		removed++
		slog.Info("removed orphaned object", "storage_key", obj.StorageKey, "size", obj.Size)
	}

	if removed > 0 || failed > 0 {
		slog.Info("sweep complete", "removed", removed, "failed", failed, "scanned", len(objects))
	}
	return removed
}

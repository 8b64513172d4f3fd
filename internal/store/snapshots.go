package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/localnerve/jam-build-sub001/internal/document"
)

// Snapshot is a pre-mutation copy of a collection's properties, the
// common ancestor ("base") for three-way merge. Unique per
// (storeType, document, collection, op); reference-counted while
// unconfirmed mutations depend on it.
type Snapshot struct {
	ID         int64
	Key        document.CollectionKey
	Op         document.Op
	RefCount   int
	CreatedAt  time.Time
	Properties document.Properties
}

// GetSnapshot returns the snapshot for an exact (collection, op) key.
// The second return is false when none exists.
func (s *Store) GetSnapshot(ctx context.Context, key document.CollectionKey, op document.Op) (Snapshot, bool, error) {
	var (
		snap Snapshot
		ms   int64
		raw  string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, ref_count, created_ms, properties FROM snapshots
		WHERE store_type = ? AND document = ? AND collection = ? AND op = ?
	`, key.StoreType, key.Document, key.Collection, op).
		Scan(&snap.ID, &snap.RefCount, &ms, &raw)
	if errors.Is(err, sql.ErrNoRows) {
		return Snapshot{}, false, nil
	}
	if err != nil {
		return Snapshot{}, false, fmt.Errorf("get snapshot %s/%s: %w", key, op, err)
	}

	snap.Key = key
	snap.Op = op
	snap.CreatedAt = time.UnixMilli(ms)
	if err := json.Unmarshal([]byte(raw), &snap.Properties); err != nil {
		return Snapshot{}, false, fmt.Errorf("get snapshot %s/%s: decode: %w", key, op, err)
	}
	return snap, true, nil
}

// CreateSnapshot writes a fresh snapshot with ref_count 1, replacing
// any existing row for the same key. Callers decide between create,
// increment, and replace inside the critical section.
func (s *Store) CreateSnapshot(ctx context.Context, key document.CollectionKey, op document.Op, props document.Properties) error {
	raw, err := json.Marshal(props)
	if err != nil {
		return fmt.Errorf("create snapshot %s/%s: encode: %w", key, op, err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO snapshots (store_type, document, collection, op, ref_count, created_ms, properties)
		VALUES (?, ?, ?, ?, 1, ?, ?)
		ON CONFLICT(store_type, document, collection, op)
		DO UPDATE SET ref_count = 1, created_ms = excluded.created_ms, properties = excluded.properties
	`, key.StoreType, key.Document, key.Collection, op, s.now().UnixMilli(), string(raw))
	if err != nil {
		return fmt.Errorf("create snapshot %s/%s: %w", key, op, err)
	}
	return nil
}

// IncrementSnapshotRef adds one dependent mutation to an existing
// snapshot.
func (s *Store) IncrementSnapshotRef(ctx context.Context, key document.CollectionKey, op document.Op) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE snapshots SET ref_count = ref_count + 1
		WHERE store_type = ? AND document = ? AND collection = ? AND op = ?
	`, key.StoreType, key.Document, key.Collection, op)
	if err != nil {
		return fmt.Errorf("increment snapshot %s/%s: %w", key, op, err)
	}
	return nil
}

// ReleaseSnapshot decrements the reference count and deletes the row
// once no unconfirmed mutation depends on it.
func (s *Store) ReleaseSnapshot(ctx context.Context, key document.CollectionKey, op document.Op) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE snapshots SET ref_count = ref_count - 1
		WHERE store_type = ? AND document = ? AND collection = ? AND op = ?
	`, key.StoreType, key.Document, key.Collection, op)
	if err != nil {
		return fmt.Errorf("release snapshot %s/%s: %w", key, op, err)
	}

	_, err = s.db.ExecContext(ctx, `
		DELETE FROM snapshots
		WHERE store_type = ? AND document = ? AND collection = ? AND op = ? AND ref_count <= 0
	`, key.StoreType, key.Document, key.Collection, op)
	if err != nil {
		return fmt.Errorf("release snapshot %s/%s: delete: %w", key, op, err)
	}
	return nil
}

// ClearSnapshots removes every snapshot for a (document, op) pair.
// Called on a confirmed sync: the base is no longer an ancestor.
func (s *Store) ClearSnapshots(ctx context.Context, key document.Key, op document.Op) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM snapshots WHERE store_type = ? AND document = ? AND op = ?
	`, key.StoreType, key.Document, op)
	if err != nil {
		return fmt.Errorf("clear snapshots %s/%s: %w", key, op, err)
	}
	return nil
}

// EvictStaleSnapshots deletes snapshots older than the staleness
// lifetime, regardless of reference count. Returns the number evicted.
func (s *Store) EvictStaleSnapshots(ctx context.Context, lifetime time.Duration) (int64, error) {
	cutoff := s.now().Add(-lifetime).UnixMilli()
	res, err := s.db.ExecContext(ctx, `DELETE FROM snapshots WHERE created_ms < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("evict stale snapshots: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("evict stale snapshots: rows affected: %w", err)
	}
	return n, nil
}

// IsSnapshotStale reports whether a snapshot has exceeded the staleness
// lifetime.
func (s *Store) IsSnapshotStale(snap Snapshot, lifetime time.Duration) bool {
	return s.now().Sub(snap.CreatedAt) > lifetime
}

// SetNowFunc overrides the store's clock. Test hook.
func (s *Store) SetNowFunc(now func() time.Time) {
	s.now = now
}

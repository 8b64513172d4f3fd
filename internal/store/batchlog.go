package store

import (
	"context"
	"fmt"

	"github.com/localnerve/jam-build-sub001/internal/document"
)

// Intent is one row of the batch-intent log: a local mutation awaiting
// reduction and replay. Collection and Property may be empty for
// coarser-granularity deletes; puts are always collection-granular.
type Intent struct {
	ID         int64
	StoreType  document.StoreType
	Document   string
	Collection string
	Property   string
	Op         document.Op
}

// FullKey is the composite key used for adjacent-duplicate suppression
// during reduction.
func (i Intent) FullKey() string {
	return string(i.StoreType) + ":" + i.Document + ":" + i.Collection + ":" + i.Property
}

// AppendIntent appends a mutation intent to the log and returns its id.
// Insertion order is arrival order.
func (s *Store) AppendIntent(ctx context.Context, in Intent) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO batch_log (store_type, document, collection, property, op)
		VALUES (?, ?, ?, ?, ?)
	`, in.StoreType, in.Document, in.Collection, in.Property, in.Op)
	if err != nil {
		return 0, fmt.Errorf("append intent: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("append intent: last insert id: %w", err)
	}
	return id, nil
}

// Intents returns the full log in arrival order (id ascending).
func (s *Store) Intents(ctx context.Context) ([]Intent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, store_type, document, collection, property, op
		FROM batch_log ORDER BY id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("read intents: %w", err)
	}
	defer rows.Close()

	var out []Intent
	for rows.Next() {
		var in Intent
		if err := rows.Scan(&in.ID, &in.StoreType, &in.Document, &in.Collection, &in.Property, &in.Op); err != nil {
			return nil, fmt.Errorf("read intents: scan: %w", err)
		}
		out = append(out, in)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read intents: %w", err)
	}
	return out, nil
}

// IntentCount returns the number of pending intents.
func (s *Store) IntentCount(ctx context.Context) (int, error) {
	n, err := s.count(ctx, "SELECT COUNT(*) FROM batch_log")
	if err != nil {
		return 0, fmt.Errorf("intent count: %w", err)
	}
	return n, nil
}

// PendingForDocument reports whether any unsynced intents exist for a
// document. Drives the may-update gate.
func (s *Store) PendingForDocument(ctx context.Context, key document.Key) (bool, error) {
	n, err := s.count(ctx, `
		SELECT COUNT(*) FROM batch_log WHERE store_type = ? AND document = ?
	`, key.StoreType, key.Document)
	if err != nil {
		return false, fmt.Errorf("pending for %s: %w", key, err)
	}
	return n > 0, nil
}

// HasIntent reports whether an intent row exists for the exact
// (storeType, document, collection, op) key. The conflict resolver uses
// this to avoid re-deriving duplicate replays.
func (s *Store) HasIntent(ctx context.Context, storeType document.StoreType, doc, collection string, op document.Op) (bool, error) {
	n, err := s.count(ctx, `
		SELECT COUNT(*) FROM batch_log
		WHERE store_type = ? AND document = ? AND collection = ? AND op = ?
	`, storeType, doc, collection, op)
	if err != nil {
		return false, fmt.Errorf("has intent: %w", err)
	}
	return n > 0, nil
}

// DeleteIntentsForCall removes the intent rows folded into one executed
// (or definitively failed) network call: every row matching the
// (storeType, document, op) pair up to the highest id seen by the pass.
// Rows appended after the pass started survive for the next pass.
func (s *Store) DeleteIntentsForCall(ctx context.Context, storeType document.StoreType, doc string, op document.Op, maxID int64) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM batch_log
		WHERE store_type = ? AND document = ? AND op = ? AND id <= ?
	`, storeType, doc, op, maxID)
	if err != nil {
		return fmt.Errorf("delete intents %s/%s/%s: %w", storeType, doc, op, err)
	}
	return nil
}

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/localnerve/jam-build-sub001/internal/document"
)

// ReadCollection returns the property map of one collection.
// The second return is false when the collection does not exist.
func (s *Store) ReadCollection(ctx context.Context, key document.CollectionKey) (document.Properties, bool, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `
		SELECT properties FROM documents
		WHERE store_type = ? AND document = ? AND collection = ?
	`, key.StoreType, key.Document, key.Collection).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read collection %s: %w", key, err)
	}

	var props document.Properties
	if err := json.Unmarshal([]byte(raw), &props); err != nil {
		return nil, false, fmt.Errorf("read collection %s: decode: %w", key, err)
	}
	return props, true, nil
}

// ReadDocument returns all collections of a document.
// A missing document yields an empty map, not an error.
func (s *Store) ReadDocument(ctx context.Context, key document.Key) (document.Collections, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT collection, properties FROM documents
		WHERE store_type = ? AND document = ?
		ORDER BY collection
	`, key.StoreType, key.Document)
	if err != nil {
		return nil, fmt.Errorf("read document %s: %w", key, err)
	}
	defer rows.Close()

	out := make(document.Collections)
	for rows.Next() {
		var name, raw string
		if err := rows.Scan(&name, &raw); err != nil {
			return nil, fmt.Errorf("read document %s: scan: %w", key, err)
		}
		var props document.Properties
		if err := json.Unmarshal([]byte(raw), &props); err != nil {
			return nil, fmt.Errorf("read document %s: decode %s: %w", key, name, err)
		}
		out[name] = props
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read document %s: %w", key, err)
	}
	return out, nil
}

// PutCollection replaces the property map of a collection, creating the
// row if needed. Atomic single-record upsert.
func (s *Store) PutCollection(ctx context.Context, key document.CollectionKey, props document.Properties) error {
	raw, err := json.Marshal(props)
	if err != nil {
		return fmt.Errorf("put collection %s: encode: %w", key, err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO documents (store_type, document, collection, properties)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(store_type, document, collection)
		DO UPDATE SET properties = excluded.properties
	`, key.StoreType, key.Document, key.Collection, string(raw))
	if err != nil {
		return fmt.Errorf("put collection %s: %w", key, err)
	}
	return nil
}

// MergeCollection upserts individual properties into a collection,
// leaving properties not named in props untouched.
func (s *Store) MergeCollection(ctx context.Context, key document.CollectionKey, props document.Properties) error {
	current, _, err := s.ReadCollection(ctx, key)
	if err != nil {
		return err
	}
	if current == nil {
		current = make(document.Properties, len(props))
	}
	for k, v := range props {
		current[k] = v
	}
	return s.PutCollection(ctx, key, current)
}

// DeleteProperties removes named properties from a collection. The
// collection row survives even when it ends up empty; a confirmed
// remote delete removes it via DeleteCollection.
func (s *Store) DeleteProperties(ctx context.Context, key document.CollectionKey, names []string) error {
	current, ok, err := s.ReadCollection(ctx, key)
	if err != nil || !ok {
		return err
	}
	for _, n := range names {
		delete(current, n)
	}
	return s.PutCollection(ctx, key, current)
}

// DeleteCollection removes one collection row.
func (s *Store) DeleteCollection(ctx context.Context, key document.CollectionKey) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM documents
		WHERE store_type = ? AND document = ? AND collection = ?
	`, key.StoreType, key.Document, key.Collection)
	if err != nil {
		return fmt.Errorf("delete collection %s: %w", key, err)
	}
	return nil
}

// DeleteDocument removes every collection of a document.
func (s *Store) DeleteDocument(ctx context.Context, key document.Key) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM documents WHERE store_type = ? AND document = ?
	`, key.StoreType, key.Document)
	if err != nil {
		return fmt.Errorf("delete document %s: %w", key, err)
	}
	return nil
}

// ClearScope removes all rows of a store type across every table. Used
// on logout to drop user-scope state.
func (s *Store) ClearScope(ctx context.Context, storeType document.StoreType) error {
	for _, table := range []string{"documents", "versions", "batch_log", "snapshots", "conflicts"} {
		if _, err := s.db.ExecContext(ctx,
			fmt.Sprintf("DELETE FROM %s WHERE store_type = ?", table), storeType); err != nil {
			return fmt.Errorf("clear scope %s: %s: %w", storeType, table, err)
		}
	}
	return nil
}

package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/localnerve/jam-build-sub001/internal/document"
)

// Conflict is one row of the conflict ledger: the authoritative remote
// state of a collection captured when a mutation was rejected on
// version, plus the original request shape needed to re-derive batch
// intents after the merge.
type Conflict struct {
	Key         document.CollectionKey
	Properties  document.Properties
	NewVersion  int64
	Op          document.Op
	Collections []document.CollectionRef
}

// PutConflict upserts a conflict record. A later capture for the same
// collection overwrites the earlier one; the resolver only acts on the
// highest version anyway.
func (s *Store) PutConflict(ctx context.Context, c Conflict) error {
	props, err := json.Marshal(c.Properties)
	if err != nil {
		return fmt.Errorf("put conflict %s: encode properties: %w", c.Key, err)
	}
	refs, err := json.Marshal(c.Collections)
	if err != nil {
		return fmt.Errorf("put conflict %s: encode collections: %w", c.Key, err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO conflicts (store_type, document, collection, properties, new_version, op, collections)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(store_type, document, collection)
		DO UPDATE SET properties = excluded.properties,
		              new_version = excluded.new_version,
		              op = excluded.op,
		              collections = excluded.collections
	`, c.Key.StoreType, c.Key.Document, c.Key.Collection,
		string(props), document.FormatVersion(c.NewVersion), c.Op, string(refs))
	if err != nil {
		return fmt.Errorf("put conflict %s: %w", c.Key, err)
	}
	return nil
}

// ConflictsByVersionDesc returns the whole ledger ordered by reported
// version descending, then store type and document, matching the
// resolver's highest-version-first fold.
func (s *Store) ConflictsByVersionDesc(ctx context.Context) ([]Conflict, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT store_type, document, collection, properties, new_version, op, collections
		FROM conflicts
		ORDER BY new_version DESC, store_type, document, op
	`)
	if err != nil {
		return nil, fmt.Errorf("read conflicts: %w", err)
	}
	defer rows.Close()

	var out []Conflict
	for rows.Next() {
		var (
			c          Conflict
			props      string
			rawVersion string
			refs       string
		)
		if err := rows.Scan(&c.Key.StoreType, &c.Key.Document, &c.Key.Collection,
			&props, &rawVersion, &c.Op, &refs); err != nil {
			return nil, fmt.Errorf("read conflicts: scan: %w", err)
		}
		if err := json.Unmarshal([]byte(props), &c.Properties); err != nil {
			return nil, fmt.Errorf("read conflicts: decode properties: %w", err)
		}
		if err := json.Unmarshal([]byte(refs), &c.Collections); err != nil {
			return nil, fmt.Errorf("read conflicts: decode collections: %w", err)
		}
		if c.NewVersion, err = document.ParseVersion(rawVersion); err != nil {
			return nil, fmt.Errorf("read conflicts: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read conflicts: %w", err)
	}
	return out, nil
}

// DeleteConflict removes one conflict record after it has been folded
// into a merge.
func (s *Store) DeleteConflict(ctx context.Context, key document.CollectionKey) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM conflicts
		WHERE store_type = ? AND document = ? AND collection = ?
	`, key.StoreType, key.Document, key.Collection)
	if err != nil {
		return fmt.Errorf("delete conflict %s: %w", key, err)
	}
	return nil
}

// ConflictCount returns the number of unresolved conflict records.
func (s *Store) ConflictCount(ctx context.Context) (int, error) {
	n, err := s.count(ctx, "SELECT COUNT(*) FROM conflicts")
	if err != nil {
		return 0, fmt.Errorf("conflict count: %w", err)
	}
	return n, nil
}

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/localnerve/jam-build-sub001/internal/document"
)

// Version returns the document's version counter, creating the ledger
// row lazily at version 0 on first read.
func (s *Store) Version(ctx context.Context, key document.Key) (int64, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `
		SELECT version FROM versions WHERE store_type = ? AND document = ?
	`, key.StoreType, key.Document).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		_, err = s.db.ExecContext(ctx, `
			INSERT INTO versions (store_type, document, version)
			VALUES (?, ?, ?)
			ON CONFLICT(store_type, document) DO NOTHING
		`, key.StoreType, key.Document, document.VersionZero)
		if err != nil {
			return 0, fmt.Errorf("version %s: lazy create: %w", key, err)
		}
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("version %s: %w", key, err)
	}

	v, err := document.ParseVersion(raw)
	if err != nil {
		return 0, fmt.Errorf("version %s: %w", key, err)
	}
	return v, nil
}

// SetVersion records a confirmed version for a document. The ledger is
// monotonically non-decreasing: a lower value than the stored one is
// ignored. Zero-padded encoding makes MAX() correct on the TEXT column.
func (s *Store) SetVersion(ctx context.Context, key document.Key, version int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO versions (store_type, document, version)
		VALUES (?, ?, ?)
		ON CONFLICT(store_type, document)
		DO UPDATE SET version = MAX(version, excluded.version)
	`, key.StoreType, key.Document, document.FormatVersion(version))
	if err != nil {
		return fmt.Errorf("set version %s=%d: %w", key, version, err)
	}
	return nil
}

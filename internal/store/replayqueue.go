package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/localnerve/jam-build-sub001/internal/document"
)

// QueuedRequest is a durable copy of a network request that could not
// be sent. Metadata carries enough of the original call to classify and
// finish it on replay.
type QueuedRequest struct {
	ID        int64
	RequestID string
	Method    string
	URL       string
	Body      []byte
	Meta      RequestMeta
}

// RequestMeta describes the engine-level shape of a queued request.
type RequestMeta struct {
	StoreType   document.StoreType       `json:"storeType"`
	Document    string                   `json:"document"`
	Op          document.Op              `json:"op"`
	Collections []document.CollectionRef `json:"collections,omitempty"`
	ReadOnly    bool                     `json:"readOnly,omitempty"`
}

// ReadKey is the composite key used to deduplicate replayed reads.
func (m RequestMeta) ReadKey() string {
	return string(m.Op) + ":" + string(m.StoreType) + ":" + m.Document + ":" + document.JoinRefs(m.Collections)
}

// PushReplay appends a request to the back of the replay queue.
func (s *Store) PushReplay(ctx context.Context, qr QueuedRequest) error {
	return s.pushReplay(ctx, qr, false)
}

// PushReplayFront re-inserts a request at the head of the replay queue,
// preserving arrival order for the requests behind it.
func (s *Store) PushReplayFront(ctx context.Context, qr QueuedRequest) error {
	return s.pushReplay(ctx, qr, true)
}

func (s *Store) pushReplay(ctx context.Context, qr QueuedRequest, front bool) error {
	meta, err := json.Marshal(qr.Meta)
	if err != nil {
		return fmt.Errorf("push replay: encode metadata: %w", err)
	}

	// Front pushes take min(position)-1, back pushes max(position)+1.
	posExpr := "COALESCE(MAX(position), 0) + 1"
	if front {
		posExpr = "COALESCE(MIN(position), 0) - 1"
	}

	_, err = s.db.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO replay_queue (position, request_id, method, url, body, metadata)
		SELECT %s, ?, ?, ?, ?, ? FROM replay_queue
	`, posExpr), qr.RequestID, qr.Method, qr.URL, string(qr.Body), string(meta))
	if err != nil {
		return fmt.Errorf("push replay: %w", err)
	}
	return nil
}

// PopReplay removes and returns the front of the replay queue.
// The second return is false when the queue is empty.
func (s *Store) PopReplay(ctx context.Context) (QueuedRequest, bool, error) {
	var (
		qr   QueuedRequest
		body sql.NullString
		meta string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, request_id, method, url, body, metadata
		FROM replay_queue ORDER BY position ASC, id ASC LIMIT 1
	`).Scan(&qr.ID, &qr.RequestID, &qr.Method, &qr.URL, &body, &meta)
	if errors.Is(err, sql.ErrNoRows) {
		return QueuedRequest{}, false, nil
	}
	if err != nil {
		return QueuedRequest{}, false, fmt.Errorf("pop replay: %w", err)
	}

	if body.Valid {
		qr.Body = []byte(body.String)
	}
	if err := json.Unmarshal([]byte(meta), &qr.Meta); err != nil {
		return QueuedRequest{}, false, fmt.Errorf("pop replay: decode metadata: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, `DELETE FROM replay_queue WHERE id = ?`, qr.ID); err != nil {
		return QueuedRequest{}, false, fmt.Errorf("pop replay: delete: %w", err)
	}
	return qr, true, nil
}

// ReplayDepth returns the number of queued requests.
func (s *Store) ReplayDepth(ctx context.Context) (int, error) {
	n, err := s.count(ctx, "SELECT COUNT(*) FROM replay_queue")
	if err != nil {
		return 0, fmt.Errorf("replay depth: %w", err)
	}
	return n, nil
}

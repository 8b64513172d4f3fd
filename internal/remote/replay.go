package remote

import (
	"context"
	"fmt"
	"net/http"

	"github.com/localnerve/jam-build-sub001/internal/document"
	"github.com/localnerve/jam-build-sub001/internal/store"
)

// Replay drains the durable request queue after connectivity returns.
//
// Mutations replay strictly in FIFO order; reads are deferred so they
// observe the final post-mutation state. A mutation that fails again is
// re-inserted at the queue head with the deferred reads behind it, and
// the drain halts until the next connectivity signal (or surfaces the
// error on platforms with native retry). After the mutations are
// exhausted a conflict-resolver pass and a batch-collector pass run,
// then the deferred reads replay once each, deduplicated by shape.
func (a *Adapter) Replay(ctx context.Context) error {
	var reads []store.QueuedRequest

	for {
		qr, ok, err := a.st.PopReplay(ctx)
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		if qr.Meta.ReadOnly {
			reads = append(reads, qr)
			continue
		}

		resp, conflicted, err := a.sendQueued(ctx, qr)
		if err != nil {
			if ferr := a.st.PushReplayFront(ctx, qr); ferr != nil {
				return fmt.Errorf("replay: requeue %s: %w", qr.RequestID, ferr)
			}
			if rerr := a.requeueReads(ctx, reads); rerr != nil {
				return rerr
			}
			if a.nativeRetry {
				return fmt.Errorf("replay %s %s: %w", qr.Method, qr.URL, err)
			}
			a.log.Warn("replay halted, mutation still failing",
				"method", qr.Method, "url", qr.URL, "error", err)
			return nil
		}
		if conflicted {
			// Captured into the ledger; the resolver pass below folds
			// it in. The request itself is consumed.
			continue
		}

		key := document.Key{StoreType: qr.Meta.StoreType, Document: qr.Meta.Document}
		if data, ok := resp[qr.Meta.Document]; ok && data.Version > 0 {
			if err := a.st.SetVersion(ctx, key, data.Version); err != nil {
				return err
			}
		}
		if err := a.st.ClearSnapshots(ctx, key, qr.Meta.Op); err != nil {
			return err
		}
		a.log.Info("replayed mutation",
			"method", qr.Method, "key", key.String(), "requestId", qr.RequestID)
	}

	if a.Resolve != nil {
		if err := a.Resolve(ctx); err != nil {
			a.log.Error("replay: conflict resolution failed", "error", err)
		}
	}
	if a.Reduce != nil {
		if err := a.Reduce(ctx); err != nil {
			a.log.Error("replay: batch reduction failed", "error", err)
		}
	}

	seen := make(map[string]bool, len(reads))
	for i, qr := range reads {
		rk := qr.Meta.ReadKey()
		if seen[rk] {
			continue
		}
		seen[rk] = true

		resp, _, err := a.sendQueued(ctx, qr)
		if err != nil {
			if rerr := a.requeueReads(ctx, reads[i:]); rerr != nil {
				return rerr
			}
			if a.nativeRetry {
				return fmt.Errorf("replay read %s: %w", qr.URL, err)
			}
			a.log.Warn("replay halted, read still failing", "url", qr.URL, "error", err)
			return nil
		}

		key := document.Key{StoreType: qr.Meta.StoreType, Document: qr.Meta.Document}
		if data, ok := resp[qr.Meta.Document]; ok {
			if err := a.applyDocument(ctx, key, data); err != nil {
				return err
			}
		}
	}
	return nil
}

// sendQueued replays one stored request verbatim. The bool return marks
// a version conflict that has been captured into the ledger.
func (a *Adapter) sendQueued(ctx context.Context, qr store.QueuedRequest) (Response, bool, error) {
	status, raw, err := a.do(ctx, qr.Method, qr.URL, qr.Body, qr.RequestID)
	if err != nil {
		return nil, false, err
	}

	if status >= 200 && status < 300 {
		if len(raw) == 0 {
			return nil, false, nil
		}
		resp, perr := ParseResponse(raw)
		if perr != nil {
			return nil, false, perr
		}
		return resp, false, nil
	}

	if qr.Method != http.MethodGet && isVersionConflict(raw) {
		key := document.Key{StoreType: qr.Meta.StoreType, Document: qr.Meta.Document}
		if cerr := a.CaptureConflict(ctx, key, qr.Meta.Op, qr.Meta.Collections); cerr != nil {
			return nil, false, fmt.Errorf("capture conflict: %w", cerr)
		}
		return nil, true, nil
	}
	return nil, false, &Error{Code: CodeHTTP, Status: status}
}

// requeueReads pushes deferred reads back onto the queue in their
// original order.
func (a *Adapter) requeueReads(ctx context.Context, reads []store.QueuedRequest) error {
	for _, r := range reads {
		if err := a.st.PushReplay(ctx, r); err != nil {
			return fmt.Errorf("replay: requeue read %s: %w", r.RequestID, err)
		}
	}
	return nil
}

package batch

import (
	"context"
	"net/http"
	"slices"

	"github.com/localnerve/jam-build-sub001/internal/document"
	"github.com/localnerve/jam-build-sub001/internal/remote"
	"github.com/localnerve/jam-build-sub001/internal/store"
)

// entryKey identifies one output call: all surviving intents for a
// (scope, document, op) triple fold into a single network call.
type entryKey struct {
	storeType document.StoreType
	document  string
	op        document.Op
}

// callEntry is one reduced network call under construction.
type callEntry struct {
	entryKey

	wholeDoc    bool                // document-level delete
	collections []string            // first-seen order, newest first
	wholeCols   map[string]bool     // collection-level deletes
	props       map[string][]string // property-level deletes

	// maxID is the highest intent id folded in; intent rows up to it
	// are consumed once the call executes.
	maxID int64

	// suppressedMaxID tracks opposite-op intents discarded in this
	// entry's favor (delete-shadowed puts, adjacent duplicates), so
	// their rows are consumed with the call too.
	suppressedMaxID int64
}

func newCallEntry(k entryKey, id int64) *callEntry {
	return &callEntry{
		entryKey:  k,
		wholeCols: make(map[string]bool),
		props:     make(map[string][]string),
		maxID:     id,
	}
}

// noteSuppressed accounts an intent discarded in this entry's favor.
// Rows of the entry's own op sit below maxID and are consumed with it;
// opposite-op rows need separate tracking or they would survive the
// pass and replay a mutation the user already superseded.
func (e *callEntry) noteSuppressed(in store.Intent) {
	if in.Op == e.op {
		return
	}
	if in.ID > e.suppressedMaxID {
		e.suppressedMaxID = in.ID
	}
}

// shadows reports whether this delete entry covers the intent at an
// equal or coarser granularity. Only deletes shadow.
func (e *callEntry) shadows(in store.Intent) bool {
	if e.op != document.OpDelete {
		return false
	}
	if e.wholeDoc {
		return true
	}
	if in.Collection == "" {
		return false
	}
	if e.wholeCols[in.Collection] {
		return true
	}
	return in.Property != "" && slices.Contains(e.props[in.Collection], in.Property)
}

// absorb folds one intent into the entry. A whole-collection delete
// takes precedence over property-level deletes already merged for the
// same collection.
func (e *callEntry) absorb(in store.Intent) {
	if in.Collection == "" {
		if in.Op == document.OpDelete {
			e.wholeDoc = true
		}
		return
	}
	if !slices.Contains(e.collections, in.Collection) {
		e.collections = append(e.collections, in.Collection)
	}
	if in.Op != document.OpDelete {
		return
	}
	if in.Property == "" {
		e.wholeCols[in.Collection] = true
		delete(e.props, in.Collection)
		return
	}
	if e.wholeCols[in.Collection] {
		return
	}
	if !slices.Contains(e.props[in.Collection], in.Property) {
		e.props[in.Collection] = append(e.props[in.Collection], in.Property)
	}
}

// ProcessBatchUpdates reduces the batch-intent log and replays the
// result as network calls, one per surviving (document, op) pair.
//
// The log is scanned most-recent-first: adjacent duplicates at full-key
// granularity collapse, later deletes shadow earlier intents at equal
// or coarser granularity, and same-op intents for a document merge into
// one call. Calls then execute oldest-surviving-first. Intents are
// consumed after their call regardless of outcome; failed documents
// accumulate into a reconciliation list and finish with a terminal
// refresh-from-remote. A version-conflict stops the pass: the nested
// resolution drives reprocessing.
func (c *Collector) ProcessBatchUpdates(ctx context.Context) error {
	intents, err := c.st.Intents(ctx)
	if err != nil {
		return err
	}
	if len(intents) == 0 {
		return nil
	}

	entries := make(map[entryKey]*callEntry)
	var order []entryKey
	prevKey := ""
	var prevEntry *callEntry

	for i := len(intents) - 1; i >= 0; i-- {
		in := intents[i]

		fk := in.FullKey()
		if fk == prevKey {
			// Adjacent duplicate: the newer intent at this key owns
			// the run, whatever the op, but this row still has to be
			// consumed with that entry's call.
			if prevEntry != nil {
				prevEntry.noteSuppressed(in)
			}
			continue
		}
		prevKey = fk

		if de, ok := entries[entryKey{in.StoreType, in.Document, document.OpDelete}]; ok && de.shadows(in) {
			de.noteSuppressed(in)
			prevEntry = de
			continue
		}

		k := entryKey{in.StoreType, in.Document, in.Op}
		e, ok := entries[k]
		if !ok {
			e = newCallEntry(k, in.ID)
			entries[k] = e
			// Prepend: after the reverse scan the list reads
			// oldest-surviving-intent-first.
			order = append([]entryKey{k}, order...)
		}
		e.absorb(in)
		prevEntry = e
	}

	recon := make(map[document.Key][]string)
	var reconOrder []document.Key

	for _, k := range order {
		e := entries[k]
		key := document.Key{StoreType: e.storeType, Document: e.document}

		callErr := c.send(ctx, e, key)

		// Consume the folded intent rows whatever the outcome; rows
		// appended after this pass started survive for the next one.
		if err := c.st.DeleteIntentsForCall(ctx, e.storeType, e.document, e.op, e.maxID); err != nil {
			return err
		}
		if e.suppressedMaxID > 0 {
			other := document.OpDelete
			if e.op == document.OpDelete {
				other = document.OpPut
			}
			if err := c.st.DeleteIntentsForCall(ctx, e.storeType, e.document, other, e.suppressedMaxID); err != nil {
				return err
			}
		}

		if callErr == nil {
			continue
		}
		if remote.IsConflict(callErr) {
			c.log.Info("batch replay stopped on version conflict", "key", key.String())
			break
		}
		if remote.IsReplay(callErr) {
			// Durably queued; the replay drain owns it from here.
			c.log.Info("batch call queued for replay", "key", key.String(), "op", e.op)
			continue
		}

		c.log.Warn("batch call failed, scheduling reconciliation",
			"key", key.String(), "op", e.op, "error", callErr)
		if _, seen := recon[key]; !seen {
			reconOrder = append(reconOrder, key)
		}
		for _, col := range e.collections {
			if !slices.Contains(recon[key], col) {
				recon[key] = append(recon[key], col)
			}
		}
	}

	// Terminal recovery: discard local intent for unreconcilable
	// documents and take the remote state. Deliberate data loss, logged.
	for _, key := range reconOrder {
		if err := c.caller.RefreshDocument(ctx, key); err != nil {
			c.log.Error("terminal refresh-from-remote failed",
				"key", key.String(), "error", err)
			continue
		}
		c.log.Warn("local changes discarded, document refreshed from remote",
			"key", key.String(), "collections", recon[key])
	}
	return nil
}

// send renders one reduced entry to a network call. Success advances
// the version ledger and clears the snapshots the call confirmed.
func (c *Collector) send(ctx context.Context, e *callEntry, key document.Key) error {
	version, err := c.st.Version(ctx, key)
	if err != nil {
		return err
	}

	req := remote.Request{
		StoreType: e.storeType,
		Document:  e.document,
		Version:   version,
	}
	switch e.op {
	case document.OpPut:
		req.Method = http.MethodPost
		payload := make(document.Collections, len(e.collections))
		for _, col := range e.collections {
			req.Collections = append(req.Collections, document.CollectionRef{Collection: col})
			props, _, err := c.st.ReadCollection(ctx, document.CollectionKey{Key: key, Collection: col})
			if err != nil {
				return err
			}
			if props == nil {
				props = document.Properties{}
			}
			payload[col] = props
		}
		req.Payload = payload

	case document.OpDelete:
		req.Method = http.MethodDelete
		if !e.wholeDoc {
			for _, col := range e.collections {
				ref := document.CollectionRef{Collection: col}
				if !e.wholeCols[col] {
					ref.Properties = e.props[col]
				}
				req.Collections = append(req.Collections, ref)
			}
		}
	}

	return c.caller.Call(ctx, req, remote.CallOptions{
		OnSuccess: func(ctx context.Context, resp remote.Response) error {
			if data, ok := resp[e.document]; ok && data.Version > 0 {
				if err := c.st.SetVersion(ctx, key, data.Version); err != nil {
					return err
				}
			}
			return c.st.ClearSnapshots(ctx, key, e.op)
		},
	})
}

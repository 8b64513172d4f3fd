// Package conflict resolves optimistic-concurrency rejections: it folds
// captured authoritative remote state against the pre-mutation snapshot
// and the current local state with a three-way merge, writes the result
// back, advances the version ledger, and re-derives batch intents so
// residual local differences get re-synced.
package conflict

import (
	"context"
	"log/slog"
	"sort"

	"github.com/localnerve/jam-build-sub001/internal/batch"
	"github.com/localnerve/jam-build-sub001/internal/document"
	"github.com/localnerve/jam-build-sub001/internal/merge"
	"github.com/localnerve/jam-build-sub001/internal/store"
)

// Resolver drives the conflict-resolution pass.
type Resolver struct {
	st        *store.Store
	collector *batch.Collector
	log       *slog.Logger

	// Notify, when set, fires once per affected store type with the
	// changed document -> collections map, so attached client contexts
	// can reload what the merge rewrote.
	Notify func(storeType document.StoreType, changed map[string][]string)
}

// New builds a Resolver over the store and the collector it re-invokes.
func New(st *store.Store, collector *batch.Collector, log *slog.Logger) *Resolver {
	if log == nil {
		log = slog.Default()
	}
	return &Resolver{st: st, collector: collector, log: log}
}

// docConflict is the per-document fold of the ledger: only records at
// the document's highest reported version contribute.
type docConflict struct {
	key     document.Key
	version int64
	op      document.Op
	refs    []document.CollectionRef
	remote  document.Collections
}

// ProcessVersionConflicts runs one resolution pass over the conflict
// ledger.
//
// Records are folded per document at their highest reported version;
// lower-version records are superseded. Each kept collection is
// three-way merged (snapshot base, captured remote, current local) and
// written back, the version ledger advances to the reported version,
// and the original request shape is conditionally re-derived into batch
// intents. The pass ends by deleting the consumed records, driving a
// batch reduction, and notifying clients per store type.
func (r *Resolver) ProcessVersionConflicts(ctx context.Context) error {
	records, err := r.st.ConflictsByVersionDesc(ctx)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}

	kept := make(map[document.Key]*docConflict)
	var order []document.Key
	for _, c := range records {
		dk := c.Key.Key
		dc, ok := kept[dk]
		if !ok {
			// First record in descending order holds the document's
			// highest version; it decides op and request shape too.
			dc = &docConflict{
				key:     dk,
				version: c.NewVersion,
				op:      c.Op,
				refs:    c.Collections,
				remote:  make(document.Collections),
			}
			kept[dk] = dc
			order = append(order, dk)
		}
		if c.NewVersion != dc.version || c.Key.Collection == "" {
			continue
		}
		dc.remote[c.Key.Collection] = c.Properties
	}

	changedByScope := make(map[document.StoreType]map[string][]string)

	for _, dk := range order {
		dc := kept[dk]

		local, err := r.st.ReadDocument(ctx, dk)
		if err != nil {
			r.log.Error("conflict resolution: read local document failed",
				"key", dk.String(), "error", err)
			continue
		}

		names := make([]string, 0, len(dc.remote))
		for name := range dc.remote {
			names = append(names, name)
		}
		sort.Strings(names)

		for _, name := range names {
			ck := document.CollectionKey{Key: dk, Collection: name}

			var base document.Properties
			hadBase := false
			if snap, ok, err := r.st.GetSnapshot(ctx, ck, dc.op); err != nil {
				r.log.Error("conflict resolution: read snapshot failed",
					"key", ck.String(), "error", err)
			} else if ok {
				base = snap.Properties
				hadBase = true
			}

			merged, err := merge.ThreeWay(base, dc.remote[name], local[name])
			if err != nil {
				r.log.Error("conflict resolution: merge failed",
					"key", ck.String(), "error", err)
				continue
			}
			if err := r.st.PutCollection(ctx, ck, merged); err != nil {
				r.log.Error("conflict resolution: write-back failed",
					"key", ck.String(), "error", err)
				continue
			}
			if hadBase {
				// One pending mutation's base was consumed by this
				// merge; the snapshot row goes once nothing else
				// depends on it.
				if err := r.st.ReleaseSnapshot(ctx, ck, dc.op); err != nil {
					r.log.Error("conflict resolution: release snapshot failed",
						"key", ck.String(), "error", err)
				}
			}

			if changedByScope[dk.StoreType] == nil {
				changedByScope[dk.StoreType] = make(map[string][]string)
			}
			changedByScope[dk.StoreType][dk.Document] = append(changedByScope[dk.StoreType][dk.Document], name)
		}

		if dc.version > 0 {
			if err := r.st.SetVersion(ctx, dk, dc.version); err != nil {
				r.log.Error("conflict resolution: version update failed",
					"key", dk.String(), "error", err)
			}
		}

		r.rederiveIntents(ctx, dc)
		r.log.Info("version conflict resolved",
			"key", dk.String(), "version", dc.version, "collections", names)
	}

	// Every record read this pass is consumed: kept ones were merged,
	// lower-version ones were superseded by the merge.
	for _, c := range records {
		if err := r.st.DeleteConflict(ctx, c.Key); err != nil {
			r.log.Error("conflict resolution: ledger cleanup failed",
				"key", c.Key.String(), "error", err)
		}
	}

	if err := r.collector.ProcessBatchUpdates(ctx); err != nil {
		r.log.Error("conflict resolution: batch reduction failed", "error", err)
	}

	if r.Notify != nil {
		for scope, changed := range changedByScope {
			r.Notify(scope, changed)
		}
	}
	return nil
}

// rederiveIntents rebuilds batch intents from the conflicted request's
// original shape so merge results that still differ from remote get
// re-synced. Insertion is conditional per exact (scope, document,
// collection, op) key to avoid duplicate replays.
func (r *Resolver) rederiveIntents(ctx context.Context, dc *docConflict) {
	if len(dc.refs) == 0 {
		// Bare document-level op.
		r.appendIntent(ctx, dc, "", nil)
		return
	}
	for _, ref := range dc.refs {
		r.appendIntent(ctx, dc, ref.Collection, ref.Properties)
	}
}

func (r *Resolver) appendIntent(ctx context.Context, dc *docConflict, collection string, properties []string) {
	exists, err := r.st.HasIntent(ctx, dc.key.StoreType, dc.key.Document, collection, dc.op)
	if err != nil {
		r.log.Error("conflict resolution: intent lookup failed",
			"key", dc.key.String(), "collection", collection, "error", err)
		return
	}
	if exists {
		return
	}

	// Deletes expand per property; puts are collection-granular.
	if dc.op == document.OpDelete && len(properties) > 0 {
		for _, p := range properties {
			if err := r.collector.BatchUpdate(ctx, dc.key, dc.op, collection, p, true); err != nil {
				r.log.Error("conflict resolution: re-derive intent failed",
					"key", dc.key.String(), "collection", collection, "property", p, "error", err)
			}
		}
		return
	}
	if err := r.collector.BatchUpdate(ctx, dc.key, dc.op, collection, "", true); err != nil {
		r.log.Error("conflict resolution: re-derive intent failed",
			"key", dc.key.String(), "collection", collection, "error", err)
	}
}

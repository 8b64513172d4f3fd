package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/localnerve/jam-build-sub001/internal/batch"
	"github.com/localnerve/jam-build-sub001/internal/channel"
	"github.com/localnerve/jam-build-sub001/internal/config"
	"github.com/localnerve/jam-build-sub001/internal/conflict"
	"github.com/localnerve/jam-build-sub001/internal/document"
	"github.com/localnerve/jam-build-sub001/internal/heartbeat"
	"github.com/localnerve/jam-build-sub001/internal/mutex"
	"github.com/localnerve/jam-build-sub001/internal/remote"
	"github.com/localnerve/jam-build-sub001/internal/store"
)

// Engine is the sync orchestrator. Construct with New, drive with Run.
type Engine struct {
	cfg config.Config
	log *slog.Logger

	st        *store.Store
	section   *mutex.Section
	registry  *heartbeat.Registry
	timers    *heartbeat.TimerSet
	adapter   *remote.Adapter
	collector *batch.Collector
	resolver  *conflict.Resolver
	hub       *channel.Hub

	online atomic.Bool
}

// New wires an Engine over an open store and hub.
func New(cfg config.Config, st *store.Store, hub *channel.Hub, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	clock := heartbeat.SystemClock{}
	registry := heartbeat.NewRegistry(clock)
	timers := heartbeat.NewTimerSet(clock, registry, cfg.Resolution())

	adapter := remote.New(st, remote.Options{
		BaseURL:     cfg.Remote.BaseURL,
		APIVersion:  cfg.Remote.APIVersion,
		Timeout:     cfg.Timeout(),
		NativeRetry: cfg.Remote.NativeRetry,
		Logger:      log,
	})
	collector := batch.New(st, adapter, timers, cfg.Window(), log)
	resolver := conflict.New(st, collector, log)

	e := &Engine{
		cfg:       cfg,
		log:       log,
		st:        st,
		section:   mutex.NewSection(),
		registry:  registry,
		timers:    timers,
		adapter:   adapter,
		collector: collector,
		resolver:  resolver,
		hub:       hub,
	}
	e.online.Store(true)

	// The adapter reaches back into the passes through hooks; function
	// fields keep the package dependencies one-directional.
	adapter.Resolve = resolver.ProcessVersionConflicts
	adapter.Reduce = collector.ProcessBatchUpdates
	adapter.OnUpdate = func(key document.Key, collections []string) {
		hub.Broadcast(channel.DataUpdate{
			StoreType: key.StoreType,
			Changed:   map[string][]string{key.Document: collections},
		})
	}
	resolver.Notify = func(scope document.StoreType, changed map[string][]string) {
		hub.Broadcast(channel.DataUpdate{
			StoreType: scope,
			Changed:   changed,
			Message:   "remote changes merged",
		})
	}
	timers.OnStop(func(name string) {
		hub.Broadcast(channel.HeartbeatStopped{Name: name})
	})
	hub.OnDisconnect = func(clientID string) {
		registry.RemoveClient(clientID)
	}
	return e
}

// PutData upserts one collection's properties into the local store and
// schedules the sync. The pre-mutation state is snapshotted inside the
// critical section so a later conflict has its merge base.
func (e *Engine) PutData(ctx context.Context, key document.CollectionKey, props document.Properties) error {
	if err := key.Validate(); err != nil {
		return fmt.Errorf("put data: %w", err)
	}

	err := e.section.Execute(func() error {
		if err := e.captureSnapshot(ctx, key, document.OpPut); err != nil {
			return err
		}
		return e.st.MergeCollection(ctx, key, props)
	})
	if err != nil {
		return fmt.Errorf("put data %s: %w", key, err)
	}

	return e.collector.BatchUpdate(ctx, key.Key, document.OpPut, key.Collection, "", false)
}

// DeleteData removes local data at document, collection, or property
// granularity and schedules the sync. Granularity follows the
// arguments: no collection deletes the document, no properties delete
// the collection, otherwise the named properties.
func (e *Engine) DeleteData(ctx context.Context, key document.Key, collection string, properties []string) error {
	if err := key.Validate(); err != nil {
		return fmt.Errorf("delete data: %w", err)
	}
	collection = document.NormalizeName(collection)

	if collection == "" {
		// Document level: snapshot every current collection first.
		err := e.section.Execute(func() error {
			cols, err := e.st.ReadDocument(ctx, key)
			if err != nil {
				return err
			}
			for name := range cols {
				ck := document.CollectionKey{Key: key, Collection: name}
				if err := e.captureSnapshot(ctx, ck, document.OpDelete); err != nil {
					return err
				}
			}
			return e.st.DeleteDocument(ctx, key)
		})
		if err != nil {
			return fmt.Errorf("delete data %s: %w", key, err)
		}
		return e.collector.BatchUpdate(ctx, key, document.OpDelete, "", "", false)
	}

	ck := document.CollectionKey{Key: key, Collection: collection}
	err := e.section.Execute(func() error {
		if err := e.captureSnapshot(ctx, ck, document.OpDelete); err != nil {
			return err
		}
		if len(properties) == 0 {
			return e.st.DeleteCollection(ctx, ck)
		}
		return e.st.DeleteProperties(ctx, ck, properties)
	})
	if err != nil {
		return fmt.Errorf("delete data %s: %w", ck, err)
	}

	if len(properties) == 0 {
		return e.collector.BatchUpdate(ctx, key, document.OpDelete, collection, "", false)
	}
	for _, p := range properties {
		if err := e.collector.BatchUpdate(ctx, key, document.OpDelete, collection, p, false); err != nil {
			return err
		}
	}
	return nil
}

// captureSnapshot runs the snapshot-capture decision for one
// (collection, op): increment the reference of a fresh snapshot,
// replace a stale one, create one when missing. Callers hold the
// critical section.
func (e *Engine) captureSnapshot(ctx context.Context, key document.CollectionKey, op document.Op) error {
	snap, ok, err := e.st.GetSnapshot(ctx, key, op)
	if err != nil {
		return err
	}
	if ok && !e.st.IsSnapshotStale(snap, e.cfg.SnapshotLifetime()) {
		return e.st.IncrementSnapshotRef(ctx, key, op)
	}

	props, _, err := e.st.ReadCollection(ctx, key)
	if err != nil {
		return err
	}
	if props == nil {
		props = document.Properties{}
	}
	return e.st.CreateSnapshot(ctx, key, op, props)
}

// RefreshData re-fetches a document from the remote service. Offline or
// failing, it falls back to the local copy and still notifies clients
// so they can render what exists.
func (e *Engine) RefreshData(ctx context.Context, key document.Key) error {
	if err := key.Validate(); err != nil {
		return fmt.Errorf("refresh data: %w", err)
	}
	// Ensure the version ledger row exists (lazy creation at zero).
	if _, err := e.st.Version(ctx, key); err != nil {
		return err
	}

	if err := e.adapter.RefreshDocument(ctx, key); err != nil {
		e.log.Info("refresh fell back to local data", "key", key.String(), "error", err)
		cols, rerr := e.st.ReadDocument(ctx, key)
		if rerr != nil {
			return rerr
		}
		changed := make(map[string][]string)
		for name := range cols {
			changed[key.Document] = append(changed[key.Document], name)
		}
		e.hub.Broadcast(channel.DataUpdate{
			StoreType: key.StoreType,
			Changed:   changed,
			Message:   "serving local data",
		})
	}
	return nil
}

// MayUpdate reports whether a client may overwrite its in-memory model
// from the store: true when no unsynced local changes exist for the
// document.
func (e *Engine) MayUpdate(ctx context.Context, key document.Key) (bool, error) {
	pending, err := e.st.PendingForDocument(ctx, key)
	if err != nil {
		return false, err
	}
	return !pending, nil
}

// Logout clears all user-scope state.
func (e *Engine) Logout(ctx context.Context) error {
	if err := e.st.ClearScope(ctx, document.StoreTypeUser); err != nil {
		return err
	}
	e.log.Info("user scope cleared")
	return nil
}

// SetOnline records the connectivity state. The offline-to-online
// transition drains the replay queue, which runs the resolver and
// collector passes behind it.
func (e *Engine) SetOnline(ctx context.Context, online bool) error {
	was := e.online.Swap(online)
	if online && !was {
		e.log.Info("connectivity restored, draining replay queue")
		return e.adapter.Replay(ctx)
	}
	return nil
}

// Online reports the last recorded connectivity state.
func (e *Engine) Online() bool { return e.online.Load() }

// Status is a point-in-time snapshot of engine state for introspection.
type Status struct {
	Online      bool `json:"online"`
	Clients     int  `json:"clients"`
	Intents     int  `json:"intents"`
	Conflicts   int  `json:"conflicts"`
	ReplayDepth int  `json:"replayDepth"`
}

// Status collects queue depths and connectivity for introspection.
func (e *Engine) Status(ctx context.Context) (Status, error) {
	intents, err := e.st.IntentCount(ctx)
	if err != nil {
		return Status{}, err
	}
	conflicts, err := e.st.ConflictCount(ctx)
	if err != nil {
		return Status{}, err
	}
	depth, err := e.st.ReplayDepth(ctx)
	if err != nil {
		return Status{}, err
	}
	return Status{
		Online:      e.online.Load(),
		Clients:     e.hub.ClientCount(),
		Intents:     intents,
		Conflicts:   conflicts,
		ReplayDepth: depth,
	}, nil
}

// Flush forces a reduction pass outside the collection window.
func (e *Engine) Flush(ctx context.Context) error {
	return e.collector.ProcessBatchUpdates(ctx)
}

// Replay forces a replay-queue drain.
func (e *Engine) Replay(ctx context.Context) error {
	return e.adapter.Replay(ctx)
}

package engine

import (
	"context"
	"time"

	"github.com/localnerve/jam-build-sub001/internal/batch"
	"github.com/localnerve/jam-build-sub001/internal/channel"
	"github.com/localnerve/jam-build-sub001/internal/document"
)

// Run consumes client actions from the hub in arrival order until the
// context is canceled. A failing action is logged and never stops the
// loop. Stale merge-base snapshots are evicted periodically on the
// side.
func (e *Engine) Run(ctx context.Context) error {
	evict := time.NewTicker(e.cfg.SnapshotLifetime())
	defer evict.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-evict.C:
			if n, err := e.st.EvictStaleSnapshots(ctx, e.cfg.SnapshotLifetime()); err != nil {
				e.log.Error("snapshot eviction failed", "error", err)
			} else if n > 0 {
				e.log.Info("stale snapshots evicted", "count", n)
			}
		case in := <-e.hub.Inbound():
			if err := e.dispatch(ctx, in); err != nil {
				e.log.Error("action failed",
					"kind", in.Msg.Kind(), "clientId", in.ClientID, "error", err)
			}
		}
	}
}

// dispatch routes one decoded action. The message union is closed, so
// the switch is exhaustive over client actions; notification kinds
// arriving inbound are protocol violations and fall through to the log.
func (e *Engine) dispatch(ctx context.Context, in channel.Inbound) error {
	switch msg := in.Msg.(type) {
	case channel.RefreshData:
		return e.RefreshData(ctx, document.NewKey(msg.StoreType, msg.Document))

	case channel.PutData:
		key := document.NewCollectionKey(msg.StoreType, msg.Document, msg.Collection)
		return e.PutData(ctx, key, msg.Properties)

	case channel.DeleteData:
		return e.DeleteData(ctx, document.NewKey(msg.StoreType, msg.Document), msg.Collection, msg.Properties)

	case channel.BatchUpdate:
		key := document.NewKey(msg.StoreType, msg.Document)
		return e.collector.BatchUpdate(ctx, key, msg.Op, msg.Collection, msg.Property, msg.Defer)

	case channel.MayUpdate:
		key := document.NewKey(msg.StoreType, msg.Document)
		may, err := e.MayUpdate(ctx, key)
		if err != nil {
			return err
		}
		e.hub.Send(in.ClientID, channel.MayUpdateReport{
			StoreType: msg.StoreType,
			Document:  msg.Document,
			MayUpdate: may,
		})
		return nil

	case channel.Logout:
		return e.Logout(ctx)

	case channel.Version:
		e.hub.Send(in.ClientID, channel.VersionReport{APIVersion: e.cfg.Remote.APIVersion})
		return nil

	case channel.RuntimeUpdate:
		// A new runtime is waiting to take over; prompt every context
		// to reload.
		e.hub.Broadcast(channel.UpdateRequired{})
		return nil

	case channel.HeartbeatStart:
		e.registry.Beat(timerName(msg.Name), in.ClientID)
		return nil

	case channel.HeartbeatBeat:
		e.registry.Beat(timerName(msg.Name), in.ClientID)
		return nil

	case channel.HeartbeatStop:
		e.registry.MarkInactive(timerName(msg.Name), in.ClientID)
		return nil

	case channel.ServiceTimersNow:
		e.timers.FireAll()
		return nil
	}

	e.log.Warn("unhandled inbound message", "kind", in.Msg.Kind(), "clientId", in.ClientID)
	return nil
}

// timerName maps an empty client-provided name to the batch window
// timer, the only deferred timer most clients know about.
func timerName(name string) string {
	if name == "" {
		return batch.TimerName
	}
	return name
}

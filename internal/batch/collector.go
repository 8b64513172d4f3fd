package batch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/localnerve/jam-build-sub001/internal/document"
	"github.com/localnerve/jam-build-sub001/internal/heartbeat"
	"github.com/localnerve/jam-build-sub001/internal/remote"
	"github.com/localnerve/jam-build-sub001/internal/store"
)

// DefaultWindow is the intent collection window: mutations arriving
// within it coalesce into one reduction pass.
const DefaultWindow = 12 * time.Second

// TimerName is the deferred-timer and liveness name for the collection
// window. Client contexts heartbeat under this name to keep the window
// open for its full duration.
const TimerName = "batch-update"

// Caller is the slice of the network adapter the collector drives.
type Caller interface {
	Call(ctx context.Context, req remote.Request, opts remote.CallOptions) error
	RefreshDocument(ctx context.Context, key document.Key) error
}

// Collector logs mutation intents and reduces them into network calls.
type Collector struct {
	st     *store.Store
	caller Caller
	timers *heartbeat.TimerSet
	window time.Duration
	log    *slog.Logger
}

// New builds a Collector. A non-positive window falls back to
// DefaultWindow; a nil logger falls back to slog.Default.
func New(st *store.Store, caller Caller, timers *heartbeat.TimerSet, window time.Duration, log *slog.Logger) *Collector {
	if window <= 0 {
		window = DefaultWindow
	}
	if log == nil {
		log = slog.Default()
	}
	return &Collector{st: st, caller: caller, timers: timers, window: window, log: log}
}

// BatchUpdate appends a mutation intent and, unless deferred, arms the
// collection-window timer. Validation failures are synchronous and
// never logged as intents.
//
// Puts are always collection-granular. Deletes may be document-level
// (empty collection), collection-level (empty property), or
// property-level.
func (c *Collector) BatchUpdate(ctx context.Context, key document.Key, op document.Op, collection, property string, deferTimer bool) error {
	if err := key.Validate(); err != nil {
		return fmt.Errorf("batch update: %w", err)
	}
	if !op.Valid() {
		return fmt.Errorf("batch update %s: invalid op %q", key, op)
	}
	collection = document.NormalizeName(collection)
	if op == document.OpPut && (collection == "" || property != "") {
		return fmt.Errorf("batch update %s: puts are collection-granular", key)
	}
	if property != "" && collection == "" {
		return fmt.Errorf("batch update %s: property %q without collection", key, property)
	}

	_, err := c.st.AppendIntent(ctx, store.Intent{
		StoreType:  key.StoreType,
		Document:   key.Document,
		Collection: collection,
		Property:   property,
		Op:         op,
	})
	if err != nil {
		return err
	}

	if !deferTimer {
		c.timers.Start(c.window, TimerName, func() {
			if err := c.ProcessBatchUpdates(context.Background()); err != nil {
				c.log.Error("batch reduction failed", "error", err)
			}
		})
	}
	return nil
}

// Window returns the configured collection window.
func (c *Collector) Window() time.Duration { return c.window }

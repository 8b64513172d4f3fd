package conflict

import (
	"context"
	"errors"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/localnerve/jam-build-sub001/internal/batch"
	"github.com/localnerve/jam-build-sub001/internal/document"
	"github.com/localnerve/jam-build-sub001/internal/heartbeat"
	"github.com/localnerve/jam-build-sub001/internal/remote"
	"github.com/localnerve/jam-build-sub001/internal/store"
)

type fakeCaller struct {
	calls     []remote.Request
	err       error
	refreshed []document.Key
}

func (f *fakeCaller) Call(ctx context.Context, req remote.Request, opts remote.CallOptions) error {
	f.calls = append(f.calls, req)
	if f.err != nil {
		return f.err
	}
	if opts.OnSuccess != nil {
		return opts.OnSuccess(ctx, remote.Response{
			req.Document: remote.DocumentData{},
		})
	}
	return nil
}

func (f *fakeCaller) RefreshDocument(ctx context.Context, key document.Key) error {
	f.refreshed = append(f.refreshed, key)
	return nil
}

func newTestResolver(t *testing.T) (*Resolver, *store.Store, *fakeCaller) {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	caller := &fakeCaller{}
	timers := heartbeat.NewTimerSet(heartbeat.SystemClock{}, heartbeat.NewRegistry(heartbeat.SystemClock{}), time.Hour)
	collector := batch.New(s, caller, timers, batch.DefaultWindow, nil)
	return New(s, collector, nil), s, caller
}

func TestProcess_EmptyLedgerIsNoOp(t *testing.T) {
	r, _, caller := newTestResolver(t)
	require.NoError(t, r.ProcessVersionConflicts(context.Background()))
	assert.Empty(t, caller.calls)
}

// Snapshot {email:"a@x.com"}, remote {email:"c@x.com"} at version 7,
// local {email:"b@x.com"}: local wins, the ledger advances to 7, and a
// put intent is re-derived and replayed with the merged value.
func TestProcess_LocalWinsMergeAndResync(t *testing.T) {
	r, st, caller := newTestResolver(t)
	ctx := context.Background()
	key := document.NewKey(document.StoreTypeUser, "home")
	ck := document.NewCollectionKey(document.StoreTypeUser, "home", "contact")

	require.NoError(t, st.CreateSnapshot(ctx, ck, document.OpPut, document.Properties{"email": "a@x.com"}))
	require.NoError(t, st.PutCollection(ctx, ck, document.Properties{"email": "b@x.com"}))
	require.NoError(t, st.SetVersion(ctx, key, 3))

	refs := []document.CollectionRef{{Collection: "contact"}}
	require.NoError(t, st.PutConflict(ctx, store.Conflict{
		Key:         ck,
		Properties:  document.Properties{"email": "c@x.com"},
		NewVersion:  7,
		Op:          document.OpPut,
		Collections: refs,
	}))

	var notifiedScope document.StoreType
	var notifiedChanged map[string][]string
	r.Notify = func(scope document.StoreType, changed map[string][]string) {
		notifiedScope = scope
		notifiedChanged = changed
	}

	require.NoError(t, r.ProcessVersionConflicts(ctx))

	// Merged write-back: local value survives the overlap.
	props, ok, err := st.ReadCollection(ctx, ck)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "b@x.com", props["email"])

	// Ledger holds exactly the reported version.
	v, err := st.Version(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, int64(7), v)

	// The re-derived intent drove one put carrying the merged value at
	// the new version.
	require.Len(t, caller.calls, 1)
	call := caller.calls[0]
	assert.Equal(t, http.MethodPost, call.Method)
	assert.Equal(t, int64(7), call.Version)
	assert.Equal(t, "b@x.com", call.Payload["contact"]["email"])

	// Ledger cleaned, clients notified.
	n, err := st.ConflictCount(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, document.StoreTypeUser, notifiedScope)
	assert.Equal(t, map[string][]string{"home": {"contact"}}, notifiedChanged)
}

// A merge consumes one reference on its base snapshot. With a second
// mutation still depending on it, the row survives at the decremented
// count; the re-derived call is failed here so the confirmed-sync
// wholesale clear never runs.
func TestProcess_MergeReleasesSnapshotBase(t *testing.T) {
	r, st, caller := newTestResolver(t)
	caller.err = errors.New("remote unavailable")
	ctx := context.Background()
	ck := document.NewCollectionKey(document.StoreTypeUser, "home", "contact")

	require.NoError(t, st.CreateSnapshot(ctx, ck, document.OpPut, document.Properties{"email": "a@x.com"}))
	require.NoError(t, st.IncrementSnapshotRef(ctx, ck, document.OpPut))
	require.NoError(t, st.PutCollection(ctx, ck, document.Properties{"email": "b@x.com"}))

	require.NoError(t, st.PutConflict(ctx, store.Conflict{
		Key:         ck,
		Properties:  document.Properties{"email": "c@x.com"},
		NewVersion:  7,
		Op:          document.OpPut,
		Collections: []document.CollectionRef{{Collection: "contact"}},
	}))

	require.NoError(t, r.ProcessVersionConflicts(ctx))

	snap, ok, err := st.GetSnapshot(ctx, ck, document.OpPut)
	require.NoError(t, err)
	require.True(t, ok, "a still-referenced base survives the merge")
	assert.Equal(t, 1, snap.RefCount)

	// With no other dependent, the same merge deletes the row outright.
	require.NoError(t, st.ReleaseSnapshot(ctx, ck, document.OpPut))
	_, ok, err = st.GetSnapshot(ctx, ck, document.OpPut)
	require.NoError(t, err)
	assert.False(t, ok)
}

// Without a snapshot there is no ancestor: the remote value is
// authoritative and overwrites local.
func TestProcess_NoBaseTakesRemote(t *testing.T) {
	r, st, _ := newTestResolver(t)
	ctx := context.Background()
	ck := document.NewCollectionKey(document.StoreTypeUser, "home", "contact")

	require.NoError(t, st.PutCollection(ctx, ck, document.Properties{"email": "b@x.com"}))
	require.NoError(t, st.PutConflict(ctx, store.Conflict{
		Key:         ck,
		Properties:  document.Properties{"email": "c@x.com"},
		NewVersion:  5,
		Op:          document.OpPut,
		Collections: []document.CollectionRef{{Collection: "contact"}},
	}))

	require.NoError(t, r.ProcessVersionConflicts(ctx))

	props, ok, err := st.ReadCollection(ctx, ck)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "c@x.com", props["email"])
}

// Two captures for one document at different versions: only the
// highest-version record is merged, but both leave the ledger.
func TestProcess_HighestVersionSupersedes(t *testing.T) {
	r, st, _ := newTestResolver(t)
	ctx := context.Background()
	key := document.NewKey(document.StoreTypeUser, "home")
	older := document.NewCollectionKey(document.StoreTypeUser, "home", "stale")
	newer := document.NewCollectionKey(document.StoreTypeUser, "home", "fresh")

	require.NoError(t, st.PutConflict(ctx, store.Conflict{
		Key:        older,
		Properties: document.Properties{"v": "old"},
		NewVersion: 5,
		Op:         document.OpPut,
	}))
	require.NoError(t, st.PutConflict(ctx, store.Conflict{
		Key:        newer,
		Properties: document.Properties{"v": "new"},
		NewVersion: 9,
		Op:         document.OpPut,
	}))

	require.NoError(t, r.ProcessVersionConflicts(ctx))

	// Only the version-9 capture merged in.
	_, ok, err := st.ReadCollection(ctx, older)
	require.NoError(t, err)
	assert.False(t, ok, "superseded capture must not be written back")

	props, ok, err := st.ReadCollection(ctx, newer)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "new", props["v"])

	v, err := st.Version(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, int64(9), v)

	n, err := st.ConflictCount(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "superseded records are consumed too")
}

// An intent row already covering the exact (scope, document,
// collection, op) key suppresses re-derivation.
func TestProcess_RederivationIsConditional(t *testing.T) {
	r, st, caller := newTestResolver(t)
	ctx := context.Background()
	ck := document.NewCollectionKey(document.StoreTypeUser, "home", "contact")

	require.NoError(t, st.PutCollection(ctx, ck, document.Properties{"email": "b@x.com"}))
	_, err := st.AppendIntent(ctx, store.Intent{
		StoreType:  document.StoreTypeUser,
		Document:   "home",
		Collection: "contact",
		Op:         document.OpPut,
	})
	require.NoError(t, err)

	require.NoError(t, st.PutConflict(ctx, store.Conflict{
		Key:         ck,
		Properties:  document.Properties{"email": "c@x.com"},
		NewVersion:  4,
		Op:          document.OpPut,
		Collections: []document.CollectionRef{{Collection: "contact"}},
	}))

	require.NoError(t, r.ProcessVersionConflicts(ctx))

	// Exactly one call: the pre-existing intent, not a duplicate.
	assert.Len(t, caller.calls, 1)

	n, err := st.IntentCount(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

// Property-granular delete refs expand into one intent per property.
func TestProcess_DeleteRefsExpandPerProperty(t *testing.T) {
	r, st, caller := newTestResolver(t)
	ctx := context.Background()
	ck := document.NewCollectionKey(document.StoreTypeUser, "home", "contact")

	require.NoError(t, st.PutCollection(ctx, ck,
		document.Properties{"email": "b@x.com", "phone": "555", "name": "n"}))
	require.NoError(t, st.PutConflict(ctx, store.Conflict{
		Key:        ck,
		Properties: document.Properties{"email": "c@x.com", "phone": "555", "name": "n"},
		NewVersion: 6,
		Op:         document.OpDelete,
		Collections: []document.CollectionRef{
			{Collection: "contact", Properties: []string{"email", "phone"}},
		},
	}))

	require.NoError(t, r.ProcessVersionConflicts(ctx))

	require.Len(t, caller.calls, 1)
	call := caller.calls[0]
	assert.Equal(t, http.MethodDelete, call.Method)
	require.Len(t, call.Collections, 1)
	assert.Equal(t, "contact", call.Collections[0].Collection)
	assert.ElementsMatch(t, []string{"email", "phone"}, call.Collections[0].Properties)
}

package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/localnerve/jam-build-sub001/internal/document"
)

func TestSnapshot_RefCountLifecycle(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	key := document.NewCollectionKey(document.StoreTypeUser, "home", "contact")

	require.NoError(t, s.CreateSnapshot(ctx, key, document.OpPut, document.Properties{"email": "a@x.com"}))

	snap, ok, err := s.GetSnapshot(ctx, key, document.OpPut)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1, snap.RefCount)
	assert.Equal(t, "a@x.com", snap.Properties["email"])

	require.NoError(t, s.IncrementSnapshotRef(ctx, key, document.OpPut))
	snap, _, err = s.GetSnapshot(ctx, key, document.OpPut)
	require.NoError(t, err)
	assert.Equal(t, 2, snap.RefCount)

	// First release decrements, second deletes.
	require.NoError(t, s.ReleaseSnapshot(ctx, key, document.OpPut))
	_, ok, err = s.GetSnapshot(ctx, key, document.OpPut)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, s.ReleaseSnapshot(ctx, key, document.OpPut))
	_, ok, err = s.GetSnapshot(ctx, key, document.OpPut)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSnapshot_OpQualifiedKey(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	key := document.NewCollectionKey(document.StoreTypeUser, "home", "contact")

	require.NoError(t, s.CreateSnapshot(ctx, key, document.OpPut, document.Properties{"a": 1}))
	require.NoError(t, s.CreateSnapshot(ctx, key, document.OpDelete, document.Properties{"a": 1}))

	_, ok, err := s.GetSnapshot(ctx, key, document.OpPut)
	require.NoError(t, err)
	assert.True(t, ok)
	_, ok, err = s.GetSnapshot(ctx, key, document.OpDelete)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSnapshot_StalenessEvictionIgnoresRefCount(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	key := document.NewCollectionKey(document.StoreTypeUser, "home", "contact")

	base := time.Now()
	s.SetNowFunc(func() time.Time { return base })

	require.NoError(t, s.CreateSnapshot(ctx, key, document.OpPut, document.Properties{"a": 1}))
	require.NoError(t, s.IncrementSnapshotRef(ctx, key, document.OpPut))

	// Not yet stale.
	n, err := s.EvictStaleSnapshots(ctx, time.Minute)
	require.NoError(t, err)
	assert.Zero(t, n)

	s.SetNowFunc(func() time.Time { return base.Add(61 * time.Second) })

	n, err = s.EvictStaleSnapshots(ctx, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n, "eviction ignores ref_count")

	_, ok, err := s.GetSnapshot(ctx, key, document.OpPut)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestClearSnapshots_ByDocumentAndOp(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	dk := document.NewKey(document.StoreTypeUser, "home")

	k1 := document.CollectionKey{Key: dk, Collection: "contact"}
	k2 := document.CollectionKey{Key: dk, Collection: "prefs"}
	require.NoError(t, s.CreateSnapshot(ctx, k1, document.OpPut, nil))
	require.NoError(t, s.CreateSnapshot(ctx, k2, document.OpPut, nil))
	require.NoError(t, s.CreateSnapshot(ctx, k1, document.OpDelete, nil))

	require.NoError(t, s.ClearSnapshots(ctx, dk, document.OpPut))

	_, ok, err := s.GetSnapshot(ctx, k1, document.OpPut)
	require.NoError(t, err)
	assert.False(t, ok)
	_, ok, err = s.GetSnapshot(ctx, k2, document.OpPut)
	require.NoError(t, err)
	assert.False(t, ok)
	_, ok, err = s.GetSnapshot(ctx, k1, document.OpDelete)
	require.NoError(t, err)
	assert.True(t, ok, "other op untouched")
}

func TestIsSnapshotStale(t *testing.T) {
	s := createTestStore(t)
	base := time.Now()
	s.SetNowFunc(func() time.Time { return base })

	fresh := Snapshot{CreatedAt: base.Add(-30 * time.Second)}
	stale := Snapshot{CreatedAt: base.Add(-61 * time.Second)}
	assert.False(t, s.IsSnapshotStale(fresh, time.Minute))
	assert.True(t, s.IsSnapshotStale(stale, time.Minute))
}

package remote

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/localnerve/jam-build-sub001/internal/document"
	"github.com/localnerve/jam-build-sub001/internal/store"
)

// queueMutation persists a put or delete against the given base URL.
func queueMutation(t *testing.T, st *store.Store, baseURL string, method string, doc string) {
	t.Helper()
	req := Request{
		Method:      method,
		StoreType:   document.StoreTypeUser,
		Document:    doc,
		Version:     1,
		Collections: []document.CollectionRef{{Collection: "contact"}},
		Payload:     document.Collections{"contact": {"email": "queued@x.com"}},
	}
	body, err := req.Body()
	require.NoError(t, err)
	require.NoError(t, st.PushReplay(context.Background(), store.QueuedRequest{
		RequestID: uuid.NewString(),
		Method:    method,
		URL:       baseURL + req.Path(),
		Body:      body,
		Meta: store.RequestMeta{
			StoreType:   document.StoreTypeUser,
			Document:    doc,
			Op:          req.Op(),
			Collections: req.Collections,
		},
	}))
}

func queueRead(t *testing.T, st *store.Store, baseURL string, doc string) {
	t.Helper()
	req := Request{Method: http.MethodGet, StoreType: document.StoreTypeUser, Document: doc}
	require.NoError(t, st.PushReplay(context.Background(), store.QueuedRequest{
		RequestID: uuid.NewString(),
		Method:    http.MethodGet,
		URL:       baseURL + req.Path(),
		Meta: store.RequestMeta{
			StoreType: document.StoreTypeUser,
			Document:  doc,
			Op:        document.OpPut,
			ReadOnly:  true,
		},
	}))
}

// dropConnection kills the TCP connection without a response, which the
// client observes as a transport failure.
func dropConnection(w http.ResponseWriter) {
	hj, ok := w.(http.Hijacker)
	if !ok {
		panic("response writer is not a hijacker")
	}
	conn, _, err := hj.Hijack()
	if err != nil {
		panic(err)
	}
	conn.Close()
}

// Queue M1 (put), M2 (delete), R1 (read); M1 fails on replay. M1 must
// return to the queue head with R1 behind the mutations, and the drain
// must stop before attempting M2.
func TestReplay_FailedMutationHaltsAndRequeues(t *testing.T) {
	var sawDelete atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			dropConnection(w)
		case http.MethodDelete:
			sawDelete.Store(true)
			w.WriteHeader(http.StatusOK)
		default:
			w.Write([]byte(`{}`))
		}
	}))
	defer srv.Close()

	st := createTestStore(t)
	a := newTestAdapter(t, st, srv.URL)
	ctx := context.Background()

	queueMutation(t, st, srv.URL, http.MethodPost, "home")   // M1
	queueMutation(t, st, srv.URL, http.MethodDelete, "home") // M2
	queueRead(t, st, srv.URL, "home")                        // R1

	require.NoError(t, a.Replay(ctx)) // halts quietly without native retry
	assert.False(t, sawDelete.Load(), "M2 must not be attempted after M1 fails")

	// Queue shape afterwards: M1 back at the head, M2 untouched, R1
	// re-pushed behind the mutations.
	var methods []string
	for {
		qr, ok, err := st.PopReplay(ctx)
		require.NoError(t, err)
		if !ok {
			break
		}
		methods = append(methods, qr.Method)
	}
	assert.Equal(t, []string{http.MethodPost, http.MethodDelete, http.MethodGet}, methods)
}

func TestReplay_NativeRetrySurfacesFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		dropConnection(w)
	}))
	defer srv.Close()

	st := createTestStore(t)
	a := New(st, Options{BaseURL: srv.URL, APIVersion: "1", NativeRetry: true})
	ctx := context.Background()

	queueMutation(t, st, srv.URL, http.MethodPost, "home")
	require.Error(t, a.Replay(ctx))

	depth, err := st.ReplayDepth(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, depth, "failed mutation stays queued for the native layer")
}

func TestReplay_DrainAdvancesVersionAndDefersReads(t *testing.T) {
	var getCount atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			w.Write([]byte(`{"home": {"__version": "000000000000005"}}`))
		case http.MethodGet:
			getCount.Add(1)
			w.Write([]byte(`{"home": {
				"__version": "000000000000005",
				"contact": {"email": "synced@x.com"}
			}}`))
		}
	}))
	defer srv.Close()

	st := createTestStore(t)
	a := newTestAdapter(t, st, srv.URL)
	ctx := context.Background()
	key := document.NewKey(document.StoreTypeUser, "home")

	// A snapshot that must be released once the mutation confirms.
	ck := document.NewCollectionKey(document.StoreTypeUser, "home", "contact")
	require.NoError(t, st.CreateSnapshot(ctx, ck, document.OpPut, document.Properties{"email": "base@x.com"}))

	resolveRan, reduceRan := false, false
	a.Resolve = func(context.Context) error { resolveRan = true; return nil }
	a.Reduce = func(context.Context) error { reduceRan = true; return nil }

	queueMutation(t, st, srv.URL, http.MethodPost, "home")
	// Two reads of identical shape: only one request goes out.
	queueRead(t, st, srv.URL, "home")
	queueRead(t, st, srv.URL, "home")

	require.NoError(t, a.Replay(ctx))

	depth, err := st.ReplayDepth(ctx)
	require.NoError(t, err)
	assert.Zero(t, depth)

	v, err := st.Version(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, int64(5), v)

	_, ok, err := st.GetSnapshot(ctx, ck, document.OpPut)
	require.NoError(t, err)
	assert.False(t, ok, "confirmed sync clears the snapshot")

	assert.True(t, resolveRan, "resolver pass runs after mutations drain")
	assert.True(t, reduceRan, "collector pass runs after the resolver")
	assert.Equal(t, int32(1), getCount.Load(), "duplicate reads deduplicate")

	// The replayed read lands in the local store.
	props, ok, err := st.ReadCollection(ctx, ck)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "synced@x.com", props["email"])
}

func TestReplay_ConflictOnReplayIsCapturedAndConsumed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			w.WriteHeader(http.StatusConflict)
			w.Write([]byte(`{"versionError": true}`))
		case http.MethodGet:
			w.Write([]byte(`{"home": {
				"__version": "000000000000020",
				"contact": {"email": "winner@x.com"}
			}}`))
		}
	}))
	defer srv.Close()

	st := createTestStore(t)
	a := newTestAdapter(t, st, srv.URL)
	ctx := context.Background()

	queueMutation(t, st, srv.URL, http.MethodPost, "home")
	require.NoError(t, a.Replay(ctx))

	depth, err := st.ReplayDepth(ctx)
	require.NoError(t, err)
	assert.Zero(t, depth, "a conflicted mutation is consumed, not requeued")

	conflicts, err := st.ConflictsByVersionDesc(ctx)
	require.NoError(t, err)
	require.Len(t, conflicts, 1)
	assert.Equal(t, int64(20), conflicts[0].NewVersion)
	assert.Equal(t, "winner@x.com", conflicts[0].Properties["email"])
}

// A refresh that fails while offline queues its read through the
// adapter itself; the next drain replays it and lands the remote data
// locally.
func TestReplay_ReadQueuedByCallIsAppliedOnDrain(t *testing.T) {
	var offline atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if offline.Load() {
			dropConnection(w)
			return
		}
		w.Write([]byte(`{"home": {
			"__version": "000000000000008",
			"contact": {"email": "drained@x.com"}
		}}`))
	}))
	defer srv.Close()

	st := createTestStore(t)
	a := newTestAdapter(t, st, srv.URL)
	ctx := context.Background()
	key := document.NewKey(document.StoreTypeUser, "home")

	offline.Store(true)
	err := a.RefreshDocument(ctx, key)
	require.True(t, IsReplay(err), "want E_REPLAY, got %v", err)

	depth, err := st.ReplayDepth(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, depth)

	offline.Store(false)
	require.NoError(t, a.Replay(ctx))

	depth, err = st.ReplayDepth(ctx)
	require.NoError(t, err)
	assert.Zero(t, depth)

	props, ok, err := st.ReadCollection(ctx,
		document.NewCollectionKey(document.StoreTypeUser, "home", "contact"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "drained@x.com", props["email"])

	v, err := st.Version(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, int64(8), v)
}

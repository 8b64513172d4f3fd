package remote

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/localnerve/jam-build-sub001/internal/document"
	"github.com/localnerve/jam-build-sub001/internal/store"
)

// DefaultTimeout bounds every remote exchange. A sync engine must fail
// over to local data quickly rather than hang a caller on a dead link.
const DefaultTimeout = 4500 * time.Millisecond

const (
	headerAPIVersion = "X-Api-Version"
	headerRequestID  = "X-Request-Id"
)

// Options configures a new Adapter.
type Options struct {
	BaseURL    string
	APIVersion string
	Timeout    time.Duration // zero means DefaultTimeout

	// NativeRetry marks platforms whose HTTP layer retries queued
	// requests itself; replay then surfaces failures instead of
	// halting quietly.
	NativeRetry bool

	Client *http.Client
	Logger *slog.Logger
}

// Adapter is the single seam between the engine and the remote service.
// It renders engine requests to HTTP, classifies failures, captures
// version conflicts into the ledger, and queues unreachable requests
// for replay.
type Adapter struct {
	st          *store.Store
	client      *http.Client
	baseURL     string
	apiVersion  string
	timeout     time.Duration
	nativeRetry bool
	log         *slog.Logger
	resolving   atomic.Bool

	// Resolve and Reduce are set by the engine after construction: the
	// conflict-resolver and batch-collector passes. Function fields
	// rather than imports keep the dependency pointing one way.
	Resolve func(ctx context.Context) error
	Reduce  func(ctx context.Context) error

	// OnUpdate fires after remote data has been written into the local
	// store, so the engine can notify attached contexts.
	OnUpdate func(key document.Key, collections []string)
}

// New builds an Adapter over the given store.
func New(st *store.Store, opts Options) *Adapter {
	a := &Adapter{
		st:          st,
		client:      opts.Client,
		baseURL:     opts.BaseURL,
		apiVersion:  opts.APIVersion,
		timeout:     opts.Timeout,
		nativeRetry: opts.NativeRetry,
		log:         opts.Logger,
	}
	if a.client == nil {
		a.client = &http.Client{}
	}
	if a.timeout == 0 {
		a.timeout = DefaultTimeout
	}
	if a.log == nil {
		a.log = slog.Default()
	}
	return a
}

// CallOptions tunes a single Call.
type CallOptions struct {
	// OnSuccess consumes the parsed 2xx response.
	OnSuccess func(ctx context.Context, resp Response) error

	// OnStaleFallback runs when a read cannot reach the remote: serve
	// local data instead of failing.
	OnStaleFallback func(ctx context.Context) error
}

// Call performs one remote exchange.
//
// Reads that cannot complete fall back to local data when a fallback is
// provided. Any other request that cannot be sent at all is persisted
// to the replay queue and reported as CodeReplay — reads included, so
// an offline refresh still completes on the next drain. A
// version-conflict rejection captures the authoritative remote state
// into the conflict ledger, drives a resolver pass, and reports
// CodeConflict.
func (a *Adapter) Call(ctx context.Context, req Request, opts CallOptions) error {
	body, err := req.Body()
	if err != nil {
		return err
	}
	fullURL := a.baseURL + req.Path()
	requestID := uuid.NewString()

	status, raw, err := a.do(ctx, req.Method, fullURL, body, requestID)
	if err != nil {
		// No response at all: transport failure or timeout.
		if req.ReadOnly() && opts.OnStaleFallback != nil {
			a.log.Info("read failed over to local data",
				"url", fullURL, "error", err)
			return opts.OnStaleFallback(ctx)
		}
		qr := store.QueuedRequest{
			RequestID: requestID,
			Method:    req.Method,
			URL:       fullURL,
			Body:      body,
			Meta: store.RequestMeta{
				StoreType:   req.StoreType,
				Document:    req.Document,
				Op:          req.Op(),
				Collections: req.Collections,
				ReadOnly:    req.ReadOnly(),
			},
		}
		if qerr := a.st.PushReplay(ctx, qr); qerr != nil {
			return fmt.Errorf("%s %s: queue for replay: %w", req.Method, fullURL, qerr)
		}
		a.log.Info("request queued for replay",
			"method", req.Method, "url", fullURL, "requestId", requestID)
		return &Error{Code: CodeReplay, Err: err}
	}

	if status >= 200 && status < 300 {
		if opts.OnSuccess == nil {
			return nil
		}
		resp, perr := ParseResponse(raw)
		if perr != nil {
			return perr
		}
		return opts.OnSuccess(ctx, resp)
	}

	if !req.ReadOnly() && isVersionConflict(raw) {
		key := document.Key{StoreType: req.StoreType, Document: req.Document}
		if cerr := a.CaptureConflict(ctx, key, req.Op(), req.Collections); cerr != nil {
			return fmt.Errorf("capture conflict: %w", cerr)
		}
		// A conflict hitting a call made from inside the resolution
		// pass stays captured in the ledger for the next pass; only
		// the outermost conflict drives resolution inline.
		if a.Resolve != nil && a.resolving.CompareAndSwap(false, true) {
			rerr := a.Resolve(ctx)
			a.resolving.Store(false)
			if rerr != nil {
				a.log.Error("conflict resolution failed", "key", key, "error", rerr)
			}
		}
		return &Error{Code: CodeConflict, Status: status}
	}

	if req.ReadOnly() && opts.OnStaleFallback != nil {
		a.log.Info("read failed over to local data", "url", fullURL, "status", status)
		return opts.OnStaleFallback(ctx)
	}
	return &Error{Code: CodeHTTP, Status: status}
}

// CaptureConflict fetches the authoritative remote document and writes
// one conflict record per returned collection, all at the reported
// version. The original request shape rides along so the resolver can
// re-derive batch intents after merging.
func (a *Adapter) CaptureConflict(ctx context.Context, key document.Key, op document.Op, refs []document.CollectionRef) error {
	get := Request{Method: http.MethodGet, StoreType: key.StoreType, Document: key.Document}
	status, raw, err := a.do(ctx, get.Method, a.baseURL+get.Path(), nil, uuid.NewString())
	if err != nil {
		return fmt.Errorf("fetch authoritative %s: %w", key, err)
	}
	if status < 200 || status >= 300 {
		return &Error{Code: CodeHTTP, Status: status}
	}
	resp, err := ParseResponse(raw)
	if err != nil {
		return err
	}

	data, ok := resp[key.Document]
	if !ok || len(data.Collections) == 0 {
		// Document gone or empty remotely: a single versioned record
		// still lets the resolver advance the ledger.
		return a.st.PutConflict(ctx, store.Conflict{
			Key:         document.CollectionKey{Key: key},
			NewVersion:  data.Version,
			Op:          op,
			Collections: refs,
		})
	}
	for name, props := range data.Collections {
		err := a.st.PutConflict(ctx, store.Conflict{
			Key:         document.CollectionKey{Key: key, Collection: name},
			Properties:  props,
			NewVersion:  data.Version,
			Op:          op,
			Collections: refs,
		})
		if err != nil {
			return err
		}
	}
	a.log.Info("version conflict captured",
		"key", key.String(), "op", op, "remoteVersion", data.Version)
	return nil
}

// RefreshDocument overwrites the local copy of a document with the
// authoritative remote state and advances the version ledger. Used for
// explicit refreshes and as the terminal recovery after a failed
// reconciliation. Unreachable, the read queues for the next drain and
// the caller serves local data meanwhile.
func (a *Adapter) RefreshDocument(ctx context.Context, key document.Key) error {
	req := Request{Method: http.MethodGet, StoreType: key.StoreType, Document: key.Document}
	return a.Call(ctx, req, CallOptions{
		OnSuccess: func(ctx context.Context, resp Response) error {
			data, ok := resp[key.Document]
			if !ok {
				return fmt.Errorf("refresh %s: document missing from response", key)
			}
			return a.applyDocument(ctx, key, data)
		},
	})
}

// applyDocument replaces local document state with remote data and
// notifies the update hook.
func (a *Adapter) applyDocument(ctx context.Context, key document.Key, data DocumentData) error {
	if err := a.st.DeleteDocument(ctx, key); err != nil {
		return err
	}
	names := make([]string, 0, len(data.Collections))
	for name, props := range data.Collections {
		ck := document.CollectionKey{Key: key, Collection: name}
		if err := a.st.PutCollection(ctx, ck, props); err != nil {
			return err
		}
		names = append(names, name)
	}
	if err := a.st.SetVersion(ctx, key, data.Version); err != nil {
		return err
	}
	if a.OnUpdate != nil {
		a.OnUpdate(key, names)
	}
	return nil
}

// do performs one bounded HTTP exchange and returns the status and
// body. A nil error means a response was received, whatever the status.
func (a *Adapter) do(ctx context.Context, method, url string, body []byte, requestID string) (int, []byte, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	var reader io.Reader
	if len(body) > 0 {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set(headerAPIVersion, a.apiVersion)
	req.Header.Set(headerRequestID, requestID)
	if len(body) > 0 {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("read response: %w", err)
	}
	return resp.StatusCode, raw, nil
}

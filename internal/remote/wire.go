package remote

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/localnerve/jam-build-sub001/internal/document"
)

// versionProperty is the reserved key carrying the document version in
// success bodies.
const versionProperty = "__version"

// Request is the engine-level shape of a remote call before it is
// rendered to HTTP.
type Request struct {
	Method      string
	StoreType   document.StoreType
	Document    string
	Collections []document.CollectionRef

	// Version is the caller's known document version, required on
	// mutations for the optimistic-concurrency check.
	Version int64

	// Payload carries property values for puts. Deletes and reads send
	// names only.
	Payload document.Collections
}

// ReadOnly reports whether the request mutates remote state.
func (r Request) ReadOnly() bool {
	return r.Method == http.MethodGet
}

// Op maps the HTTP method to the engine mutation kind.
func (r Request) Op() document.Op {
	if r.Method == http.MethodDelete {
		return document.OpDelete
	}
	return document.OpPut
}

// Path renders the request path and query per the versioned contract:
// GET  /api/data/{resource}/{document}[/{collection}]
// GET  /api/data/{resource}/{document}?collections=a,b
// POST /api/data/{resource}/{document}
// DELETE /api/data/{resource}/{document}[/{collection}]
func (r Request) Path() string {
	base := "/api/data/" + url.PathEscape(string(r.StoreType)) + "/" + url.PathEscape(r.Document)

	switch r.Method {
	case http.MethodGet:
		if len(r.Collections) == 1 {
			return base + "/" + url.PathEscape(r.Collections[0].Collection)
		}
		if len(r.Collections) > 1 {
			return base + "?collections=" + url.QueryEscape(strings.Join(document.RefNames(r.Collections), ","))
		}
	case http.MethodDelete:
		if len(r.Collections) == 1 && len(r.Collections[0].Properties) == 0 {
			return base + "/" + url.PathEscape(r.Collections[0].Collection)
		}
	}
	return base
}

// postBody is the POST wire shape.
type postBody struct {
	Version     string           `json:"version"`
	Collections []postCollection `json:"collections"`
}

type postCollection struct {
	Collection string              `json:"collection"`
	Properties document.Properties `json:"properties"`
}

// deleteBody is the DELETE wire shape. Collections is omitted for
// document-level deletes; a ref without properties deletes its whole
// collection.
type deleteBody struct {
	Version     string                   `json:"version"`
	Collections []document.CollectionRef `json:"collections,omitempty"`
}

// Body renders the request body, or nil for reads.
func (r Request) Body() ([]byte, error) {
	switch r.Method {
	case http.MethodPost:
		b := postBody{Version: document.FormatVersion(r.Version)}
		for _, ref := range r.Collections {
			b.Collections = append(b.Collections, postCollection{
				Collection: ref.Collection,
				Properties: r.Payload[ref.Collection],
			})
		}
		raw, err := json.Marshal(b)
		if err != nil {
			return nil, fmt.Errorf("encode post body: %w", err)
		}
		return raw, nil

	case http.MethodDelete:
		b := deleteBody{Version: document.FormatVersion(r.Version)}
		// A single whole-collection delete travels in the path.
		if !(len(r.Collections) == 1 && len(r.Collections[0].Properties) == 0) {
			b.Collections = r.Collections
		}
		raw, err := json.Marshal(b)
		if err != nil {
			return nil, fmt.Errorf("encode delete body: %w", err)
		}
		return raw, nil
	}
	return nil, nil
}

// DocumentData is one document from a success body: its authoritative
// version and collection property maps.
type DocumentData struct {
	Version     int64
	Collections document.Collections
}

// Response maps document names to their returned data.
type Response map[string]DocumentData

// ParseResponse decodes a success body of the shape
// { [document]: { __version, [collection]: { [property]: value } } }.
func ParseResponse(raw []byte) (Response, error) {
	var outer map[string]map[string]json.RawMessage
	if err := json.Unmarshal(raw, &outer); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	out := make(Response, len(outer))
	for doc, fields := range outer {
		data := DocumentData{Collections: make(document.Collections)}
		for name, rawField := range fields {
			if name == versionProperty {
				var encoded string
				if err := json.Unmarshal(rawField, &encoded); err != nil {
					return nil, fmt.Errorf("decode %s of %q: %w", versionProperty, doc, err)
				}
				v, err := document.ParseVersion(encoded)
				if err != nil {
					return nil, fmt.Errorf("decode %s of %q: %w", versionProperty, doc, err)
				}
				data.Version = v
				continue
			}
			var props document.Properties
			if err := json.Unmarshal(rawField, &props); err != nil {
				return nil, fmt.Errorf("decode collection %q of %q: %w", name, doc, err)
			}
			data.Collections[name] = props
		}
		out[doc] = data
	}
	return out, nil
}

// errorBody is the structured error shape on non-2xx responses.
type errorBody struct {
	VersionError bool   `json:"versionError"`
	Message      string `json:"message"`
}

// isVersionConflict inspects a non-2xx body for the structured
// version-conflict flag.
func isVersionConflict(raw []byte) bool {
	var b errorBody
	if err := json.Unmarshal(raw, &b); err != nil {
		return false
	}
	return b.VersionError
}

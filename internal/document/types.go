package document

import (
	"fmt"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// StoreType identifies the scope a document lives in. Application-scope
// documents are shared by all users of the installation; user-scope
// documents belong to the authenticated user and are cleared on logout.
type StoreType string

const (
	// StoreTypeApp is the shared application scope.
	StoreTypeApp StoreType = "app"
	// StoreTypeUser is the per-user scope.
	StoreTypeUser StoreType = "user"
)

// Valid reports whether the store type is one of the known scopes.
func (s StoreType) Valid() bool {
	return s == StoreTypeApp || s == StoreTypeUser
}

// Op is a mutation kind. The set is closed: local mutations are either
// upserts or deletes.
type Op string

const (
	// OpPut is a collection-granular upsert.
	OpPut Op = "put"
	// OpDelete is a document-, collection-, or property-granular delete.
	OpDelete Op = "delete"
)

// Valid reports whether the op is one of the known mutation kinds.
func (o Op) Valid() bool {
	return o == OpPut || o == OpDelete
}

// Properties is the property map of a single collection. Values are
// arbitrary JSON-shaped data (maps, slices, strings, numbers, bools).
type Properties map[string]any

// Copy returns a shallow copy of the property map.
// Nested values are shared with the receiver.
func (p Properties) Copy() Properties {
	if p == nil {
		return nil
	}
	out := make(Properties, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Collections maps collection names to their property maps.
type Collections map[string]Properties

// NormalizeName returns the NFC normal form of a document or collection
// name so byte-wise key equality matches what users see. Names arrive
// from UI contexts and may mix composed and decomposed forms.
func NormalizeName(name string) string {
	return norm.NFC.String(name)
}

// Key addresses a document: a store scope plus a document name.
type Key struct {
	StoreType StoreType
	Document  string
}

// NewKey builds a Key with a normalized document name.
func NewKey(storeType StoreType, doc string) Key {
	return Key{StoreType: storeType, Document: NormalizeName(doc)}
}

// Validate checks that the key addresses a real document.
func (k Key) Validate() error {
	if !k.StoreType.Valid() {
		return fmt.Errorf("invalid store type %q", k.StoreType)
	}
	if k.Document == "" {
		return fmt.Errorf("empty document name")
	}
	return nil
}

func (k Key) String() string {
	return string(k.StoreType) + ":" + k.Document
}

// CollectionKey addresses a collection within a document.
type CollectionKey struct {
	Key
	Collection string
}

// NewCollectionKey builds a CollectionKey with normalized names.
func NewCollectionKey(storeType StoreType, doc, collection string) CollectionKey {
	return CollectionKey{
		Key:        NewKey(storeType, doc),
		Collection: NormalizeName(collection),
	}
}

// Validate checks that the key addresses a real collection.
func (k CollectionKey) Validate() error {
	if err := k.Key.Validate(); err != nil {
		return err
	}
	if k.Collection == "" {
		return fmt.Errorf("empty collection name")
	}
	return nil
}

func (k CollectionKey) String() string {
	return k.Key.String() + ":" + k.Collection
}

// CollectionRef names a collection in a mutation request. For deletes,
// Properties lists the properties to remove; an empty list means the
// whole collection. Puts are always collection-granular, so their refs
// never carry properties.
type CollectionRef struct {
	Collection string   `json:"collection"`
	Properties []string `json:"properties,omitempty"`
}

// RefNames flattens refs to their collection names, in order.
func RefNames(refs []CollectionRef) []string {
	names := make([]string, len(refs))
	for i, r := range refs {
		names[i] = r.Collection
	}
	return names
}

// JoinRefs renders refs as a stable composite string, used for
// deduplicating replayed reads.
func JoinRefs(refs []CollectionRef) string {
	parts := make([]string, len(refs))
	for i, r := range refs {
		parts[i] = r.Collection
		if len(r.Properties) > 0 {
			parts[i] += "[" + strings.Join(r.Properties, ",") + "]"
		}
	}
	return strings.Join(parts, "|")
}

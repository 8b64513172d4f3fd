// Package channel carries the message protocol between the sync engine
// and its attached client contexts: a closed set of tagged message
// kinds with fixed payload shapes, transported as JSON over websocket.
package channel

import (
	"encoding/json"
	"fmt"

	"github.com/localnerve/jam-build-sub001/internal/document"
)

// Kind discriminates message payloads on the wire.
type Kind string

// Actions sent by client contexts.
const (
	KindRefreshData      Kind = "refresh-data"
	KindBatchUpdate      Kind = "batch-update"
	KindPutData          Kind = "put-data"
	KindDeleteData       Kind = "delete-data"
	KindMayUpdate        Kind = "may-update"
	KindLogout           Kind = "logout"
	KindVersion          Kind = "version"
	KindRuntimeUpdate    Kind = "runtime-update"
	KindHeartbeatStart   Kind = "heartbeat-start"
	KindHeartbeatBeat    Kind = "heartbeat-beat"
	KindHeartbeatStop    Kind = "heartbeat-stop"
	KindServiceTimersNow Kind = "service-timers-now"
)

// Notifications emitted by the engine.
const (
	KindDataUpdate       Kind = "database-data-update"
	KindUpdateRequired   Kind = "database-update-required"
	KindHeartbeatStopped Kind = "heartbeat-stopped"
	KindVersionReport    Kind = "version-report"
	KindMayUpdateReport  Kind = "may-update-report"
)

// Message is the closed union of channel payloads. Only types in this
// package implement it.
type Message interface {
	Kind() Kind
	sealed()
}

// RefreshData asks the engine to re-fetch a document from the remote
// service, falling back to local data when offline.
type RefreshData struct {
	StoreType document.StoreType `json:"storeType"`
	Document  string             `json:"document"`
}

// PutData upserts one collection's properties locally and schedules the
// sync.
type PutData struct {
	StoreType  document.StoreType  `json:"storeType"`
	Document   string              `json:"document"`
	Collection string              `json:"collection"`
	Properties document.Properties `json:"properties"`
}

// DeleteData removes data at document, collection, or property
// granularity and schedules the sync.
type DeleteData struct {
	StoreType  document.StoreType `json:"storeType"`
	Document   string             `json:"document"`
	Collection string             `json:"collection,omitempty"`
	Properties []string           `json:"properties,omitempty"`
}

// BatchUpdate logs a raw mutation intent without touching local data.
type BatchUpdate struct {
	StoreType  document.StoreType `json:"storeType"`
	Document   string             `json:"document"`
	Op         document.Op        `json:"op"`
	Collection string             `json:"collection,omitempty"`
	Property   string             `json:"property,omitempty"`
	Defer      bool               `json:"defer,omitempty"`
}

// MayUpdate asks whether a client may overwrite its in-memory model
// from the store, i.e. whether unsynced local changes exist.
type MayUpdate struct {
	StoreType document.StoreType `json:"storeType"`
	Document  string             `json:"document"`
}

// Logout clears all user-scope state.
type Logout struct{}

// Version asks for the engine's API version.
type Version struct{}

// RuntimeUpdate tells the engine a new runtime is waiting to take over.
type RuntimeUpdate struct{}

// HeartbeatStart registers the sender as a live client for a timer name.
type HeartbeatStart struct {
	Name string `json:"name"`
}

// HeartbeatBeat is the periodic "I'm alive" signal.
type HeartbeatBeat struct {
	Name string `json:"name"`
}

// HeartbeatStop reports the sender inactive for a timer name.
type HeartbeatStop struct {
	Name string `json:"name"`
}

// ServiceTimersNow force-fires every pending deferred timer, typically
// sent when a context is about to unload.
type ServiceTimersNow struct{}

// DataUpdate notifies clients that documents changed in the local
// store. Changed maps document names to the collections rewritten.
type DataUpdate struct {
	StoreType document.StoreType  `json:"storeType"`
	Changed   map[string][]string `json:"changed"`
	Message   string              `json:"message,omitempty"`
}

// UpdateRequired notifies clients that a schema migration is blocked by
// another open context and a reload is needed.
type UpdateRequired struct{}

// HeartbeatStopped notifies clients that a deferred timer tore down.
type HeartbeatStopped struct {
	Name string `json:"name"`
}

// VersionReport answers a Version action.
type VersionReport struct {
	APIVersion string `json:"apiVersion"`
}

// MayUpdateReport answers a MayUpdate action.
type MayUpdateReport struct {
	StoreType document.StoreType `json:"storeType"`
	Document  string             `json:"document"`
	MayUpdate bool               `json:"mayUpdate"`
}

func (RefreshData) Kind() Kind      { return KindRefreshData }
func (PutData) Kind() Kind          { return KindPutData }
func (DeleteData) Kind() Kind       { return KindDeleteData }
func (BatchUpdate) Kind() Kind      { return KindBatchUpdate }
func (MayUpdate) Kind() Kind        { return KindMayUpdate }
func (Logout) Kind() Kind           { return KindLogout }
func (Version) Kind() Kind          { return KindVersion }
func (RuntimeUpdate) Kind() Kind    { return KindRuntimeUpdate }
func (HeartbeatStart) Kind() Kind   { return KindHeartbeatStart }
func (HeartbeatBeat) Kind() Kind    { return KindHeartbeatBeat }
func (HeartbeatStop) Kind() Kind    { return KindHeartbeatStop }
func (ServiceTimersNow) Kind() Kind { return KindServiceTimersNow }
func (DataUpdate) Kind() Kind       { return KindDataUpdate }
func (UpdateRequired) Kind() Kind   { return KindUpdateRequired }
func (HeartbeatStopped) Kind() Kind { return KindHeartbeatStopped }
func (VersionReport) Kind() Kind    { return KindVersionReport }
func (MayUpdateReport) Kind() Kind  { return KindMayUpdateReport }

func (RefreshData) sealed()      {}
func (PutData) sealed()          {}
func (DeleteData) sealed()       {}
func (BatchUpdate) sealed()      {}
func (MayUpdate) sealed()        {}
func (Logout) sealed()           {}
func (Version) sealed()          {}
func (RuntimeUpdate) sealed()    {}
func (HeartbeatStart) sealed()   {}
func (HeartbeatBeat) sealed()    {}
func (HeartbeatStop) sealed()    {}
func (ServiceTimersNow) sealed() {}
func (DataUpdate) sealed()       {}
func (UpdateRequired) sealed()   {}
func (HeartbeatStopped) sealed() {}
func (VersionReport) sealed()    {}
func (MayUpdateReport) sealed()  {}

// envelope is the wire shape: the kind discriminator plus the payload.
type envelope struct {
	Kind    Kind            `json:"kind"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Encode renders a message to its wire form.
func Encode(m Message) ([]byte, error) {
	payload, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", m.Kind(), err)
	}
	raw, err := json.Marshal(envelope{Kind: m.Kind(), Payload: payload})
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", m.Kind(), err)
	}
	return raw, nil
}

// Decode parses a wire message. Unknown kinds are rejected: the union
// is closed.
func Decode(raw []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}

	var m Message
	switch env.Kind {
	case KindRefreshData:
		m = &RefreshData{}
	case KindPutData:
		m = &PutData{}
	case KindDeleteData:
		m = &DeleteData{}
	case KindBatchUpdate:
		m = &BatchUpdate{}
	case KindMayUpdate:
		m = &MayUpdate{}
	case KindLogout:
		m = &Logout{}
	case KindVersion:
		m = &Version{}
	case KindRuntimeUpdate:
		m = &RuntimeUpdate{}
	case KindHeartbeatStart:
		m = &HeartbeatStart{}
	case KindHeartbeatBeat:
		m = &HeartbeatBeat{}
	case KindHeartbeatStop:
		m = &HeartbeatStop{}
	case KindServiceTimersNow:
		m = &ServiceTimersNow{}
	case KindDataUpdate:
		m = &DataUpdate{}
	case KindUpdateRequired:
		m = &UpdateRequired{}
	case KindHeartbeatStopped:
		m = &HeartbeatStopped{}
	case KindVersionReport:
		m = &VersionReport{}
	case KindMayUpdateReport:
		m = &MayUpdateReport{}
	default:
		return nil, fmt.Errorf("unknown message kind %q", env.Kind)
	}

	if len(env.Payload) > 0 {
		if err := json.Unmarshal(env.Payload, m); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", env.Kind, err)
		}
	}
	return deref(m), nil
}

// deref returns the value form so type switches match value types.
func deref(m Message) Message {
	switch v := m.(type) {
	case *RefreshData:
		return *v
	case *PutData:
		return *v
	case *DeleteData:
		return *v
	case *BatchUpdate:
		return *v
	case *MayUpdate:
		return *v
	case *Logout:
		return *v
	case *Version:
		return *v
	case *RuntimeUpdate:
		return *v
	case *HeartbeatStart:
		return *v
	case *HeartbeatBeat:
		return *v
	case *HeartbeatStop:
		return *v
	case *ServiceTimersNow:
		return *v
	case *DataUpdate:
		return *v
	case *UpdateRequired:
		return *v
	case *HeartbeatStopped:
		return *v
	case *VersionReport:
		return *v
	case *MayUpdateReport:
		return *v
	}
	return m
}

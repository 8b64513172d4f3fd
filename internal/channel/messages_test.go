package channel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/localnerve/jam-build-sub001/internal/document"
)

func TestEncodeDecode_RoundTrip(t *testing.T) {
	cases := []Message{
		RefreshData{StoreType: document.StoreTypeUser, Document: "home"},
		PutData{
			StoreType:  document.StoreTypeUser,
			Document:   "home",
			Collection: "contact",
			Properties: document.Properties{"email": "a@x.com"},
		},
		DeleteData{
			StoreType:  document.StoreTypeUser,
			Document:   "home",
			Collection: "contact",
			Properties: []string{"email"},
		},
		BatchUpdate{
			StoreType:  document.StoreTypeApp,
			Document:   "settings",
			Op:         document.OpPut,
			Collection: "theme",
			Defer:      true,
		},
		MayUpdate{StoreType: document.StoreTypeUser, Document: "home"},
		Logout{},
		Version{},
		RuntimeUpdate{},
		HeartbeatStart{Name: "batch-update"},
		HeartbeatBeat{Name: "batch-update"},
		HeartbeatStop{Name: "batch-update"},
		ServiceTimersNow{},
		DataUpdate{
			StoreType: document.StoreTypeUser,
			Changed:   map[string][]string{"home": {"contact"}},
			Message:   "merged remote changes",
		},
		UpdateRequired{},
		HeartbeatStopped{Name: "batch-update"},
		VersionReport{APIVersion: "1"},
		MayUpdateReport{StoreType: document.StoreTypeUser, Document: "home", MayUpdate: true},
	}

	for _, msg := range cases {
		t.Run(string(msg.Kind()), func(t *testing.T) {
			raw, err := Encode(msg)
			require.NoError(t, err)

			got, err := Decode(raw)
			require.NoError(t, err)
			assert.Equal(t, msg.Kind(), got.Kind())
			assert.Equal(t, msg, got, "payload must survive the wire")
		})
	}
}

func TestDecode_RejectsUnknownKind(t *testing.T) {
	_, err := Decode([]byte(`{"kind": "drop-tables", "payload": {}}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown message kind")
}

func TestDecode_RejectsGarbage(t *testing.T) {
	_, err := Decode([]byte(`not json at all`))
	require.Error(t, err)
}

// Decoded messages are value types so engine dispatch can type-switch
// without pointer cases.
func TestDecode_YieldsValueTypes(t *testing.T) {
	raw, err := Encode(PutData{StoreType: document.StoreTypeUser, Document: "home", Collection: "c"})
	require.NoError(t, err)

	got, err := Decode(raw)
	require.NoError(t, err)

	switch m := got.(type) {
	case PutData:
		assert.Equal(t, "home", m.Document)
	default:
		t.Fatalf("want PutData value, got %T", got)
	}
}

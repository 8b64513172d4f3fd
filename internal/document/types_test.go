package document

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewKey_NormalizesName(t *testing.T) {
	// "é" decomposed (e + combining acute) vs composed
	decomposed := "café"
	composed := "café"

	a := NewKey(StoreTypeUser, decomposed)
	b := NewKey(StoreTypeUser, composed)
	assert.Equal(t, a, b, "NFC-equal names must produce equal keys")
}

func TestKeyValidate(t *testing.T) {
	require.NoError(t, NewKey(StoreTypeApp, "home").Validate())
	assert.Error(t, Key{StoreType: "bogus", Document: "home"}.Validate())
	assert.Error(t, Key{StoreType: StoreTypeApp}.Validate())

	require.NoError(t, NewCollectionKey(StoreTypeUser, "home", "contact").Validate())
	assert.Error(t, CollectionKey{Key: NewKey(StoreTypeUser, "home")}.Validate())
}

func TestOpAndStoreTypeValid(t *testing.T) {
	assert.True(t, OpPut.Valid())
	assert.True(t, OpDelete.Valid())
	assert.False(t, Op("upsert").Valid())

	assert.True(t, StoreTypeApp.Valid())
	assert.True(t, StoreTypeUser.Valid())
	assert.False(t, StoreType("session").Valid())
}

func TestJoinRefs(t *testing.T) {
	refs := []CollectionRef{
		{Collection: "contact"},
		{Collection: "prefs", Properties: []string{"theme", "lang"}},
	}
	assert.Equal(t, "contact|prefs[theme,lang]", JoinRefs(refs))
	assert.Equal(t, []string{"contact", "prefs"}, RefNames(refs))
}

func TestPropertiesCopy(t *testing.T) {
	p := Properties{"a": 1}
	c := p.Copy()
	c["b"] = 2
	assert.Len(t, p, 1)
	assert.Nil(t, Properties(nil).Copy())
}

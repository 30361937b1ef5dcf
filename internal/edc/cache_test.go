package edc

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPutThenGetRoundTrips(t *testing.T) {
	c := New(t.TempDir(), 0, nil)
	require.NoError(t, c.Put("react", "hooks", []byte(`{"foo":"bar"}`)))

	docs, ok := c.Get("react", "hooks")
	require.True(t, ok)
	assert.JSONEq(t, `{"foo":"bar"}`, string(docs))
}

func TestGetMissesOnUnknownKey(t *testing.T) {
	c := New(t.TempDir(), 0, nil)
	_, ok := c.Get("react", "hooks")
	assert.False(t, ok)
}

func TestGetMissesOnExpiredEntry(t *testing.T) {
	c := New(t.TempDir(), 10*time.Millisecond, nil)
	require.NoError(t, c.Put("react", "hooks", []byte(`{}`)))
	time.Sleep(20 * time.Millisecond)

	_, ok := c.Get("react", "hooks")
	assert.False(t, ok)
}

func TestKeyIsStableAndSixteenHexChars(t *testing.T) {
	k1 := Key("react", "hooks")
	k2 := Key("react", "hooks")
	assert.Equal(t, k1, k2)
	assert.Len(t, k1, 16)
}

func TestKeyDiffersByQuery(t *testing.T) {
	assert.NotEqual(t, Key("react", "hooks"), Key("react", "routing"))
}

func TestPutEvictsOldestTenPercentAtCapacity(t *testing.T) {
	c := New(t.TempDir(), 0, nil)
	for i := 0; i < MaxEntries; i++ {
		require.NoError(t, c.Put("lib", string(rune('a'+i%26))+string(rune(i)), []byte(`{}`)))
	}
	require.Equal(t, MaxEntries, c.Len())

	require.NoError(t, c.Put("lib", "one-more", []byte(`{}`)))
	assert.Equal(t, MaxEntries-MaxEntries/10+1, c.Len())
}

func TestReopeningCacheLoadsPersistedIndex(t *testing.T) {
	dir := t.TempDir()
	c1 := New(dir, 0, nil)
	require.NoError(t, c1.Put("vue", "composition-api", []byte(`{"x":1}`)))

	c2 := New(dir, 0, nil)
	docs, ok := c2.Get("vue", "composition-api")
	require.True(t, ok)
	assert.JSONEq(t, `{"x":1}`, string(docs))
}

func TestGetTreatsCorruptDataFileAsMiss(t *testing.T) {
	dir := t.TempDir()
	c := New(dir, 0, nil)
	require.NoError(t, c.Put("react", "hooks", []byte(`{}`)))

	key := Key("react", "hooks")
	require.NoError(t, writeFile(filepath.Join(dir, "data", key+".json"), []byte("not json")))

	_, ok := c.Get("react", "hooks")
	assert.False(t, ok)
}

func writeFile(path string, data []byte) error {
	return atomicWrite(path, data)
}

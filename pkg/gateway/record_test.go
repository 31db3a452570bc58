package gateway

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenRecordFileCreates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "__bot.json")

	rf, rec, err := OpenRecordFile(path)
	require.NoError(t, err)
	defer func() { _ = rf.Close() }()

	assert.Nil(t, rec)
	assert.FileExists(t, path)
}

func TestRecordRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "__bot.json")

	rf, _, err := OpenRecordFile(path)
	require.NoError(t, err)

	want := &Record{SessionID: "sess-1", SN: 42, Gateway: "wss://gw.example/ws?token=t"}
	require.NoError(t, rf.Write(want))
	require.NoError(t, rf.Close())

	rf, rec, err := OpenRecordFile(path)
	require.NoError(t, err)
	defer func() { _ = rf.Close() }()

	require.NotNil(t, rec)
	assert.Equal(t, want, rec)
}

func TestOpenRecordFileEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "__bot.json")
	require.NoError(t, os.WriteFile(path, []byte("  \n"), 0o644))

	rf, rec, err := OpenRecordFile(path)
	require.NoError(t, err)
	defer func() { _ = rf.Close() }()

	assert.Nil(t, rec)
}

func TestOpenRecordFileCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "__bot.json")
	require.NoError(t, os.WriteFile(path, []byte("not json"), 0o644))

	_, _, err := OpenRecordFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "delete the file")
}

func TestRecordRewriteLeavesNoTrailingData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "__bot.json")

	rf, _, err := OpenRecordFile(path)
	require.NoError(t, err)
	defer func() { _ = rf.Close() }()

	long := &Record{SessionID: "a-rather-long-session-identifier", SN: 123456, Gateway: "wss://gw.example/ws?token=abcdefgh"}
	require.NoError(t, rf.Write(long))

	short := &Record{SessionID: "s", SN: 1, Gateway: "wss://g"}
	require.NoError(t, rf.Write(short))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)

	var rec Record
	require.NoError(t, json.Unmarshal(raw, &rec))
	assert.Equal(t, *short, rec)
}

package io

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteJSONAtomic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "history.json")

	require.NoError(t, WriteJSONAtomic(path, map[string]int{"stamps": 3}))
	require.NoError(t, WriteJSONAtomic(path, map[string]int{"stamps": 4}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var got map[string]int
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, 4, got["stamps"])

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0644), info.Mode().Perm())
}

func TestWriteJSONAtomic_EncodeError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	err := WriteJSONAtomic(path, map[string]interface{}{"ch": make(chan int)})
	require.Error(t, err)
	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))
}

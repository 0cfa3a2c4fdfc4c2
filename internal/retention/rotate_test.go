package retention

import (
	"archive/tar"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readBundle(t *testing.T, path string) map[string]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	gz, err := gzip.NewReader(f)
	require.NoError(t, err)
	tr := tar.NewReader(gz)

	out := map[string]string{}
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		data, err := io.ReadAll(tr)
		require.NoError(t, err)
		out[hdr.Name] = string(data)
	}
	return out
}

func TestRotate(t *testing.T) {
	dir := t.TempDir()
	audit := filepath.Join(dir, "batch.log")
	scrape := filepath.Join(dir, "scrape-live.log")
	empty := filepath.Join(dir, "speculate-live.log")
	require.NoError(t, os.WriteFile(audit, []byte("run started\nrun finished\n"), 0644))
	require.NoError(t, os.WriteFile(scrape, []byte("scraped 12 balances\n"), 0644))
	require.NoError(t, os.WriteFile(empty, nil, 0644))

	archive := filepath.Join(dir, "archive")
	r := NewLogRotator([]string{audit, scrape, empty, filepath.Join(dir, "absent.log")}, archive, nil)
	day := time.Date(2026, 4, 12, 3, 0, 0, 0, time.UTC)

	bundle, err := r.Rotate(day)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(archive, "logs-20260412.tar.gz"), bundle)

	contents := readBundle(t, bundle)
	assert.Equal(t, map[string]string{
		"batch.log":       "run started\nrun finished\n",
		"scrape-live.log": "scraped 12 balances\n",
	}, contents)

	for _, path := range []string{audit, scrape} {
		info, err := os.Stat(path)
		require.NoError(t, err)
		assert.Zero(t, info.Size(), "%s truncated in place", path)
	}

	// Nothing new: no second bundle
	bundle, err = r.Rotate(day)
	require.NoError(t, err)
	assert.Empty(t, bundle)
	entries, err := os.ReadDir(archive)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestRotate_SameDaySuffix(t *testing.T) {
	dir := t.TempDir()
	logFile := filepath.Join(dir, "batch.log")
	r := NewLogRotator([]string{logFile}, filepath.Join(dir, "archive"), nil)
	day := time.Date(2026, 4, 12, 3, 0, 0, 0, time.UTC)

	var bundles []string
	for i := 0; i < 3; i++ {
		require.NoError(t, os.WriteFile(logFile, []byte("line\n"), 0644))
		bundle, err := r.Rotate(day)
		require.NoError(t, err)
		bundles = append(bundles, filepath.Base(bundle))
	}

	assert.Equal(t, []string{"logs-20260412.tar.gz", "logs-20260412-1.tar.gz", "logs-20260412-2.tar.gz"}, bundles)
}

func TestRotate_AppendingWriterSurvivesTruncate(t *testing.T) {
	dir := t.TempDir()
	logFile := filepath.Join(dir, "scrape-live.log")
	w, err := os.OpenFile(logFile, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
	require.NoError(t, err)
	defer w.Close()

	_, err = w.WriteString("before\n")
	require.NoError(t, err)

	_, err = NewLogRotator([]string{logFile}, filepath.Join(dir, "archive"), nil).Rotate(time.Now())
	require.NoError(t, err)

	_, err = w.WriteString("after\n")
	require.NoError(t, err)

	data, err := os.ReadFile(logFile)
	require.NoError(t, err)
	assert.Equal(t, "after\n", string(data))
}

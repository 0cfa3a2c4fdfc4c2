package retention

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/exledger/internal/metrics"
)

// LogRotator archives the operational logs into one dated bundle and
// truncates them in place. Writers keep their O_APPEND descriptors, so
// truncation does not disturb a running batch.
type LogRotator struct {
	files      []string
	archiveDir string
	metrics    *metrics.Registry
}

// NewLogRotator creates a rotator for files
func NewLogRotator(files []string, archiveDir string, m *metrics.Registry) *LogRotator {
	if m == nil {
		m = metrics.NewRegistry()
	}
	return &LogRotator{files: files, archiveDir: archiveDir, metrics: m}
}

// Rotate bundles every non-empty log into archive_dir/logs-YYYYMMDD.tar.gz
// and truncates it. With nothing to archive no bundle is written and the
// returned path is empty, so running it twice is harmless.
func (r *LogRotator) Rotate(now time.Time) (string, error) {
	var pending []string
	for _, path := range r.files {
		info, err := os.Stat(path)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("stat %s: %w", path, err)
		}
		if info.Size() > 0 {
			pending = append(pending, path)
		}
	}
	if len(pending) == 0 {
		log.Info().Msg("No log content to rotate")
		return "", nil
	}

	if err := os.MkdirAll(r.archiveDir, 0755); err != nil {
		return "", fmt.Errorf("create archive directory: %w", err)
	}
	bundle, f, err := r.createBundle(now)
	if err != nil {
		return "", err
	}

	sizes, err := writeBundle(f, pending)
	if cerr := f.Close(); err == nil && cerr != nil {
		err = cerr
	}
	if err != nil {
		os.Remove(bundle)
		return "", fmt.Errorf("write %s: %w", bundle, err)
	}

	var total int64
	for i, path := range pending {
		// Lines appended after addFile sized the entry are dropped here.
		if err := os.Truncate(path, 0); err != nil {
			return bundle, fmt.Errorf("truncate %s: %w", path, err)
		}
		total += sizes[i]
	}
	r.metrics.RotatedBytes.Add(float64(total))

	log.Info().Str("bundle", bundle).Int("files", len(pending)).Int64("bytes", total).Msg("Logs rotated")
	return bundle, nil
}

// createBundle exclusively creates the dated bundle, adding -1, -2, ...
// when an earlier rotation of the same day exists.
func (r *LogRotator) createBundle(now time.Time) (string, *os.File, error) {
	base := "logs-" + now.UTC().Format("20060102")
	for n := 0; ; n++ {
		name := base
		if n > 0 {
			name = fmt.Sprintf("%s-%d", base, n)
		}
		path := filepath.Join(r.archiveDir, name+".tar.gz")
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if err != nil {
			return "", nil, fmt.Errorf("create %s: %w", path, err)
		}
		return path, f, nil
	}
}

func writeBundle(w io.Writer, files []string) ([]int64, error) {
	gz := gzip.NewWriter(w)
	tw := tar.NewWriter(gz)
	sizes := make([]int64, len(files))

	for i, path := range files {
		n, err := addFile(tw, path)
		if err != nil {
			return nil, err
		}
		sizes[i] = n
	}

	if err := tw.Close(); err != nil {
		return nil, err
	}
	if err := gz.Close(); err != nil {
		return nil, err
	}
	return sizes, nil
}

func addFile(tw *tar.Writer, path string) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return 0, err
	}
	// The size is fixed at header time; later appends stay in the live file.
	size := info.Size()
	hdr := &tar.Header{
		Name:    filepath.Base(path),
		Mode:    0644,
		Size:    size,
		ModTime: info.ModTime(),
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return 0, err
	}
	if _, err := io.CopyN(tw, f, size); err != nil {
		return 0, fmt.Errorf("archive %s: %w", path, err)
	}
	return size, nil
}

package transcript

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// ErrOutput is wrapped by failures creating or writing the transcript file.
var ErrOutput = errors.New("transcript output error")

// OutputPath derives the transcript path: a trailing ".wav" (any case) is
// removed and ".txt" appended. Other occurrences of ".wav" in the name are
// kept. When outputDir is set the file goes there instead of next to the
// audio.
func OutputPath(audioPath, outputDir string) string {
	base := audioPath
	if strings.HasSuffix(strings.ToLower(base), ".wav") {
		base = base[:len(base)-len(".wav")]
	}
	out := base + ".txt"
	if outputDir != "" {
		out = filepath.Join(outputDir, filepath.Base(out))
	}
	return out
}

// partialSuffix names the marker that sits next to a transcript until its
// run finishes successfully.
const partialSuffix = ".partial"

// PartialMarker returns the in-progress marker path for a transcript.
func PartialMarker(path string) string { return path + partialSuffix }

// Completed reports whether path holds the transcript of a run that finished
// without error. Interrupted or failed runs leave their lines on disk but keep
// the marker, so they are not mistaken for finished work.
func Completed(path string) bool {
	if _, err := os.Stat(path); err != nil {
		return false
	}
	_, err := os.Stat(PartialMarker(path))
	return errors.Is(err, fs.ErrNotExist)
}

// FileWriter writes "text,start,end" lines. Each record is synced to disk
// before WriteRecord returns, so a later failure never loses earlier lines.
type FileWriter struct {
	path string
	f    *os.File
}

// NewFileWriter creates (or truncates) the transcript file at path and marks
// it partial until Finish sees a successful run.
func NewFileWriter(path string) (*FileWriter, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("%w: create output dir: %v", ErrOutput, err)
		}
	}
	if err := os.WriteFile(PartialMarker(path), nil, 0o644); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOutput, err)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOutput, err)
	}
	return &FileWriter{path: path, f: f}, nil
}

func (w *FileWriter) WriteRecord(_ context.Context, rec Record) error {
	if w.f == nil {
		return fmt.Errorf("%w: %s already closed", ErrOutput, w.path)
	}
	if _, err := w.f.WriteString(rec.Line() + "\n"); err != nil {
		return fmt.Errorf("%w: write %s: %v", ErrOutput, w.path, err)
	}
	if err := w.f.Sync(); err != nil {
		return fmt.Errorf("%w: sync %s: %v", ErrOutput, w.path, err)
	}
	return nil
}

// Finish closes the file and, if the run succeeded, clears the partial
// marker. It is safe to call more than once.
func (w *FileWriter) Finish(_ context.Context, res RunResult) error {
	if err := w.Close(); err != nil {
		return err
	}
	if res.Err != nil {
		return nil
	}
	if err := os.Remove(PartialMarker(w.path)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: clear marker: %v", ErrOutput, err)
	}
	return nil
}

func (w *FileWriter) Close() error {
	if w.f == nil {
		return nil
	}
	err := w.f.Close()
	w.f = nil
	if err != nil {
		return fmt.Errorf("%w: close %s: %v", ErrOutput, w.path, err)
	}
	return nil
}

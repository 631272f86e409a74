// Package model locates speech-to-text model files and reads them once at
// startup so load times and fingerprints can be reported.
package model

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"lukechampine.com/blake3"
)

// ErrNotFound is wrapped when the model directory lacks a required file.
var ErrNotFound = errors.New("model not found")

// Files are the resolved paths inside a model directory. Scorer is empty for
// engines that do not use one.
type Files struct {
	Dir    string
	Graph  string
	Scorer string
}

// layout describes which files an engine needs.
type layout struct {
	graph  []string
	scorer []string // nil when the engine has no scorer
}

var layouts = map[string]layout{
	"deepspeech": {graph: []string{"*.pbmm", "*.tflite"}, scorer: []string{"*.scorer"}},
	"whisper":    {graph: []string{"*.bin", "*.gguf"}},
}

// Resolve finds the acoustic graph (and scorer, if the engine needs one)
// inside dir. When several files match, the lexically first wins.
func Resolve(dir, engine string) (Files, error) {
	lay, ok := layouts[engine]
	if !ok {
		return Files{}, fmt.Errorf("unknown engine %q", engine)
	}

	info, err := os.Stat(dir)
	if err != nil {
		return Files{}, fmt.Errorf("%w: model directory %s: %v", ErrNotFound, dir, err)
	}
	if !info.IsDir() {
		return Files{}, fmt.Errorf("%w: %s is not a directory", ErrNotFound, dir)
	}

	files := Files{Dir: dir}
	files.Graph, err = first(dir, lay.graph)
	if err != nil {
		return Files{}, err
	}
	if files.Graph == "" {
		return Files{}, fmt.Errorf("%w: no %s model graph (%s) in %s", ErrNotFound, engine, strings.Join(lay.graph, ", "), dir)
	}

	if lay.scorer != nil {
		files.Scorer, err = first(dir, lay.scorer)
		if err != nil {
			return Files{}, err
		}
		if files.Scorer == "" {
			return Files{}, fmt.Errorf("%w: no scorer (%s) in %s", ErrNotFound, strings.Join(lay.scorer, ", "), dir)
		}
	}
	return files, nil
}

func first(dir string, patterns []string) (string, error) {
	var matches []string
	for _, p := range patterns {
		m, err := filepath.Glob(filepath.Join(dir, p))
		if err != nil {
			return "", fmt.Errorf("glob %s: %w", p, err)
		}
		matches = append(matches, m...)
	}
	if len(matches) == 0 {
		return "", nil
	}
	sort.Strings(matches)
	return matches[0], nil
}

// LoadStats reports how long each model file took to read and its blake3
// fingerprint (hex). Scorer fields are zero when there is no scorer.
type LoadStats struct {
	GraphHash  string
	ScorerHash string
	GraphLoad  time.Duration
	ScorerLoad time.Duration
}

// Load reads every resolved file end to end, hashing it. This also warms
// the page cache before the engine maps the same files.
func Load(files Files) (LoadStats, error) {
	var stats LoadStats
	var err error

	stats.GraphHash, stats.GraphLoad, err = hashFile(files.Graph)
	if err != nil {
		return LoadStats{}, err
	}
	if files.Scorer != "" {
		stats.ScorerHash, stats.ScorerLoad, err = hashFile(files.Scorer)
		if err != nil {
			return LoadStats{}, err
		}
	}
	return stats, nil
}

func hashFile(path string) (string, time.Duration, error) {
	start := time.Now()
	f, err := os.Open(path)
	if err != nil {
		return "", 0, fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	defer f.Close()

	h := blake3.New(32, nil)
	if _, err := io.Copy(h, f); err != nil {
		return "", 0, fmt.Errorf("hash %s: %w", filepath.Base(path), err)
	}
	return hex.EncodeToString(h.Sum(nil)), time.Since(start), nil
}

package audio

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// IsWAV reports whether path has a .wav extension (any case).
func IsWAV(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".wav")
}

// ResolveInputs expands path into the list of WAV files to transcribe.
// A file is returned as-is; a directory yields its *.wav entries (not
// recursive) in lexical order.
func ResolveInputs(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("audio input: %w", err)
	}
	if !info.IsDir() {
		return []string{path}, nil
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("read audio dir: %w", err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || !IsWAV(e.Name()) {
			continue
		}
		files = append(files, filepath.Join(path, e.Name()))
	}
	sort.Strings(files)
	if len(files) == 0 {
		return nil, fmt.Errorf("audio input: no .wav files in %s", path)
	}
	return files, nil
}

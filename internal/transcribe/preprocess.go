package transcribe

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sync"
)

var (
	soxOnce      sync.Once
	soxAvailable bool
)

// CheckSox checks if sox is available in PATH. The lookup runs once.
func CheckSox() bool {
	soxOnce.Do(func() {
		_, err := exec.LookPath("sox")
		soxAvailable = err == nil
	})
	return soxAvailable
}

// Resample converts inputPath to targetRate mono with sox and returns the
// path to a temporary WAV file plus its cleanup function. If sox is
// unavailable, the original path is returned with a no-op cleanup.
func Resample(ctx context.Context, inputPath string, targetRate int) (string, func(), error) {
	noop := func() {}

	if !CheckSox() {
		return inputPath, noop, nil
	}

	tmp, err := os.CreateTemp("", "vad-resample-*.wav")
	if err != nil {
		return inputPath, noop, fmt.Errorf("create temp file: %w", err)
	}
	outPath := tmp.Name()
	tmp.Close()

	cmd := exec.CommandContext(ctx, "sox",
		inputPath, outPath,
		"rate", fmt.Sprintf("%d", targetRate),
		"channels", "1",
	)
	if out, err := cmd.CombinedOutput(); err != nil {
		os.Remove(outPath)
		return inputPath, noop, fmt.Errorf("sox resample: %w: %s", err, out)
	}

	return outPath, func() { os.Remove(outPath) }, nil
}

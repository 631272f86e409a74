package transcribe

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/snarg/vad-transcriber/internal/audio"
	"github.com/snarg/vad-transcriber/internal/model"
)

// DeepSpeechOptions configures the deepspeech CLI backend.
type DeepSpeechOptions struct {
	Binary     string // path or name of the deepspeech executable
	Models     model.Files
	SampleRate int  // engine input rate; 0 skips resampling
	Preprocess bool // resample with sox when the segment rate differs
	Log        zerolog.Logger
}

// DeepSpeechEngine runs the deepspeech CLI once per segment.
type DeepSpeechEngine struct {
	opts DeepSpeechOptions
	log  zerolog.Logger
}

// NewDeepSpeechEngine checks that the binary is resolvable and returns the
// engine. Sox availability is reported once here.
func NewDeepSpeechEngine(opts DeepSpeechOptions) (*DeepSpeechEngine, error) {
	if opts.Binary == "" {
		opts.Binary = "deepspeech"
	}
	bin, err := exec.LookPath(opts.Binary)
	if err != nil {
		return nil, fmt.Errorf("deepspeech binary %q: %w", opts.Binary, err)
	}
	opts.Binary = bin

	log := opts.Log.With().Str("engine", "deepspeech").Logger()
	if opts.Preprocess && opts.SampleRate > 0 {
		if CheckSox() {
			log.Info().Int("rate", opts.SampleRate).Msg("resampling enabled (sox found)")
		} else {
			log.Warn().Msg("PREPROCESS_AUDIO=true but sox not found in PATH; segments passed at source rate")
		}
	}
	return &DeepSpeechEngine{opts: opts, log: log}, nil
}

func (e *DeepSpeechEngine) Name() string { return "deepspeech" }

// Transcribe writes the segment to a temporary WAV, resamples it if needed,
// and returns the CLI's stdout as the transcript.
func (e *DeepSpeechEngine) Transcribe(ctx context.Context, samples []int16, sampleRate int) (Result, error) {
	wavPath, cleanup, err := audio.WriteTemp(samples, sampleRate)
	if err != nil {
		return Result{}, err
	}
	defer cleanup()

	if e.opts.Preprocess && e.opts.SampleRate > 0 && sampleRate != e.opts.SampleRate {
		resampled, cleanupResampled, err := Resample(ctx, wavPath, e.opts.SampleRate)
		if err != nil {
			e.log.Warn().Err(err).Msg("resample failed, using source rate")
		} else {
			defer cleanupResampled()
			wavPath = resampled
		}
	}

	args := []string{"--model", e.opts.Models.Graph}
	if e.opts.Models.Scorer != "" {
		args = append(args, "--scorer", e.opts.Models.Scorer)
	}
	args = append(args, "--audio", wavPath)

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, e.opts.Binary, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err = cmd.Run()
	elapsed := time.Since(start)
	if err != nil {
		msg := strings.TrimSpace(stderr.String())
		if len(msg) > 500 {
			msg = msg[len(msg)-500:]
		}
		return Result{}, fmt.Errorf("deepspeech: %w: %s", err, msg)
	}

	return Result{
		Text:    lastLine(stdout.String()),
		Elapsed: elapsed,
	}, nil
}

// lastLine returns the final non-empty line; the CLI prints banners before
// the transcript on some builds.
func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if l := strings.TrimSpace(lines[i]); l != "" {
			return l
		}
	}
	return ""
}

// Package pipeline wires the frame source, segmenter, transcription engine
// and transcript sinks together for one audio file at a time.
package pipeline

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/snarg/vad-transcriber/internal/config"
	"github.com/snarg/vad-transcriber/internal/model"
	"github.com/snarg/vad-transcriber/internal/transcribe"
)

// Session holds the model state shared by every file in a run. It is built
// once at startup and passed explicitly.
type Session struct {
	Models      model.Files
	Load        model.LoadStats
	Transcriber transcribe.Transcriber
}

// NewSession resolves and reads the model files, then builds the configured
// engine around them.
func NewSession(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*Session, error) {
	files, err := model.Resolve(cfg.ModelDir, cfg.Engine)
	if err != nil {
		return nil, err
	}

	stats, err := model.Load(files)
	if err != nil {
		return nil, err
	}
	log.Info().
		Str("graph", files.Graph).
		Str("graph_blake3", stats.GraphHash).
		Dur("graph_load", stats.GraphLoad).
		Str("scorer", files.Scorer).
		Str("scorer_blake3", stats.ScorerHash).
		Dur("scorer_load", stats.ScorerLoad).
		Msg("model loaded")

	var engine transcribe.Transcriber
	switch cfg.Engine {
	case "deepspeech":
		engine, err = transcribe.NewDeepSpeechEngine(transcribe.DeepSpeechOptions{
			Binary:     cfg.DeepSpeechBin,
			Models:     files,
			SampleRate: cfg.EngineSampleRate,
			Preprocess: cfg.PreprocessAudio,
			Log:        log,
		})
		if err != nil {
			return nil, err
		}
	case "whisper":
		engine = transcribe.NewWhisperEngine(transcribe.WhisperOptions{
			URL:         cfg.WhisperURL,
			Model:       cfg.WhisperModel,
			Language:    cfg.WhisperLanguage,
			Temperature: cfg.Temperature,
			Timeout:     cfg.WhisperTimeout,
			Log:         log,
		})
	default:
		return nil, fmt.Errorf("%w: unknown engine %q", config.ErrConfiguration, cfg.Engine)
	}

	return &Session{Models: files, Load: stats, Transcriber: engine}, nil
}

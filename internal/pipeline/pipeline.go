package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/snarg/vad-transcriber/internal/audio"
	"github.com/snarg/vad-transcriber/internal/config"
	"github.com/snarg/vad-transcriber/internal/metrics"
	"github.com/snarg/vad-transcriber/internal/transcribe"
	"github.com/snarg/vad-transcriber/internal/transcript"
	"github.com/snarg/vad-transcriber/internal/vad"
)

// Options tunes how each file is processed.
type Options struct {
	FrameDuration  time.Duration
	Padding        time.Duration
	VoicedRatio    float64
	Aggressiveness int // negative selects vad.DefaultAggressiveness
	Timeline       transcript.Timeline
	OutputDir      string // empty writes next to the audio

	// NewClassifier builds the VAD classifier for a level. Defaults to
	// vad.NewEnergyClassifier.
	NewClassifier func(level int) (vad.Classifier, error)

	// Sinks receive every record in addition to the transcript file. Their
	// failures are logged, never fatal.
	Sinks []transcript.SinkFactory

	Log zerolog.Logger
}

// OptionsFromConfig maps configuration onto Options. Sinks are left for the
// caller to add.
func OptionsFromConfig(cfg *config.Config, log zerolog.Logger) Options {
	return Options{
		FrameDuration:  cfg.FrameDuration(),
		Padding:        cfg.Padding(),
		VoicedRatio:    cfg.VoicedRatio,
		Aggressiveness: cfg.Aggressiveness,
		Timeline:       transcript.Timeline(cfg.Timeline),
		OutputDir:      cfg.OutputDir,
		Log:            log,
	}
}

// Summary is one row of the console report.
type Summary struct {
	File          string
	Output        string
	RunID         uuid.UUID
	AudioDuration time.Duration
	Inference     time.Duration
	Segments      int
	ModelLoad     time.Duration
	ScorerLoad    time.Duration
}

// Pipeline processes audio files sequentially against one Session.
type Pipeline struct {
	session *Session
	opts    Options
	log     zerolog.Logger
}

func New(session *Session, opts Options) *Pipeline {
	if opts.NewClassifier == nil {
		opts.NewClassifier = func(level int) (vad.Classifier, error) {
			return vad.NewEnergyClassifier(level)
		}
	}
	return &Pipeline{
		session: session,
		opts:    opts,
		log:     opts.Log.With().Str("component", "pipeline").Logger(),
	}
}

// ProcessFile segments path, transcribes each segment in order and writes
// the transcript. Records written before an error stay on disk; the partial
// summary is returned alongside the error.
func (p *Pipeline) ProcessFile(ctx context.Context, path string) (Summary, error) {
	sum := Summary{
		File:       path,
		ModelLoad:  p.session.Load.GraphLoad,
		ScorerLoad: p.session.Load.ScorerLoad,
	}
	sum, err := p.process(ctx, path, sum)
	if err != nil {
		metrics.FilesTotal.WithLabelValues("failed").Inc()
		return sum, err
	}
	metrics.FilesTotal.WithLabelValues("completed").Inc()
	return sum, nil
}

func (p *Pipeline) process(ctx context.Context, path string, sum Summary) (Summary, error) {
	src, err := audio.Open(path, p.opts.FrameDuration)
	if err != nil {
		return sum, err
	}
	defer src.Close()
	sum.AudioDuration = src.Duration()
	metrics.AudioSecondsTotal.Add(src.Duration().Seconds())

	level := p.opts.Aggressiveness
	if level < 0 {
		level = vad.DefaultAggressiveness
	}
	clf, err := p.opts.NewClassifier(level)
	if err != nil {
		return sum, fmt.Errorf("%w: %v", config.ErrConfiguration, err)
	}

	asm, err := transcript.NewAssembler(p.opts.Timeline)
	if err != nil {
		return sum, fmt.Errorf("%w: %v", config.ErrConfiguration, err)
	}

	sum.Output = transcript.OutputPath(path, p.opts.OutputDir)
	out, err := transcript.NewFileWriter(sum.Output)
	if err != nil {
		return sum, err
	}
	defer out.Close()

	info := transcript.RunInfo{
		ID:             uuid.New(),
		AudioPath:      path,
		OutputPath:     sum.Output,
		Engine:         p.session.Transcriber.Name(),
		ModelHash:      p.session.Load.GraphHash,
		ScorerHash:     p.session.Load.ScorerHash,
		Aggressiveness: level,
		StartedAt:      time.Now(),
	}
	sum.RunID = info.ID
	log := p.log.With().Str("file", path).Str("run_id", info.ID.String()).Logger()
	extras := p.openSinks(ctx, info, log)

	log.Debug().
		Str("output", sum.Output).
		Int("sample_rate", src.SampleRate()).
		Dur("duration", src.Duration()).
		Int("aggressiveness", level).
		Msg("writing transcript")

	seg := vad.NewSegmenter(src, clf, vad.Options{
		FrameDuration: p.opts.FrameDuration,
		Padding:       p.opts.Padding,
		VoicedRatio:   p.opts.VoicedRatio,
	})
	runErr := p.transcribeAll(ctx, seg, asm, out, extras, log)

	stats := asm.Stats()
	sum.Inference = stats.Inference
	sum.Segments = stats.Segments

	res := transcript.RunResult{Info: info, Stats: stats, FinishedAt: time.Now(), Err: runErr}
	if err := out.Finish(ctx, res); err != nil && runErr == nil {
		runErr = err
		res.Err = err
	}
	// Sinks finish with a fresh context so an interrupted run is still
	// recorded as failed.
	finishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := extras.Finish(finishCtx, res); err != nil {
		log.Warn().Err(err).Msg("sink finish failed")
	}

	if runErr != nil {
		return sum, runErr
	}
	log.Info().
		Int("segments", stats.Segments).
		Int("segments_emitted", seg.Emitted()).
		Int("vad_window_frames", seg.WindowSize()).
		Dur("inference", stats.Inference).
		Dur("speech", stats.Audio).
		Msg("transcript complete")
	return sum, nil
}

func (p *Pipeline) transcribeAll(ctx context.Context, seg *vad.Segmenter, asm *transcript.Assembler, out *transcript.FileWriter, extras transcript.MultiSink, log zerolog.Logger) error {
	engine := p.session.Transcriber
	for i := 0; ; i++ {
		s, err := seg.Next(ctx)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("segment audio: %w", err)
		}

		log.Debug().Int("segment", i).Dur("duration", s.Duration()).Msg("processing chunk")

		res, err := engine.Transcribe(ctx, s.Samples(), s.SampleRate)
		if err != nil {
			return &transcribe.InferenceError{Segment: i, Engine: engine.Name(), Err: err}
		}
		metrics.SegmentsTotal.WithLabelValues(engine.Name()).Inc()
		metrics.InferenceSeconds.WithLabelValues(engine.Name()).Observe(res.Elapsed.Seconds())

		rec := asm.Record(s, res)
		log.Debug().Int("segment", i).Str("text", rec.Text).Msg("transcript")

		if err := out.WriteRecord(ctx, rec); err != nil {
			return err
		}
		if err := extras.WriteRecord(ctx, rec); err != nil {
			log.Warn().Err(err).Int("segment", i).Msg("sink write failed")
		}
	}
}

func (p *Pipeline) openSinks(ctx context.Context, info transcript.RunInfo, log zerolog.Logger) transcript.MultiSink {
	var sinks transcript.MultiSink
	for _, open := range p.opts.Sinks {
		s, err := open(ctx, info)
		if err != nil {
			log.Warn().Err(err).Msg("sink unavailable for this run")
			continue
		}
		sinks = append(sinks, s)
	}
	return sinks
}

package transcript

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// RunInfo identifies one transcription run of one audio file.
type RunInfo struct {
	ID             uuid.UUID
	AudioPath      string
	OutputPath     string
	Engine         string
	ModelHash      string
	ScorerHash     string
	Aggressiveness int
	StartedAt      time.Time
}

// RunResult is handed to sinks once a run ends, successfully or not.
type RunResult struct {
	Info       RunInfo
	Stats      Stats
	FinishedAt time.Time
	Err        error
}

func (r RunResult) Status() string {
	if r.Err != nil {
		return "failed"
	}
	return "completed"
}

// Sink receives records in order as they are produced.
type Sink interface {
	WriteRecord(ctx context.Context, rec Record) error
	Finish(ctx context.Context, res RunResult) error
}

// SinkFactory opens a sink for one run.
type SinkFactory func(ctx context.Context, info RunInfo) (Sink, error)

// MultiSink fans records out to every sink. All sinks are attempted; their
// errors are joined.
type MultiSink []Sink

func (m MultiSink) WriteRecord(ctx context.Context, rec Record) error {
	var errs []error
	for _, s := range m {
		if err := s.WriteRecord(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m MultiSink) Finish(ctx context.Context, res RunResult) error {
	var errs []error
	for _, s := range m {
		if err := s.Finish(ctx, res); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

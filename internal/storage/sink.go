package storage

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/snarg/vad-transcriber/internal/transcript"
)

// ArchiveSink copies the finished transcript file into a store. Failed runs
// are not archived.
type ArchiveSink struct {
	store TranscriptStore
	info  transcript.RunInfo
	log   zerolog.Logger
}

// SinkFactory returns a factory producing an ArchiveSink per run.
func SinkFactory(store TranscriptStore, log zerolog.Logger) transcript.SinkFactory {
	return func(_ context.Context, info transcript.RunInfo) (transcript.Sink, error) {
		return &ArchiveSink{store: store, info: info, log: log}, nil
	}
}

func (s *ArchiveSink) WriteRecord(context.Context, transcript.Record) error { return nil }

func (s *ArchiveSink) Finish(ctx context.Context, res transcript.RunResult) error {
	if res.Err != nil {
		return nil
	}
	data, err := os.ReadFile(s.info.OutputPath)
	if err != nil {
		return fmt.Errorf("read transcript for archive: %w", err)
	}
	finished := res.FinishedAt
	if finished.IsZero() {
		finished = time.Now()
	}
	key := Key(s.info.OutputPath, finished)
	replaced := s.store.Exists(ctx, key)
	if err := s.store.Save(ctx, key, data, "text/plain; charset=utf-8"); err != nil {
		return fmt.Errorf("archive %s: %w", key, err)
	}
	s.log.Info().
		Str("store", s.store.Type()).
		Str("key", key).
		Bool("replaced", replaced).
		Msg("transcript archived")
	return nil
}

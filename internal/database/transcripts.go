package database

import (
	"context"
	"fmt"

	"github.com/snarg/vad-transcriber/internal/transcript"
)

const (
	insertRunSQL = `INSERT INTO transcript_runs
	(run_id, audio_path, output_path, engine, model_hash, scorer_hash, aggressiveness, started_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	insertRecordSQL = `INSERT INTO transcript_records
	(run_id, seq, text, start_time, end_time, inference_seconds)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (run_id, seq) DO NOTHING`

	finishRunSQL = `UPDATE transcript_runs SET
	finished_at = $2, status = $3, segments = $4,
	audio_seconds = $5, inference_seconds = $6, error = $7
WHERE run_id = $1`
)

// RunSink persists one transcription run and its records.
type RunSink struct {
	db   execer
	info transcript.RunInfo
}

// SinkFactory returns a factory that opens a RunSink per run.
func (db *DB) SinkFactory() transcript.SinkFactory {
	return func(ctx context.Context, info transcript.RunInfo) (transcript.Sink, error) {
		return newRunSink(ctx, db.Pool, info)
	}
}

func newRunSink(ctx context.Context, db execer, info transcript.RunInfo) (*RunSink, error) {
	_, err := db.Exec(ctx, insertRunSQL,
		info.ID, info.AudioPath, info.OutputPath, info.Engine,
		info.ModelHash, info.ScorerHash, info.Aggressiveness, info.StartedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert run %s: %w", info.ID, err)
	}
	return &RunSink{db: db, info: info}, nil
}

func (s *RunSink) WriteRecord(ctx context.Context, rec transcript.Record) error {
	_, err := s.db.Exec(ctx, insertRecordSQL,
		s.info.ID, rec.Index, rec.Text, rec.Start, rec.End, rec.Inference.Seconds(),
	)
	if err != nil {
		return fmt.Errorf("insert record %d: %w", rec.Index, err)
	}
	return nil
}

func (s *RunSink) Finish(ctx context.Context, res transcript.RunResult) error {
	var errText *string
	if res.Err != nil {
		msg := res.Err.Error()
		errText = &msg
	}
	_, err := s.db.Exec(ctx, finishRunSQL,
		s.info.ID, res.FinishedAt, res.Status(), res.Stats.Segments,
		res.Stats.Audio.Seconds(), res.Stats.Inference.Seconds(), errText,
	)
	if err != nil {
		return fmt.Errorf("finish run %s: %w", s.info.ID, err)
	}
	return nil
}

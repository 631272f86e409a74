package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/snarg/vad-transcriber/internal/config"
)

// TranscriptStore abstracts where finished transcripts are archived.
type TranscriptStore interface {
	// Save stores a transcript. key format: {YYYY-MM-DD}/{filename}
	Save(ctx context.Context, key string, data []byte, contentType string) error

	// Exists checks if a transcript exists in any backend.
	Exists(ctx context.Context, key string) bool

	// Type returns "local", "s3", or "tiered".
	Type() string
}

// Key builds the archive key for a transcript finished at t.
func Key(outputPath string, t time.Time) string {
	return t.Format("2006-01-02") + "/" + filepath.Base(outputPath)
}

// New creates a TranscriptStore from config. It returns nil when neither an
// archive directory nor a bucket is configured, and an error if S3 is
// configured but unreachable.
func New(cfg config.S3Config, archiveDir string, log zerolog.Logger) (TranscriptStore, error) {
	if !cfg.Enabled() {
		if archiveDir == "" {
			return nil, nil
		}
		return NewLocalStore(archiveDir), nil
	}

	s3store, err := NewS3Store(cfg, log)
	if err != nil {
		return nil, fmt.Errorf("S3 init failed: %w", err)
	}

	// Startup validation: verify credentials and bucket access
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s3store.HeadBucket(ctx); err != nil {
		return nil, fmt.Errorf("S3 startup check failed (bucket=%q endpoint=%q): %w",
			cfg.Bucket, cfg.Endpoint, err)
	}
	log.Info().Str("bucket", cfg.Bucket).Str("endpoint", cfg.Endpoint).Msg("S3 connection verified")

	if archiveDir == "" {
		return s3store, nil
	}
	return NewTieredStore(NewLocalStore(archiveDir), s3store, log), nil
}

package storage

import (
	"context"

	"github.com/rs/zerolog"
)

// TieredStore saves to a primary store and mirrors to a secondary one. Only
// the primary decides whether a save succeeded.
type TieredStore struct {
	primary TranscriptStore
	mirror  TranscriptStore
	log     zerolog.Logger
}

func NewTieredStore(primary, mirror TranscriptStore, log zerolog.Logger) *TieredStore {
	return &TieredStore{
		primary: primary,
		mirror:  mirror,
		log:     log.With().Str("component", "tiered-store").Logger(),
	}
}

func (s *TieredStore) Save(ctx context.Context, key string, data []byte, ct string) error {
	if err := s.primary.Save(ctx, key, data, ct); err != nil {
		return err
	}
	if err := s.mirror.Save(ctx, key, data, ct); err != nil {
		s.log.Warn().
			Err(err).
			Str("key", key).
			Str("mirror", s.mirror.Type()).
			Msg("mirror save failed, transcript kept in primary store")
	}
	return nil
}

func (s *TieredStore) Exists(ctx context.Context, key string) bool {
	return s.primary.Exists(ctx, key) || s.mirror.Exists(ctx, key)
}

func (s *TieredStore) Type() string { return "tiered" }

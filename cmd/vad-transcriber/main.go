package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/snarg/vad-transcriber/internal/api"
	"github.com/snarg/vad-transcriber/internal/audio"
	"github.com/snarg/vad-transcriber/internal/config"
	"github.com/snarg/vad-transcriber/internal/database"
	"github.com/snarg/vad-transcriber/internal/ingest"
	"github.com/snarg/vad-transcriber/internal/metrics"
	"github.com/snarg/vad-transcriber/internal/model"
	"github.com/snarg/vad-transcriber/internal/mqttclient"
	"github.com/snarg/vad-transcriber/internal/pipeline"
	"github.com/snarg/vad-transcriber/internal/storage"
	"github.com/snarg/vad-transcriber/internal/transcript"
	"github.com/spf13/pflag"
)

var version = "dev"

func main() {
	startTime := time.Now()

	var (
		overrides   config.Overrides
		aggressive  int
		showVersion bool
	)
	pflag.StringVar(&overrides.ModelDir, "model", "", "Directory holding the acoustic model and scorer")
	pflag.StringVar(&overrides.AudioPath, "audio", "", "WAV file, or directory of WAV files, to transcribe")
	pflag.IntVar(&aggressive, "aggressive", 0, "VAD aggressiveness, 0 (least) to 3 (most)")
	pflag.BoolVar(&overrides.Stream, "stream", false, "Stream from microphone (not supported)")
	pflag.StringVar(&overrides.EnvFile, "env-file", "", "Path to .env file (default: .env)")
	pflag.StringVar(&overrides.Engine, "engine", "", "Transcription engine: deepspeech or whisper")
	pflag.StringVar(&overrides.OutputDir, "output-dir", "", "Write transcripts here instead of next to the audio")
	pflag.StringVar(&overrides.WatchDir, "watch", "", "Watch a directory and transcribe new WAV files")
	pflag.StringVar(&overrides.Timeline, "timeline", "", "Record timing: cumulative or source")
	pflag.StringVar(&overrides.LogLevel, "log-level", "", "Log level (debug, info, warn, error)")
	pflag.BoolVar(&showVersion, "version", false, "Print version and exit")
	pflag.Parse()

	if showVersion {
		fmt.Println("vad-transcriber", version)
		return
	}
	if pflag.CommandLine.Changed("aggressive") {
		overrides.Aggressiveness = &aggressive
	}

	cfg, err := config.Load(overrides)
	if err != nil {
		early := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
		early.Error().Err(err).Msg("failed to load config")
		os.Exit(exitCode(err))
	}

	log := newLogger(cfg)
	log.Info().Str("version", version).Str("engine", cfg.Engine).Msg("vad-transcriber starting")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err = run(ctx, cfg, startTime, log)
	stop()
	if err != nil {
		log.Error().Err(err).Msg("transcription failed")
		os.Exit(exitCode(err))
	}
	log.Info().Msg("vad-transcriber stopped")
}

func newLogger(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	var log zerolog.Logger
	if cfg.LogFormat == "json" {
		log = zerolog.New(os.Stderr)
	} else {
		log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly})
	}
	return log.With().Timestamp().Logger().Level(level)
}

// exitCode maps an error to the process exit status: 2 for problems with
// the invocation or model directory, 1 for everything else.
func exitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, config.ErrConfiguration), errors.Is(err, model.ErrNotFound):
		return 2
	default:
		return 1
	}
}

func run(ctx context.Context, cfg *config.Config, startTime time.Time, log zerolog.Logger) error {
	session, err := pipeline.NewSession(ctx, cfg, log.With().Str("component", "model").Logger())
	if err != nil {
		return err
	}

	opts := pipeline.OptionsFromConfig(cfg, log)

	// Optional sinks. None of them is required for a transcript to be written.
	var db *database.DB
	if cfg.DatabaseURL != "" {
		dbLog := log.With().Str("component", "database").Logger()
		db, err = database.Connect(ctx, cfg.DatabaseURL, dbLog)
		if err != nil {
			return err
		}
		defer db.Close()
		if err := db.Migrate(ctx); err != nil {
			return err
		}
		opts.Sinks = append(opts.Sinks, db.SinkFactory())
	}

	var broker *mqttclient.Client
	if cfg.MQTTBrokerURL != "" {
		broker, err = mqttclient.Connect(mqttclient.Options{
			BrokerURL:   cfg.MQTTBrokerURL,
			ClientID:    cfg.MQTTClientID,
			TopicPrefix: cfg.MQTTTopicPrefix,
			Username:    cfg.MQTTUsername,
			Password:    cfg.MQTTPassword,
			Log:         log.With().Str("component", "mqtt").Logger(),
		})
		if err != nil {
			return fmt.Errorf("connect mqtt broker: %w", err)
		}
		defer broker.Close()
		opts.Sinks = append(opts.Sinks, broker.SinkFactory())
	}

	storeLog := log.With().Str("component", "storage").Logger()
	store, err := storage.New(cfg.S3, cfg.ArchiveDir, storeLog)
	if err != nil {
		return err
	}
	if store != nil {
		opts.Sinks = append(opts.Sinks, storage.SinkFactory(store, storeLog))
	}

	p := pipeline.New(session, opts)

	if cfg.WatchDir != "" {
		return watch(ctx, cfg, p, session, db, broker, startTime, log)
	}
	return transcribeInputs(ctx, cfg.AudioPath, p)
}

func transcribeInputs(ctx context.Context, path string, p *pipeline.Pipeline) error {
	files, err := audio.ResolveInputs(path)
	if err != nil {
		return fmt.Errorf("%w: %v", config.ErrConfiguration, err)
	}
	if err := pipeline.WriteSummaryHeader(os.Stdout); err != nil {
		return err
	}
	for _, f := range files {
		sum, err := p.ProcessFile(ctx, f)
		if err != nil {
			return fmt.Errorf("%s: %w", f, err)
		}
		if err := pipeline.WriteSummaryRow(os.Stdout, sum); err != nil {
			return err
		}
	}
	return nil
}

func watch(ctx context.Context, cfg *config.Config, p *pipeline.Pipeline, session *pipeline.Session, db *database.DB, broker *mqttclient.Client, startTime time.Time, log zerolog.Logger) error {
	if err := pipeline.WriteSummaryHeader(os.Stdout); err != nil {
		return err
	}

	fw := ingest.NewFileWatcher(ingest.WatcherOptions{
		Dir:      cfg.WatchDir,
		Backfill: cfg.WatchBackfill,
		Handler: func(ctx context.Context, path string) error {
			sum, err := p.ProcessFile(ctx, path)
			if err != nil {
				return err
			}
			return pipeline.WriteSummaryRow(os.Stdout, sum)
		},
		Done: func(path string) bool {
			return transcript.Completed(transcript.OutputPath(path, cfg.OutputDir))
		},
		Log: log,
	})
	if err := fw.Start(ctx); err != nil {
		return fmt.Errorf("%w: watch %s: %v", config.ErrConfiguration, cfg.WatchDir, err)
	}
	defer fw.Stop()

	var srv *api.Server
	errCh := make(chan error, 1)
	if cfg.HTTPAddr != "" {
		var pool *pgxpool.Pool
		if db != nil {
			pool = db.Pool
		}
		prometheus.MustRegister(metrics.NewCollector(pool, fw))

		var (
			dbCheck api.DBChecker
			mqttOK  api.BrokerStatus
		)
		if db != nil {
			dbCheck = db
		}
		if broker != nil {
			mqttOK = broker
		}
		health := api.NewHealthHandler(dbCheck, mqttOK, fw, session.Transcriber.Name(), version, startTime)
		srv = api.NewServer(cfg.HTTPAddr, health, log.With().Str("component", "http").Logger())
		go func() {
			errCh <- srv.Start()
		}()
	}

	var err error
	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err = <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("http server error")
		}
	}

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("http server shutdown error")
		}
	}
	return err
}

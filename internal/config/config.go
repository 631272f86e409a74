package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// ErrConfiguration is wrapped by every error Load returns. It covers missing
// required arguments and values outside their accepted range.
var ErrConfiguration = errors.New("configuration error")

type Config struct {
	ModelDir       string  `env:"MODEL_DIR" validate:"required"`
	AudioPath      string  `env:"AUDIO_PATH" validate:"required_without=WatchDir"`
	Aggressiveness int     `env:"VAD_AGGRESSIVENESS" envDefault:"-1" validate:"min=-1,max=3"`
	FrameMs        int     `env:"FRAME_MS" envDefault:"30" validate:"oneof=10 20 30"`
	PaddingMs      int     `env:"PADDING_MS" envDefault:"300" validate:"gtefield=FrameMs"`
	VoicedRatio    float64 `env:"VOICED_RATIO" envDefault:"0.9" validate:"gt=0,lte=1"`
	Timeline       string  `env:"TIMELINE" envDefault:"cumulative" validate:"oneof=cumulative source"`
	OutputDir      string  `env:"OUTPUT_DIR"`

	Engine           string        `env:"ENGINE" envDefault:"deepspeech" validate:"oneof=deepspeech whisper"`
	DeepSpeechBin    string        `env:"DEEPSPEECH_BIN" envDefault:"deepspeech"`
	EngineSampleRate int           `env:"ENGINE_SAMPLE_RATE" envDefault:"16000" validate:"min=0"`
	PreprocessAudio  bool          `env:"PREPROCESS_AUDIO" envDefault:"true"`
	WhisperURL       string        `env:"WHISPER_URL" envDefault:"http://localhost:8000/v1/audio/transcriptions" validate:"omitempty,url"`
	WhisperModel     string        `env:"WHISPER_MODEL"`
	WhisperLanguage  string        `env:"WHISPER_LANGUAGE"`
	WhisperTimeout   time.Duration `env:"WHISPER_TIMEOUT" envDefault:"5m"`
	Temperature      float64       `env:"WHISPER_TEMPERATURE" envDefault:"0"`

	WatchDir      string `env:"WATCH_DIR"`
	WatchBackfill bool   `env:"WATCH_BACKFILL" envDefault:"true"`
	HTTPAddr      string `env:"HTTP_ADDR"`

	DatabaseURL string `env:"DATABASE_URL"`

	MQTTBrokerURL   string `env:"MQTT_BROKER_URL"`
	MQTTClientID    string `env:"MQTT_CLIENT_ID" envDefault:"vad-transcriber"`
	MQTTTopicPrefix string `env:"MQTT_TOPIC_PREFIX" envDefault:"vad-transcriber"`
	MQTTUsername    string `env:"MQTT_USERNAME"`
	MQTTPassword    string `env:"MQTT_PASSWORD"`

	S3         S3Config `envPrefix:"S3_"`
	ArchiveDir string   `env:"ARCHIVE_DIR"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"console" validate:"oneof=console json"`
}

// S3Config configures the optional transcript upload target.
type S3Config struct {
	Bucket    string `env:"BUCKET"`
	Region    string `env:"REGION" envDefault:"us-east-1"`
	Endpoint  string `env:"ENDPOINT"`
	AccessKey string `env:"ACCESS_KEY"`
	SecretKey string `env:"SECRET_KEY"`
	Prefix    string `env:"PREFIX"`
}

// Enabled reports whether an S3 bucket is configured.
func (c S3Config) Enabled() bool { return c.Bucket != "" }

func (c *Config) FrameDuration() time.Duration {
	return time.Duration(c.FrameMs) * time.Millisecond
}

func (c *Config) Padding() time.Duration {
	return time.Duration(c.PaddingMs) * time.Millisecond
}

// Overrides holds CLI flag values that take priority over env vars.
type Overrides struct {
	EnvFile        string
	ModelDir       string
	AudioPath      string
	Aggressiveness *int
	Stream         bool
	Engine         string
	OutputDir      string
	WatchDir       string
	Timeline       string
	LogLevel       string
}

var validate = validator.New()

// Load reads configuration from .env file, environment variables, and CLI overrides.
// Priority: CLI flags > environment variables > .env file > struct defaults.
func Load(overrides Overrides) (*Config, error) {
	if overrides.Stream {
		return nil, fmt.Errorf("%w: streaming mode is not supported, use --audio or --watch", ErrConfiguration)
	}

	// Load .env file (silent if missing)
	envFile := overrides.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	if _, err := os.Stat(envFile); err == nil {
		_ = godotenv.Load(envFile)
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfiguration, err)
	}

	// Apply CLI overrides (non-empty values win)
	if overrides.ModelDir != "" {
		cfg.ModelDir = overrides.ModelDir
	}
	if overrides.AudioPath != "" {
		cfg.AudioPath = overrides.AudioPath
	}
	if overrides.Aggressiveness != nil {
		cfg.Aggressiveness = *overrides.Aggressiveness
	}
	if overrides.Engine != "" {
		cfg.Engine = overrides.Engine
	}
	if overrides.OutputDir != "" {
		cfg.OutputDir = overrides.OutputDir
	}
	if overrides.WatchDir != "" {
		cfg.WatchDir = overrides.WatchDir
	}
	if overrides.Timeline != "" {
		cfg.Timeline = overrides.Timeline
	}
	if overrides.LogLevel != "" {
		cfg.LogLevel = overrides.LogLevel
	}

	cfg.ModelDir = expandHome(cfg.ModelDir)

	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrConfiguration, describe(err))
	}
	return cfg, nil
}

// expandHome resolves a leading ~ the way a shell would.
func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return home + path[1:]
}

// describe flattens validator errors into "FIELD failed 'tag'" fragments.
func describe(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			parts = append(parts, fmt.Sprintf("%s failed %q (%s)", fe.Field(), fe.Tag(), fe.Param()))
		} else {
			parts = append(parts, fmt.Sprintf("%s failed %q", fe.Field(), fe.Tag()))
		}
	}
	return strings.Join(parts, "; ")
}

package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/snarg/vad-transcriber/internal/audio"
)

// WhisperOptions configures WhisperEngine. URL is an OpenAI-compatible
// /v1/audio/transcriptions endpoint (speaches, whisper.cpp server, ...).
type WhisperOptions struct {
	URL         string
	Model       string
	Language    string // defaults to "en"
	Temperature float64
	Timeout     time.Duration
	Log         zerolog.Logger
}

// WhisperEngine uploads each segment as a WAV file and reads back the json
// transcription.
type WhisperEngine struct {
	url    string
	fields map[string]string
	http   *http.Client
	log    zerolog.Logger
}

type whisperReply struct {
	Text     string  `json:"text"`
	Language string  `json:"language"`
	Duration float64 `json:"duration"`
}

func NewWhisperEngine(o WhisperOptions) *WhisperEngine {
	lang := o.Language
	if lang == "" {
		lang = "en"
	}
	fields := map[string]string{
		"language":        lang,
		"temperature":     strconv.FormatFloat(o.Temperature, 'f', 2, 64),
		"response_format": "json",
	}
	if o.Model != "" {
		fields["model"] = o.Model
	}
	return &WhisperEngine{
		url:    o.URL,
		fields: fields,
		http:   &http.Client{Timeout: o.Timeout},
		log:    o.Log.With().Str("engine", "whisper").Logger(),
	}
}

func (e *WhisperEngine) Name() string { return "whisper" }

func (e *WhisperEngine) Transcribe(ctx context.Context, samples []int16, sampleRate int) (Result, error) {
	body, contentType, err := e.form(samples, sampleRate)
	if err != nil {
		return Result{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, body)
	if err != nil {
		return Result{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	start := time.Now()
	resp, err := e.http.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("whisper request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, fmt.Errorf("read response: %w", err)
	}
	elapsed := time.Since(start)
	if resp.StatusCode != http.StatusOK {
		return Result{}, fmt.Errorf("whisper API error (status %d): %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var reply whisperReply
	if err := json.Unmarshal(raw, &reply); err != nil {
		return Result{}, fmt.Errorf("decode response: %w", err)
	}

	e.log.Debug().
		Str("language", reply.Language).
		Float64("duration", reply.Duration).
		Dur("elapsed", elapsed).
		Msg("whisper response")

	return Result{Text: strings.TrimSpace(reply.Text), Elapsed: elapsed}, nil
}

// form encodes the segment as a WAV upload alongside the fixed fields.
func (e *WhisperEngine) form(samples []int16, sampleRate int) (*bytes.Buffer, string, error) {
	wavPath, cleanup, err := audio.WriteTemp(samples, sampleRate)
	if err != nil {
		return nil, "", err
	}
	defer cleanup()

	wav, err := os.ReadFile(wavPath)
	if err != nil {
		return nil, "", fmt.Errorf("read segment wav: %w", err)
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", "segment.wav")
	if err != nil {
		return nil, "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(wav); err != nil {
		return nil, "", fmt.Errorf("write form file: %w", err)
	}
	for k, v := range e.fields {
		if err := mw.WriteField(k, v); err != nil {
			return nil, "", fmt.Errorf("write field %s: %w", k, err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, "", err
	}
	return &buf, mw.FormDataContentType(), nil
}

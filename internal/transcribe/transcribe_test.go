package transcribe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/snarg/vad-transcriber/internal/model"
)

// fakeDeepSpeech writes a shell script standing in for the deepspeech CLI.
func fakeDeepSpeech(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script fixture requires a POSIX shell")
	}
	p := filepath.Join(t.TempDir(), "deepspeech")
	script := "#!/bin/sh\n" + body + "\n"
	if err := os.WriteFile(p, []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}
	return p
}

func testModels() model.Files {
	return model.Files{Dir: "/models", Graph: "/models/output_graph.pbmm", Scorer: "/models/kenlm.scorer"}
}

func TestDeepSpeechEngine_Transcribe(t *testing.T) {
	argsFile := filepath.Join(t.TempDir(), "args")
	bin := fakeDeepSpeech(t, fmt.Sprintf(`echo "$@" > %s
echo "TensorFlow: v2.3.0"
echo "hello world"`, argsFile))

	e, err := NewDeepSpeechEngine(DeepSpeechOptions{Binary: bin, Models: testModels(), Log: zerolog.Nop()})
	if err != nil {
		t.Fatalf("NewDeepSpeechEngine: %v", err)
	}
	if e.Name() != "deepspeech" {
		t.Errorf("Name = %q, want deepspeech", e.Name())
	}

	res, err := e.Transcribe(context.Background(), make([]int16, 1600), 16000)
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if res.Text != "hello world" {
		t.Errorf("Text = %q, want %q", res.Text, "hello world")
	}
	if res.Elapsed <= 0 {
		t.Errorf("Elapsed = %v, want > 0", res.Elapsed)
	}

	args, err := os.ReadFile(argsFile)
	if err != nil {
		t.Fatal(err)
	}
	got := string(args)
	for _, want := range []string{"--model /models/output_graph.pbmm", "--scorer /models/kenlm.scorer", "--audio "} {
		if !strings.Contains(got, want) {
			t.Errorf("args %q missing %q", got, want)
		}
	}
}

func TestDeepSpeechEngine_Failure(t *testing.T) {
	bin := fakeDeepSpeech(t, `echo "model load failed" >&2
exit 3`)
	e, err := NewDeepSpeechEngine(DeepSpeechOptions{Binary: bin, Models: testModels(), Log: zerolog.Nop()})
	if err != nil {
		t.Fatalf("NewDeepSpeechEngine: %v", err)
	}
	_, err = e.Transcribe(context.Background(), make([]int16, 160), 16000)
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "model load failed") {
		t.Errorf("error %q does not include stderr", err)
	}
}

func TestDeepSpeechEngine_MissingBinary(t *testing.T) {
	_, err := NewDeepSpeechEngine(DeepSpeechOptions{Binary: filepath.Join(t.TempDir(), "missing"), Log: zerolog.Nop()})
	if err == nil {
		t.Fatal("expected error for missing binary")
	}
}

func TestLastLine(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"hello\n", "hello"},
		{"banner\n\nhello there\n\n", "hello there"},
		{"", ""},
		{"   \n  ", ""},
	}
	for _, tt := range tests {
		if got := lastLine(tt.in); got != tt.want {
			t.Errorf("lastLine(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestWhisperEngine_Transcribe(t *testing.T) {
	var gotModel, gotLang, gotFormat string
	var gotBytes int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		gotModel = r.FormValue("model")
		gotLang = r.FormValue("language")
		gotFormat = r.FormValue("response_format")
		f, _, err := r.FormFile("file")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		b, _ := io.ReadAll(f)
		gotBytes = len(b)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"text":"  the quick brown fox ","language":"en","duration":0.1}`)
	}))
	defer srv.Close()

	e := NewWhisperEngine(WhisperOptions{URL: srv.URL, Model: "base.en", Timeout: 5 * time.Second, Log: zerolog.Nop()})
	res, err := e.Transcribe(context.Background(), make([]int16, 1600), 16000)
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if res.Text != "the quick brown fox" {
		t.Errorf("Text = %q, want trimmed transcript", res.Text)
	}
	if gotModel != "base.en" {
		t.Errorf("model = %q, want base.en", gotModel)
	}
	if gotLang != "en" {
		t.Errorf("language = %q, want en", gotLang)
	}
	if gotFormat != "json" {
		t.Errorf("response_format = %q, want json", gotFormat)
	}
	// Header plus 1600 16-bit samples.
	if gotBytes <= 3200 {
		t.Errorf("uploaded %d bytes, want more than 3200", gotBytes)
	}
}

func TestWhisperEngine_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	e := NewWhisperEngine(WhisperOptions{URL: srv.URL, Timeout: 5 * time.Second, Log: zerolog.Nop()})
	_, err := e.Transcribe(context.Background(), make([]int16, 160), 16000)
	if err == nil || !strings.Contains(err.Error(), "status 503") {
		t.Errorf("err = %v, want status 503 error", err)
	}
}

func TestInferenceError(t *testing.T) {
	cause := errors.New("engine crashed")
	err := error(&InferenceError{Segment: 2, Engine: "deepspeech", Err: cause})

	if !errors.Is(err, cause) {
		t.Error("InferenceError does not unwrap to its cause")
	}
	var ie *InferenceError
	if !errors.As(fmt.Errorf("run: %w", err), &ie) {
		t.Fatal("errors.As failed through wrapping")
	}
	if ie.Segment != 2 {
		t.Errorf("Segment = %d, want 2", ie.Segment)
	}
	if want := "inference failed on segment 2 (deepspeech): engine crashed"; err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

package transcribe

import (
	"context"
	"fmt"
	"time"
)

// Transcriber is the interface for speech-to-text backends. One call per
// segment; implementations do not retry.
type Transcriber interface {
	Transcribe(ctx context.Context, samples []int16, sampleRate int) (Result, error)
	Name() string // "deepspeech", "whisper"
}

// Result is what a backend returns for one segment.
type Result struct {
	Text    string
	Elapsed time.Duration // wall-clock inference time
}

// InferenceError reports a backend failure on a specific segment.
type InferenceError struct {
	Segment int // zero-based segment index
	Engine  string
	Err     error
}

func (e *InferenceError) Error() string {
	return fmt.Sprintf("inference failed on segment %d (%s): %v", e.Segment, e.Engine, e.Err)
}

func (e *InferenceError) Unwrap() error { return e.Err }

package vad

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/snarg/vad-transcriber/internal/audio"
)

// FrameReader yields frames until io.EOF. *audio.Source satisfies it.
type FrameReader interface {
	Next() (audio.Frame, error)
}

// Options tunes segment grouping. Aggressiveness is not here: it belongs
// to the Classifier.
type Options struct {
	FrameDuration time.Duration
	Padding       time.Duration
	VoicedRatio   float64 // fraction of the window that flips state, default 0.9
}

// Segment is a contiguous run of speech frames, including the padding window
// that closed it.
type Segment struct {
	PCM        []byte
	SampleRate int
	Offset     time.Duration // source position of the first frame
	Frames     int
}

// SampleCount is the number of 16-bit samples in the segment.
func (s Segment) SampleCount() int { return len(s.PCM) / 2 }

// Duration derives the segment length from its sample count.
func (s Segment) Duration() time.Duration {
	return audio.SamplesToDuration(s.SampleCount(), s.SampleRate)
}

// Samples decodes the PCM payload.
func (s Segment) Samples() []int16 { return audio.DecodePCM(s.PCM) }

// Segmenter groups classified frames into speech segments. The state flips
// on a majority vote over the last N frames, where N covers the padding
// duration, so isolated misclassifications do not fragment segments.
type Segmenter struct {
	frames FrameReader
	clf    Classifier
	ratio  float64
	window *ring

	triggered bool
	open      []audio.Frame
	done      bool
	emitted   int
}

// NewSegmenter builds a segmenter over frames. The window holds
// max(1, Padding/FrameDuration) frames.
func NewSegmenter(frames FrameReader, clf Classifier, opts Options) *Segmenter {
	n := 1
	if opts.FrameDuration > 0 {
		if w := int(opts.Padding / opts.FrameDuration); w > 1 {
			n = w
		}
	}
	ratio := opts.VoicedRatio
	if ratio <= 0 || ratio > 1 {
		ratio = 0.9
	}
	return &Segmenter{
		frames: frames,
		clf:    clf,
		ratio:  ratio,
		window: newRing(n),
	}
}

// WindowSize is the number of frames in the voting window.
func (s *Segmenter) WindowSize() int { return s.window.capacity() }

// Emitted is the number of segments returned so far.
func (s *Segmenter) Emitted() int { return s.emitted }

// Next returns the next speech segment, or io.EOF when the stream is
// exhausted. Audio with no detected speech yields io.EOF on the first call.
func (s *Segmenter) Next(ctx context.Context) (Segment, error) {
	if s.done {
		return Segment{}, io.EOF
	}
	threshold := s.ratio * float64(s.window.capacity())

	for {
		if err := ctx.Err(); err != nil {
			return Segment{}, err
		}

		fr, err := s.frames.Next()
		if errors.Is(err, io.EOF) {
			s.done = true
			if len(s.open) > 0 {
				return s.flush(), nil
			}
			return Segment{}, io.EOF
		}
		if err != nil {
			return Segment{}, fmt.Errorf("read frame: %w", err)
		}

		voiced, err := s.clf.IsSpeech(fr.PCM, fr.SampleRate)
		if err != nil {
			return Segment{}, fmt.Errorf("classify frame at %v: %w", fr.Offset, err)
		}

		if !s.triggered {
			s.window.push(fr, voiced)
			if float64(s.window.numVoiced()) > threshold {
				s.triggered = true
				s.open = append(s.open, s.window.frames()...)
				s.window.clear()
			}
			continue
		}

		s.open = append(s.open, fr)
		s.window.push(fr, voiced)
		if float64(s.window.numUnvoiced()) > threshold {
			s.triggered = false
			s.window.clear()
			return s.flush(), nil
		}
	}
}

func (s *Segmenter) flush() Segment {
	size := 0
	for _, fr := range s.open {
		size += len(fr.PCM)
	}
	pcm := make([]byte, 0, size)
	for _, fr := range s.open {
		pcm = append(pcm, fr.PCM...)
	}
	seg := Segment{
		PCM:        pcm,
		SampleRate: s.open[0].SampleRate,
		Offset:     s.open[0].Offset,
		Frames:     len(s.open),
	}
	s.open = nil
	s.emitted++
	return seg
}

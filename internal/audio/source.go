package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// ErrUnsupportedFormat is wrapped by Open when the file is not 16-bit linear
// PCM mono WAV at a VAD-compatible sample rate.
var ErrUnsupportedFormat = errors.New("unsupported audio format")

const (
	formatPCM     = 1
	bitsPerSample = 16
	bytesPerFrame = bitsPerSample / 8
)

// SupportedRates are the sample rates the VAD stage accepts.
var SupportedRates = []int{8000, 16000, 32000, 48000}

// Frame is a fixed-duration chunk of s16le PCM. Frames are never modified
// after the Source hands them out.
type Frame struct {
	PCM        []byte
	SampleRate int
	Offset     time.Duration // position of the first sample in the source
	Duration   time.Duration
}

// Source decodes a WAV file into consecutive frames. It is read once, front
// to back. A trailing chunk shorter than one frame is discarded; Duration
// still reports the full length of the data chunk.
type Source struct {
	f             *os.File
	dec           *wav.Decoder
	buf           *goaudio.IntBuffer
	sampleRate    int
	frameSamples  int
	frameDuration time.Duration
	duration      time.Duration
	emitted       int
}

// ValidFrameDuration reports whether d is one of the frame sizes the VAD
// stage accepts (10, 20 or 30 ms).
func ValidFrameDuration(d time.Duration) bool {
	switch d {
	case 10 * time.Millisecond, 20 * time.Millisecond, 30 * time.Millisecond:
		return true
	}
	return false
}

// Open validates the WAV header at path and positions the decoder at the
// start of the PCM data.
func Open(path string, frameDuration time.Duration) (*Source, error) {
	if !ValidFrameDuration(frameDuration) {
		return nil, fmt.Errorf("frame duration %v: must be 10, 20 or 30ms", frameDuration)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open audio file: %w", err)
	}

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		f.Close()
		return nil, fmt.Errorf("%w: %s is not a valid WAV file", ErrUnsupportedFormat, path)
	}

	rate := int(dec.SampleRate)
	switch {
	case dec.WavAudioFormat != formatPCM:
		err = fmt.Errorf("%w: format tag %d, want linear PCM", ErrUnsupportedFormat, dec.WavAudioFormat)
	case dec.NumChans != 1:
		err = fmt.Errorf("%w: %d channels, want mono", ErrUnsupportedFormat, dec.NumChans)
	case dec.BitDepth != bitsPerSample:
		err = fmt.Errorf("%w: %d bits per sample, want 16", ErrUnsupportedFormat, dec.BitDepth)
	case !supportedRate(rate):
		err = fmt.Errorf("%w: sample rate %d Hz, want one of %v", ErrUnsupportedFormat, rate, SupportedRates)
	}
	if err != nil {
		f.Close()
		return nil, err
	}

	if err := dec.FwdToPCM(); err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: locate data chunk: %v", ErrUnsupportedFormat, err)
	}

	frameSamples := int(int64(rate) * int64(frameDuration) / int64(time.Second))
	totalSamples := dec.PCMLen() / bytesPerFrame

	return &Source{
		f:   f,
		dec: dec,
		buf: &goaudio.IntBuffer{
			Format:         &goaudio.Format{NumChannels: 1, SampleRate: rate},
			Data:           make([]int, frameSamples),
			SourceBitDepth: bitsPerSample,
		},
		sampleRate:    rate,
		frameSamples:  frameSamples,
		frameDuration: frameDuration,
		duration:      SamplesToDuration(int(totalSamples), rate),
	}, nil
}

// Next returns the next full frame, or io.EOF once fewer than a frame's
// worth of samples remain.
func (s *Source) Next() (Frame, error) {
	n, err := s.dec.PCMBuffer(s.buf)
	if err != nil && !errors.Is(err, io.EOF) {
		return Frame{}, fmt.Errorf("read pcm: %w", err)
	}
	if n < s.frameSamples {
		return Frame{}, io.EOF
	}

	pcm := make([]byte, s.frameSamples*bytesPerFrame)
	for i, v := range s.buf.Data[:n] {
		binary.LittleEndian.PutUint16(pcm[i*bytesPerFrame:], uint16(int16(v)))
	}

	fr := Frame{
		PCM:        pcm,
		SampleRate: s.sampleRate,
		Offset:     time.Duration(s.emitted) * s.frameDuration,
		Duration:   s.frameDuration,
	}
	s.emitted++
	return fr, nil
}

func (s *Source) SampleRate() int { return s.sampleRate }

// Duration is the total length of the audio data, including any trailing
// partial frame.
func (s *Source) Duration() time.Duration { return s.duration }

func (s *Source) Close() error {
	return s.f.Close()
}

func supportedRate(rate int) bool {
	for _, r := range SupportedRates {
		if r == rate {
			return true
		}
	}
	return false
}

// SamplesToDuration converts a sample count at rate into a duration.
func SamplesToDuration(samples, rate int) time.Duration {
	if rate <= 0 {
		return 0
	}
	return time.Duration(int64(samples) * int64(time.Second) / int64(rate))
}

// DecodePCM converts s16le bytes into samples.
func DecodePCM(pcm []byte) []int16 {
	out := make([]int16, len(pcm)/bytesPerFrame)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(pcm[i*bytesPerFrame:]))
	}
	return out
}

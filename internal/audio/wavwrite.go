package audio

import (
	"fmt"
	"os"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// WriteWAV encodes mono 16-bit samples at rate into a new WAV file at path.
func WriteWAV(path string, samples []int16, rate int) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create wav: %w", err)
	}

	enc := wav.NewEncoder(f, rate, bitsPerSample, 1, formatPCM)
	data := make([]int, len(samples))
	for i, s := range samples {
		data[i] = int(s)
	}
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: rate},
		Data:           data,
		SourceBitDepth: bitsPerSample,
	}
	if err := enc.Write(buf); err != nil {
		f.Close()
		os.Remove(path)
		return fmt.Errorf("encode wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		f.Close()
		os.Remove(path)
		return fmt.Errorf("finalize wav: %w", err)
	}
	return f.Close()
}

// WriteTemp writes samples to a temporary WAV file and returns its path with
// a cleanup function that removes it.
func WriteTemp(samples []int16, rate int) (string, func(), error) {
	tmp, err := os.CreateTemp("", "vad-segment-*.wav")
	if err != nil {
		return "", func() {}, fmt.Errorf("create temp wav: %w", err)
	}
	path := tmp.Name()
	tmp.Close()

	if err := WriteWAV(path, samples, rate); err != nil {
		os.Remove(path)
		return "", func() {}, err
	}
	return path, func() { os.Remove(path) }, nil
}

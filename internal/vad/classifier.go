package vad

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Classifier decides whether a single frame of s16le PCM contains speech.
type Classifier interface {
	IsSpeech(frame []byte, sampleRate int) (bool, error)
}

// DefaultAggressiveness is used when the operator does not pick a level.
const DefaultAggressiveness = 0

// energyThresholds maps aggressiveness 0-3 to the minimum frame RMS, in
// dBFS, that counts as speech. Higher levels filter more.
var energyThresholds = [4]float64{-50, -45, -40, -35}

// EnergyClassifier is an RMS energy gate.
type EnergyClassifier struct {
	threshold float64
}

// NewEnergyClassifier returns a classifier for aggressiveness level 0-3.
func NewEnergyClassifier(level int) (*EnergyClassifier, error) {
	if level < 0 || level >= len(energyThresholds) {
		return nil, fmt.Errorf("vad aggressiveness %d out of range 0-3", level)
	}
	return &EnergyClassifier{threshold: energyThresholds[level]}, nil
}

func (c *EnergyClassifier) IsSpeech(frame []byte, sampleRate int) (bool, error) {
	if sampleRate <= 0 {
		return false, fmt.Errorf("invalid sample rate %d", sampleRate)
	}
	if len(frame) == 0 || len(frame)%2 != 0 {
		return false, fmt.Errorf("invalid frame length %d bytes", len(frame))
	}
	return frameLevel(frame) >= c.threshold, nil
}

// frameLevel returns the RMS level of the frame in dBFS. Digital silence
// returns -Inf.
func frameLevel(frame []byte) float64 {
	n := len(frame) / 2
	var sumSq float64
	for i := 0; i < n; i++ {
		s := float64(int16(binary.LittleEndian.Uint16(frame[i*2:]))) / 32768
		sumSq += s * s
	}
	rms := math.Sqrt(sumSq / float64(n))
	if rms == 0 {
		return math.Inf(-1)
	}
	return 20 * math.Log10(rms)
}

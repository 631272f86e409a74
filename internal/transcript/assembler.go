// Package transcript turns transcribed segments into timestamped records and
// writes them to the transcript file and any auxiliary sinks.
package transcript

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/snarg/vad-transcriber/internal/transcribe"
	"github.com/snarg/vad-transcriber/internal/vad"
)

// Timeline selects how record timestamps are derived.
type Timeline string

const (
	// Cumulative places each record right after the previous one, so
	// records[i].End == records[i+1].Start. Silence between segments is
	// not represented.
	Cumulative Timeline = "cumulative"
	// Source uses each segment's real position in the recording.
	Source Timeline = "source"
)

// Record is one transcript line.
type Record struct {
	Index     int
	Text      string
	Start     float64 // seconds
	End       float64 // seconds
	Inference time.Duration
}

// Line renders the record as written to the transcript file, without the
// trailing newline.
func (r Record) Line() string {
	return r.Text + "," + FormatSeconds(r.Start) + "," + FormatSeconds(r.End)
}

// FormatSeconds renders seconds in shortest round-trip form, keeping a
// ".0" on integral values (0.0, 2.0, 2.01).
func FormatSeconds(v float64) string {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}

// Stats aggregates what the assembler has seen.
type Stats struct {
	Segments  int
	Inference time.Duration
	Audio     time.Duration // speech audio covered by records
}

// Assembler assigns timestamps to transcribed segments. The cumulative
// position is kept as an integer sample count so the timeline is exact.
type Assembler struct {
	timeline Timeline
	rate     int
	samples  int64
	stats    Stats
}

// NewAssembler returns an assembler for one recording. An empty timeline
// means Cumulative.
func NewAssembler(timeline Timeline) (*Assembler, error) {
	switch timeline {
	case "":
		timeline = Cumulative
	case Cumulative, Source:
	default:
		return nil, fmt.Errorf("unknown timeline %q", timeline)
	}
	return &Assembler{timeline: timeline}, nil
}

// Record builds the next record from a segment and its transcription.
func (a *Assembler) Record(seg vad.Segment, res transcribe.Result) Record {
	n := int64(seg.SampleCount())
	rate := seg.SampleRate
	if a.rate == 0 {
		a.rate = rate
	}

	rec := Record{
		Index:     a.stats.Segments,
		Text:      res.Text,
		Inference: res.Elapsed,
	}

	switch a.timeline {
	case Source:
		rec.Start = seg.Offset.Seconds()
		rec.End = rec.Start + float64(n)/float64(rate)
	default:
		rec.Start = float64(a.samples) / float64(a.rate)
		a.samples += n
		rec.End = float64(a.samples) / float64(a.rate)
	}

	a.stats.Segments++
	a.stats.Inference += res.Elapsed
	a.stats.Audio += seg.Duration()
	return rec
}

func (a *Assembler) Stats() Stats { return a.stats }

func (a *Assembler) Timeline() Timeline { return a.timeline }

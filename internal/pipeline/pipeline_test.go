package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snarg/vad-transcriber/internal/audio"
	"github.com/snarg/vad-transcriber/internal/model"
	"github.com/snarg/vad-transcriber/internal/transcribe"
	"github.com/snarg/vad-transcriber/internal/transcript"
)

const rate = 16000

// stubEngine returns "segment N" for each call and fails on call failOn.
type stubEngine struct {
	calls  int
	failOn int
}

func (e *stubEngine) Name() string { return "stub" }

func (e *stubEngine) Transcribe(_ context.Context, samples []int16, sampleRate int) (transcribe.Result, error) {
	idx := e.calls
	e.calls++
	if idx == e.failOn {
		return transcribe.Result{}, errors.New("decoder exploded")
	}
	return transcribe.Result{Text: fmt.Sprintf("segment %d", idx), Elapsed: 10 * time.Millisecond}, nil
}

type part struct {
	tone bool
	dur  time.Duration
}

func silence(d time.Duration) part { return part{false, d} }
func tone(d time.Duration) part    { return part{true, d} }

// writeFixture renders silence/tone parts into a mono 16 kHz WAV.
func writeFixture(t *testing.T, name string, parts ...part) string {
	t.Helper()
	var samples []int16
	for _, p := range parts {
		n := int(int64(p.dur) * rate / int64(time.Second))
		for i := 0; i < n; i++ {
			var v int16
			if p.tone {
				v = int16(8000 * math.Sin(2*math.Pi*440*float64(len(samples))/rate))
			}
			samples = append(samples, v)
		}
	}
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, audio.WriteWAV(path, samples, rate))
	return path
}

func newTestPipeline(t *testing.T, engine transcribe.Transcriber, mutate ...func(*Options)) (*Pipeline, string) {
	t.Helper()
	outDir := t.TempDir()
	opts := Options{
		FrameDuration:  30 * time.Millisecond,
		Padding:        300 * time.Millisecond,
		VoicedRatio:    0.9,
		Aggressiveness: 3,
		Timeline:       transcript.Cumulative,
		OutputDir:      outDir,
		Log:            zerolog.Nop(),
	}
	for _, m := range mutate {
		m(&opts)
	}
	session := &Session{
		Models:      model.Files{Graph: "g.pbmm", Scorer: "s.scorer"},
		Load:        model.LoadStats{GraphLoad: 1500 * time.Millisecond, ScorerLoad: 250 * time.Millisecond},
		Transcriber: engine,
	}
	return New(session, opts), outDir
}

type line struct {
	text       string
	start, end float64
}

func readLines(t *testing.T, path string) []line {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	if len(data) == 0 {
		return nil
	}
	var out []line
	for _, raw := range strings.Split(strings.TrimSuffix(string(data), "\n"), "\n") {
		fields := strings.Split(raw, ",")
		require.GreaterOrEqual(t, len(fields), 3, "line %q", raw)
		n := len(fields)
		start, err := strconv.ParseFloat(fields[n-2], 64)
		require.NoError(t, err)
		end, err := strconv.ParseFloat(fields[n-1], 64)
		require.NoError(t, err)
		out = append(out, line{strings.Join(fields[:n-2], ","), start, end})
	}
	return out
}

func TestProcessFile_NoSpeech(t *testing.T) {
	path := writeFixture(t, "quiet.wav", silence(2*time.Second))
	engine := &stubEngine{failOn: -1}
	p, outDir := newTestPipeline(t, engine)

	sum, err := p.ProcessFile(context.Background(), path)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(outDir, "quiet.txt"), sum.Output)
	assert.Equal(t, 0, sum.Segments)
	assert.Equal(t, 2*time.Second, sum.AudioDuration)
	assert.Equal(t, 0, engine.calls)

	data, err := os.ReadFile(sum.Output)
	require.NoError(t, err)
	assert.Empty(t, data)
}

func TestProcessFile_SingleBurst(t *testing.T) {
	// 3s silence, 2s speech, 1s silence.
	path := writeFixture(t, "burst.wav", silence(3*time.Second), tone(2*time.Second), silence(time.Second))
	p, _ := newTestPipeline(t, &stubEngine{failOn: -1})

	sum, err := p.ProcessFile(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, 6*time.Second, sum.AudioDuration)
	assert.Equal(t, 1, sum.Segments)

	lines := readLines(t, sum.Output)
	require.Len(t, lines, 1)
	assert.Equal(t, "segment 0", lines[0].text)
	assert.Equal(t, 0.0, lines[0].start)
	// Two seconds of speech plus at most one padding window and a frame.
	assert.InDelta(t, 2.0, lines[0].end, 0.33)
	assert.GreaterOrEqual(t, lines[0].end, 2.0)
	assert.True(t, transcript.Completed(sum.Output))
}

func TestProcessFile_Continuity(t *testing.T) {
	path := writeFixture(t, "three.wav",
		silence(500*time.Millisecond), tone(time.Second),
		silence(time.Second), tone(time.Second),
		silence(time.Second), tone(time.Second),
		silence(500*time.Millisecond),
	)
	p, _ := newTestPipeline(t, &stubEngine{failOn: -1})

	sum, err := p.ProcessFile(context.Background(), path)
	require.NoError(t, err)

	lines := readLines(t, sum.Output)
	require.Len(t, lines, 3)
	assert.Equal(t, 0.0, lines[0].start)
	for i := 0; i+1 < len(lines); i++ {
		assert.Equal(t, lines[i].end, lines[i+1].start, "record %d end vs record %d start", i, i+1)
		assert.Greater(t, lines[i].end, lines[i].start)
	}
	assert.Equal(t, 3, sum.Segments)
	assert.Equal(t, 30*time.Millisecond, sum.Inference)
	assert.Equal(t, 1500*time.Millisecond, sum.ModelLoad)
	assert.Equal(t, 250*time.Millisecond, sum.ScorerLoad)
}

func TestProcessFile_SourceTimeline(t *testing.T) {
	path := writeFixture(t, "late.wav", silence(time.Second), tone(time.Second), silence(time.Second))
	p, _ := newTestPipeline(t, &stubEngine{failOn: -1}, func(o *Options) {
		o.Timeline = transcript.Source
	})

	sum, err := p.ProcessFile(context.Background(), path)
	require.NoError(t, err)

	lines := readLines(t, sum.Output)
	require.Len(t, lines, 1)
	// The first voiced frame straddles the 1s boundary.
	assert.InDelta(t, 1.0, lines[0].start, 0.031)
}

func TestProcessFile_InferenceFailure(t *testing.T) {
	path := writeFixture(t, "fail.wav",
		silence(500*time.Millisecond), tone(time.Second),
		silence(time.Second), tone(time.Second),
		silence(time.Second), tone(time.Second),
		silence(500*time.Millisecond),
	)
	p, _ := newTestPipeline(t, &stubEngine{failOn: 1})

	sum, err := p.ProcessFile(context.Background(), path)
	require.Error(t, err)

	var ie *transcribe.InferenceError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, 1, ie.Segment)
	assert.Equal(t, "stub", ie.Engine)

	lines := readLines(t, sum.Output)
	require.Len(t, lines, 1)
	assert.Equal(t, "segment 0", lines[0].text)
	assert.False(t, transcript.Completed(sum.Output), "failed run must not look finished")
}

func TestProcessFile_Idempotent(t *testing.T) {
	path := writeFixture(t, "again.wav", silence(time.Second), tone(1500*time.Millisecond), silence(time.Second), tone(time.Second))

	p1, _ := newTestPipeline(t, &stubEngine{failOn: -1})
	sum1, err := p1.ProcessFile(context.Background(), path)
	require.NoError(t, err)
	first, err := os.ReadFile(sum1.Output)
	require.NoError(t, err)
	require.NotEmpty(t, first)

	p2, _ := newTestPipeline(t, &stubEngine{failOn: -1})
	sum2, err := p2.ProcessFile(context.Background(), path)
	require.NoError(t, err)
	second, err := os.ReadFile(sum2.Output)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.NotEqual(t, sum1.RunID, sum2.RunID)
}

func TestProcessFile_UnsupportedFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notes.wav")
	require.NoError(t, os.WriteFile(path, []byte("definitely not RIFF"), 0o644))
	p, outDir := newTestPipeline(t, &stubEngine{failOn: -1})

	_, err := p.ProcessFile(context.Background(), path)
	assert.ErrorIs(t, err, audio.ErrUnsupportedFormat)
	_, statErr := os.Stat(filepath.Join(outDir, "notes.txt"))
	assert.True(t, os.IsNotExist(statErr), "transcript created for rejected input")
}

func TestProcessFile_OutputNotWritable(t *testing.T) {
	path := writeFixture(t, "blocked.wav", tone(time.Second))
	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))

	p, _ := newTestPipeline(t, &stubEngine{failOn: -1}, func(o *Options) {
		o.OutputDir = filepath.Join(blocker, "out")
	})
	_, err := p.ProcessFile(context.Background(), path)
	assert.ErrorIs(t, err, transcript.ErrOutput)
}

type memorySink struct {
	recs   []transcript.Record
	result *transcript.RunResult
}

func (m *memorySink) WriteRecord(_ context.Context, r transcript.Record) error {
	m.recs = append(m.recs, r)
	return nil
}

func (m *memorySink) Finish(_ context.Context, res transcript.RunResult) error {
	m.result = &res
	return nil
}

func TestProcessFile_Sinks(t *testing.T) {
	path := writeFixture(t, "sinks.wav", silence(time.Second), tone(time.Second), silence(time.Second))
	mem := &memorySink{}
	var gotInfo transcript.RunInfo

	p, _ := newTestPipeline(t, &stubEngine{failOn: -1}, func(o *Options) {
		o.Sinks = []transcript.SinkFactory{
			func(_ context.Context, info transcript.RunInfo) (transcript.Sink, error) {
				gotInfo = info
				return mem, nil
			},
			func(context.Context, transcript.RunInfo) (transcript.Sink, error) {
				return nil, errors.New("database unavailable")
			},
		}
	})

	sum, err := p.ProcessFile(context.Background(), path)
	require.NoError(t, err)

	require.Len(t, mem.recs, 1)
	assert.Equal(t, "segment 0", mem.recs[0].Text)
	require.NotNil(t, mem.result)
	assert.Equal(t, "completed", mem.result.Status())
	assert.Equal(t, 1, mem.result.Stats.Segments)
	assert.Equal(t, sum.RunID, gotInfo.ID)
	assert.Equal(t, 3, gotInfo.Aggressiveness)
	assert.Equal(t, "stub", gotInfo.Engine)
}

func TestProcessFile_DefaultAggressiveness(t *testing.T) {
	path := writeFixture(t, "default.wav", tone(time.Second))
	var gotLevel = -1
	mem := &memorySink{}
	p, _ := newTestPipeline(t, &stubEngine{failOn: -1}, func(o *Options) {
		o.Aggressiveness = -1
		o.Sinks = []transcript.SinkFactory{
			func(_ context.Context, info transcript.RunInfo) (transcript.Sink, error) {
				gotLevel = info.Aggressiveness
				return mem, nil
			},
		}
	})

	_, err := p.ProcessFile(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, 0, gotLevel)
}

func TestSummaryFormat(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteSummaryHeader(&buf))
	require.NoError(t, WriteSummaryRow(&buf, Summary{
		File:          "/data/interview.wav",
		AudioDuration: 61500 * time.Millisecond,
		Inference:     12 * time.Second,
		ModelLoad:     1500 * time.Millisecond,
		ScorerLoad:    250 * time.Millisecond,
	}))

	lines := strings.Split(strings.TrimPrefix(buf.String(), "\n"), "\n")
	require.GreaterOrEqual(t, len(lines), 2)
	assert.True(t, strings.HasPrefix(lines[0], "Filename                       Duration(s)"), "header = %q", lines[0])
	assert.True(t, strings.HasSuffix(lines[0], "Scorer Load Time(s)"))
	assert.Equal(t, 31, strings.Index(lines[0], "Duration(s)"))
	assert.True(t, strings.HasPrefix(lines[1], "interview.wav"))
	assert.Equal(t, 31, strings.Index(lines[1], "61.500"))
	assert.True(t, strings.HasSuffix(lines[1], "0.250"))
}

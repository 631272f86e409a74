package transcript

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/snarg/vad-transcriber/internal/transcribe"
	"github.com/snarg/vad-transcriber/internal/vad"
)

func segment(samples, rate int, offset time.Duration) vad.Segment {
	return vad.Segment{PCM: make([]byte, samples*2), SampleRate: rate, Offset: offset}
}

func TestFormatSeconds(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{0, "0.0"},
		{2, "2.0"},
		{2.01, "2.01"},
		{0.3, "0.3"},
		{12.345, "12.345"},
		{0.30000000000000004, "0.30000000000000004"},
	}
	for _, tt := range tests {
		if got := FormatSeconds(tt.in); got != tt.want {
			t.Errorf("FormatSeconds(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}

	// Summed at run time, so the float error survives into the output.
	a, b := 0.1, 0.2
	if got := FormatSeconds(a + b); got != "0.30000000000000004" {
		t.Errorf("FormatSeconds(0.1+0.2) = %q, want %q", got, "0.30000000000000004")
	}
}

func TestAssembler_Cumulative(t *testing.T) {
	a, err := NewAssembler("")
	if err != nil {
		t.Fatal(err)
	}
	if a.Timeline() != Cumulative {
		t.Errorf("Timeline = %q, want cumulative", a.Timeline())
	}

	// Odd sample counts so float accumulation would drift.
	sizes := []int{4800, 3370, 16001, 480, 7777, 12345, 480}
	var recs []Record
	for i, n := range sizes {
		rec := a.Record(segment(n, 16000, time.Duration(i)*time.Hour), transcribe.Result{Text: "x", Elapsed: time.Millisecond})
		recs = append(recs, rec)
	}

	if recs[0].Start != 0 {
		t.Errorf("first Start = %v, want 0", recs[0].Start)
	}
	for i := 0; i+1 < len(recs); i++ {
		if recs[i].End != recs[i+1].Start {
			t.Errorf("record %d End %v != record %d Start %v", i, recs[i].End, i+1, recs[i+1].Start)
		}
		if recs[i].Index != i {
			t.Errorf("record %d Index = %d", i, recs[i].Index)
		}
	}
	if recs[0].End != 0.3 {
		t.Errorf("first End = %v, want 0.3", recs[0].End)
	}

	stats := a.Stats()
	if stats.Segments != len(sizes) {
		t.Errorf("Segments = %d, want %d", stats.Segments, len(sizes))
	}
	if stats.Inference != time.Duration(len(sizes))*time.Millisecond {
		t.Errorf("Inference = %v, want %v", stats.Inference, time.Duration(len(sizes))*time.Millisecond)
	}
}

func TestAssembler_Source(t *testing.T) {
	a, err := NewAssembler(Source)
	if err != nil {
		t.Fatal(err)
	}
	rec := a.Record(segment(16000, 16000, 3*time.Second), transcribe.Result{Text: "hi"})
	if rec.Start != 3 || rec.End != 4 {
		t.Errorf("record = [%v, %v], want [3, 4]", rec.Start, rec.End)
	}
	rec = a.Record(segment(8000, 16000, 10*time.Second), transcribe.Result{Text: "there"})
	if rec.Start != 10 || rec.End != 10.5 {
		t.Errorf("record = [%v, %v], want [10, 10.5]", rec.Start, rec.End)
	}
}

func TestNewAssembler_Unknown(t *testing.T) {
	if _, err := NewAssembler("wallclock"); err == nil {
		t.Error("expected error for unknown timeline")
	}
}

func TestRecordLine(t *testing.T) {
	rec := Record{Text: "hello, world", Start: 0, End: 2.01}
	if got, want := rec.Line(), "hello, world,0.0,2.01"; got != want {
		t.Errorf("Line = %q, want %q", got, want)
	}
	if got, want := (Record{Start: 1, End: 1.5}).Line(), ",1.0,1.5"; got != want {
		t.Errorf("empty text Line = %q, want %q", got, want)
	}
}

func TestOutputPath(t *testing.T) {
	tests := []struct {
		audio, dir, want string
	}{
		{"talk.wav", "", "talk.txt"},
		{"/data/talk.WAV", "", "/data/talk.txt"},
		{"/data/my.wav.backup.wav", "", "/data/my.wav.backup.txt"},
		{"/data/wave.wav", "", "/data/wave.txt"},
		{"/data/recording", "", "/data/recording.txt"},
		{"/data/talk.wav", "/out", "/out/talk.txt"},
	}
	for _, tt := range tests {
		if got := OutputPath(tt.audio, tt.dir); got != tt.want {
			t.Errorf("OutputPath(%q, %q) = %q, want %q", tt.audio, tt.dir, got, tt.want)
		}
	}
}

func TestFileWriter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "talk.txt")
	w, err := NewFileWriter(path)
	if err != nil {
		t.Fatalf("NewFileWriter: %v", err)
	}
	ctx := context.Background()

	if err := w.WriteRecord(ctx, Record{Text: "one", Start: 0, End: 1.5}); err != nil {
		t.Fatal(err)
	}
	// Visible on disk before Finish.
	data, _ := os.ReadFile(path)
	if string(data) != "one,0.0,1.5\n" {
		t.Errorf("after first record file = %q", data)
	}

	if err := w.WriteRecord(ctx, Record{Text: "two", Start: 1.5, End: 2}); err != nil {
		t.Fatal(err)
	}
	if Completed(path) {
		t.Error("Completed = true before Finish")
	}
	if err := w.Finish(ctx, RunResult{}); err != nil {
		t.Fatal(err)
	}
	if err := w.Finish(ctx, RunResult{}); err != nil {
		t.Errorf("second Finish = %v, want nil", err)
	}
	if !Completed(path) {
		t.Error("Completed = false after successful Finish")
	}

	data, _ = os.ReadFile(path)
	if want := "one,0.0,1.5\ntwo,1.5,2.0\n"; string(data) != want {
		t.Errorf("file = %q, want %q", data, want)
	}

	if err := w.WriteRecord(ctx, Record{Text: "late"}); !errors.Is(err, ErrOutput) {
		t.Errorf("write after close = %v, want ErrOutput", err)
	}
}

func TestFileWriter_FailedRunStaysPartial(t *testing.T) {
	path := filepath.Join(t.TempDir(), "talk.txt")
	w, err := NewFileWriter(path)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	if err := w.WriteRecord(ctx, Record{Text: "one", Start: 0, End: 1}); err != nil {
		t.Fatal(err)
	}
	if err := w.Finish(ctx, RunResult{Err: errors.New("engine crashed")}); err != nil {
		t.Fatal(err)
	}

	data, _ := os.ReadFile(path)
	if string(data) != "one,0.0,1.0\n" {
		t.Errorf("file = %q, want the line written before the failure", data)
	}
	if Completed(path) {
		t.Error("Completed = true for a failed run")
	}
	if _, err := os.Stat(PartialMarker(path)); err != nil {
		t.Errorf("partial marker missing: %v", err)
	}

	// A rerun that succeeds clears the marker.
	w, err = NewFileWriter(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Finish(ctx, RunResult{}); err != nil {
		t.Fatal(err)
	}
	if !Completed(path) {
		t.Error("Completed = false after successful rerun")
	}
}

func TestCompleted_Missing(t *testing.T) {
	if Completed(filepath.Join(t.TempDir(), "none.txt")) {
		t.Error("Completed = true for missing transcript")
	}
}

func TestFileWriter_Truncates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "talk.txt")
	os.WriteFile(path, []byte("stale,0.0,1.0\n"), 0o644)

	w, err := NewFileWriter(path)
	if err != nil {
		t.Fatal(err)
	}
	w.Close()
	data, _ := os.ReadFile(path)
	if len(data) != 0 {
		t.Errorf("file = %q, want empty", data)
	}
}

func TestFileWriter_Unwritable(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	os.WriteFile(blocker, nil, 0o644)

	_, err := NewFileWriter(filepath.Join(blocker, "talk.txt"))
	if !errors.Is(err, ErrOutput) {
		t.Errorf("err = %v, want ErrOutput", err)
	}
}

type recordingSink struct {
	recs     []Record
	finished bool
	err      error
}

func (s *recordingSink) WriteRecord(_ context.Context, r Record) error {
	s.recs = append(s.recs, r)
	return s.err
}

func (s *recordingSink) Finish(_ context.Context, _ RunResult) error {
	s.finished = true
	return s.err
}

func TestMultiSink(t *testing.T) {
	good := &recordingSink{}
	bad := &recordingSink{err: errors.New("broker down")}
	m := MultiSink{bad, good}
	ctx := context.Background()

	if err := m.WriteRecord(ctx, Record{Text: "a"}); err == nil {
		t.Error("expected joined error")
	}
	if len(good.recs) != 1 {
		t.Errorf("good sink got %d records, want 1", len(good.recs))
	}
	if err := m.Finish(ctx, RunResult{}); err == nil {
		t.Error("expected joined error from Finish")
	}
	if !good.finished || !bad.finished {
		t.Error("Finish not delivered to every sink")
	}
}

func TestRunResultStatus(t *testing.T) {
	if s := (RunResult{}).Status(); s != "completed" {
		t.Errorf("Status = %q, want completed", s)
	}
	if s := (RunResult{Err: errors.New("x")}).Status(); s != "failed" {
		t.Errorf("Status = %q, want failed", s)
	}
}

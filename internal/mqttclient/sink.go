package mqttclient

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/snarg/vad-transcriber/internal/transcript"
)

// RecordEvent is published to <prefix>/records for every transcript line.
type RecordEvent struct {
	RunID string  `json:"run_id"`
	File  string  `json:"file"`
	Seq   int     `json:"seq"`
	Text  string  `json:"text"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// RunEvent is published to <prefix>/runs when a run ends.
type RunEvent struct {
	RunID            string  `json:"run_id"`
	File             string  `json:"file"`
	Status           string  `json:"status"`
	Segments         int     `json:"segments"`
	AudioSeconds     float64 `json:"audio_seconds"`
	InferenceSeconds float64 `json:"inference_seconds"`
	Error            string  `json:"error,omitempty"`
}

type publisher interface {
	Topic(name string) string
	Publish(topic string, payload []byte) error
}

// RunSink publishes records and the final run summary for one run.
type RunSink struct {
	pub  publisher
	info transcript.RunInfo
}

// SinkFactory returns a factory producing a RunSink per run.
func (c *Client) SinkFactory() transcript.SinkFactory {
	return func(_ context.Context, info transcript.RunInfo) (transcript.Sink, error) {
		return &RunSink{pub: c, info: info}, nil
	}
}

func (s *RunSink) WriteRecord(_ context.Context, rec transcript.Record) error {
	return s.publish("records", RecordEvent{
		RunID: s.info.ID.String(),
		File:  s.info.AudioPath,
		Seq:   rec.Index,
		Text:  rec.Text,
		Start: rec.Start,
		End:   rec.End,
	})
}

func (s *RunSink) Finish(_ context.Context, res transcript.RunResult) error {
	ev := RunEvent{
		RunID:            s.info.ID.String(),
		File:             s.info.AudioPath,
		Status:           res.Status(),
		Segments:         res.Stats.Segments,
		AudioSeconds:     res.Stats.Audio.Seconds(),
		InferenceSeconds: res.Stats.Inference.Seconds(),
	}
	if res.Err != nil {
		ev.Error = res.Err.Error()
	}
	return s.publish("runs", ev)
}

func (s *RunSink) publish(name string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", name, err)
	}
	return s.pub.Publish(s.pub.Topic(name), payload)
}

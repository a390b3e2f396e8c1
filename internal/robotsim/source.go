package robotsim

import (
	"errors"
	"sync"

	"teleop-dash/internal/sink"
	"teleop-dash/internal/telemetry"
)

// Source produces the telemetry messages pushed on /ws/data.
type Source interface {
	Next() telemetry.Message
}

// RandomSource emits randomized messages covering every field.
type RandomSource struct {
	mu  sync.Mutex
	gen *telemetry.Generator
}

// NewRandomSource returns a RandomSource; seed 0 seeds from the clock.
func NewRandomSource(seed int64) *RandomSource {
	return &RandomSource{gen: telemetry.NewGenerator(seed)}
}

func (s *RandomSource) Next() telemetry.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen.Next()
}

// ReplaySource cycles through the messages of a recorded session.
type ReplaySource struct {
	mu       sync.Mutex
	messages []telemetry.Message
	pos      int
}

// NewReplaySource loads a JSONL record file written by the dashboard.
func NewReplaySource(path string) (*ReplaySource, error) {
	recs, err := sink.ReadRecords(path)
	if err != nil {
		return nil, err
	}
	msgs := make([]telemetry.Message, len(recs))
	for i, r := range recs {
		msgs[i] = r.Message
	}
	return NewReplaySourceFromMessages(msgs)
}

// NewReplaySourceFromMessages replays msgs in order, wrapping around.
func NewReplaySourceFromMessages(msgs []telemetry.Message) (*ReplaySource, error) {
	if len(msgs) == 0 {
		return nil, errors.New("replay source: no messages")
	}
	return &ReplaySource{messages: msgs}, nil
}

func (s *ReplaySource) Next() telemetry.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.messages[s.pos]
	s.pos = (s.pos + 1) % len(s.messages)
	return m
}

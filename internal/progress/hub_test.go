package progress

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type captureSink struct {
	mu      sync.Mutex
	batches [][]Event
	closed  bool
}

func (s *captureSink) Consume(_ context.Context, batch []Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, append([]Event(nil), batch...))
	return nil
}

func (s *captureSink) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *captureSink) total() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, b := range s.batches {
		n += len(b)
	}
	return n
}

func validEvent(stage Stage) Event {
	return Event{
		ToolID: "tool-1",
		TS:     time.Now().UTC(),
		Stage:  stage,
		Region: "hero",
	}
}

func TestHub_FlushesOnBatchSize(t *testing.T) {
	sink := &captureSink{}
	hub := NewHub(Config{MaxBatch: 2, FlushInterval: time.Hour}, sink)
	defer func() { require.NoError(t, hub.Close(context.Background())) }()

	hub.Emit(validEvent(StageTargetStart))
	hub.Emit(validEvent(StageTargetDone))

	require.Eventually(t, func() bool {
		return sink.total() == 2
	}, 2*time.Second, 10*time.Millisecond)
}

func TestHub_FlushesOnInterval(t *testing.T) {
	sink := &captureSink{}
	hub := NewHub(Config{MaxBatch: 100, FlushInterval: 20 * time.Millisecond}, sink)
	defer func() { require.NoError(t, hub.Close(context.Background())) }()

	hub.Emit(validEvent(StageRegionKept))

	require.Eventually(t, func() bool {
		return sink.total() == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestHub_CloseFlushesPendingAndClosesSinks(t *testing.T) {
	sink := &captureSink{}
	hub := NewHub(Config{MaxBatch: 100, FlushInterval: time.Hour}, sink)

	hub.Emit(validEvent(StageTargetStart))
	hub.Emit(validEvent(StageTargetError))
	require.NoError(t, hub.Close(context.Background()))

	require.Equal(t, 2, sink.total())
	require.True(t, sink.closed)

	// Emits after close are dropped silently.
	hub.Emit(validEvent(StageTargetStart))
	require.Equal(t, 2, sink.total())
}

func TestHub_DiscardsInvalidEvents(t *testing.T) {
	sink := &captureSink{}
	hub := NewHub(Config{MaxBatch: 1, FlushInterval: time.Hour}, sink)

	hub.Emit(Event{Stage: StageTargetStart}) // missing timestamp and tool id
	hub.Emit(Event{TS: time.Now(), Stage: Stage("BOGUS")})
	require.NoError(t, hub.Close(context.Background()))

	require.Zero(t, sink.total())
}

func TestHub_NilSafe(t *testing.T) {
	var hub *Hub
	hub.Emit(validEvent(StageTargetStart))
	require.NoError(t, hub.Close(context.Background()))
}

func TestEventValidate(t *testing.T) {
	cases := []struct {
		name    string
		evt     Event
		wantErr bool
	}{
		{"batch start without tool", Event{TS: time.Now(), Stage: StageBatchStart}, false},
		{"target start", validEvent(StageTargetStart), false},
		{"target start missing tool", Event{TS: time.Now(), Stage: StageTargetStart}, true},
		{"region kept missing region", Event{TS: time.Now(), ToolID: "t", Stage: StageRegionKept}, true},
		{"unknown stage", Event{TS: time.Now(), Stage: Stage("NOPE")}, true},
		{"negative duration", Event{TS: time.Now(), ToolID: "t", Stage: StageTargetDone, Dur: -time.Second}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.evt.Validate()
			if tc.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

package engagement

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hitoshi/carelink/internal/model"
)

type memorySink struct {
	name string
	err  error

	mu     sync.Mutex
	events []*model.EngagementEvent
}

func (s *memorySink) Name() string { return s.name }

func (s *memorySink) Write(_ context.Context, ev *model.EngagementEvent) error {
	if s.err != nil {
		return s.err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

func (s *memorySink) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

type countingMetrics struct {
	mu     sync.Mutex
	counts map[string]int
}

func (m *countingMetrics) RecordEngagement(result string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.counts == nil {
		m.counts = map[string]int{}
	}
	m.counts[result]++
}

func (m *countingMetrics) get(result string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[result]
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRecorder_TrackFillsIDAndTimestamp(t *testing.T) {
	sink := &memorySink{name: "mem"}
	r := NewRecorder(4, []Sink{sink}, nil, quietLogger())

	r.Track(context.Background(), model.EngagementEvent{ActionType: "click", SessionID: "c1"})
	require.Equal(t, 1, r.Pending())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r.Run(ctx)

	require.Equal(t, 1, sink.len())
	assert.NotEmpty(t, sink.events[0].ID)
	assert.False(t, sink.events[0].Timestamp.IsZero())
	assert.Equal(t, "click", sink.events[0].ActionType)
}

func TestRecorder_DropsWhenFull(t *testing.T) {
	metrics := &countingMetrics{}
	r := NewRecorder(2, nil, metrics, quietLogger())

	for i := 0; i < 5; i++ {
		r.Track(context.Background(), model.EngagementEvent{ActionType: "click"})
	}

	assert.Equal(t, 2, r.Pending())
	assert.Equal(t, 2, metrics.get(ResultQueued))
	assert.Equal(t, 3, metrics.get(ResultDropped))
}

func TestRecorder_SinkErrorDoesNotStopOtherSinks(t *testing.T) {
	failing := &memorySink{name: "broken", err: errors.New("unavailable")}
	ok := &memorySink{name: "mem"}
	metrics := &countingMetrics{}
	r := NewRecorder(8, []Sink{failing, ok}, metrics, quietLogger())

	r.Track(context.Background(), model.EngagementEvent{ActionType: "vote_click"})
	r.Track(context.Background(), model.EngagementEvent{ActionType: "vote_click"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r.Run(ctx)

	assert.Equal(t, 2, ok.len())
	assert.Equal(t, 2, metrics.get(ResultSinkError))
	assert.Equal(t, 2, metrics.get(ResultWritten))
}

func TestRecorder_RunWritesWhileRunning(t *testing.T) {
	sink := &memorySink{name: "mem"}
	r := NewRecorder(8, []Sink{sink}, nil, quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()

	r.Track(context.Background(), model.EngagementEvent{ActionType: "page_view"})
	assert.Eventually(t, func() bool { return sink.len() == 1 }, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

type fakeKafkaWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *fakeKafkaWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeKafkaWriter) Close() error {
	w.closed = true
	return nil
}

func TestKafkaSink_WritesJSONKeyedBySession(t *testing.T) {
	w := &fakeKafkaWriter{}
	sink := NewKafkaSinkWithWriter(w)

	ev := &model.EngagementEvent{
		ID:          "e1",
		ActionType:  "vote_click",
		SessionID:   "client-9",
		FeatureName: "dark-mode",
		Timestamp:   time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	require.NoError(t, sink.Write(context.Background(), ev))
	require.Len(t, w.msgs, 1)
	assert.Equal(t, "client-9", string(w.msgs[0].Key))

	var decoded model.EngagementEvent
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &decoded))
	assert.Equal(t, "vote_click", decoded.ActionType)
	assert.Equal(t, "dark-mode", decoded.FeatureName)

	require.NoError(t, sink.Close())
	assert.True(t, w.closed)
	assert.Equal(t, "kafka", sink.Name())
}

func TestKafkaSink_WrapsWriteError(t *testing.T) {
	cause := errors.New("broker down")
	sink := NewKafkaSinkWithWriter(&fakeKafkaWriter{err: cause})

	err := sink.Write(context.Background(), &model.EngagementEvent{ID: "e1"})
	require.Error(t, err)
	assert.ErrorIs(t, err, cause)
}

type inserterFunc func(ctx context.Context, ev *model.EngagementEvent) error

func (f inserterFunc) Insert(ctx context.Context, ev *model.EngagementEvent) error { return f(ctx, ev) }

func TestRepositorySink_DelegatesToRepository(t *testing.T) {
	var got *model.EngagementEvent
	sink := NewRepositorySink(inserterFunc(func(_ context.Context, ev *model.EngagementEvent) error {
		got = ev
		return nil
	}))

	ev := &model.EngagementEvent{ID: "e1"}
	require.NoError(t, sink.Write(context.Background(), ev))
	assert.Same(t, ev, got)
	assert.Equal(t, "postgres", sink.Name())
}

func TestCooldown_SuppressesWithinWindow(t *testing.T) {
	c := NewCooldown(50 * time.Millisecond)
	defer c.Stop()

	assert.True(t, c.Allow("client-1:vote:F1"))
	assert.False(t, c.Allow("client-1:vote:F1"))
	assert.True(t, c.Allow("client-1:vote:F2"), "keys are independent")

	time.Sleep(70 * time.Millisecond)
	assert.True(t, c.Allow("client-1:vote:F1"))
}

func TestCooldown_DisabledAlwaysAllows(t *testing.T) {
	c := NewCooldown(0)
	defer c.Stop()

	for i := 0; i < 3; i++ {
		assert.True(t, c.Allow("k"))
	}
}

func TestCooldown_CleanupRemovesStaleEntries(t *testing.T) {
	c := NewCooldown(time.Minute)
	defer c.Stop()

	c.Allow("a")
	c.Allow("b")
	require.Equal(t, 2, c.size())

	c.cleanup(time.Now())
	assert.Equal(t, 2, c.size())

	c.cleanup(time.Now().Add(2 * time.Minute))
	assert.Equal(t, 0, c.size())

	c.Stop()
}

package logger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	mu      sync.Mutex
	topic   string
	digests []LogDigest
}

func (p *recordingPublisher) PublishMessage(_ context.Context, topic string, payload interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topic = topic
	p.digests = append(p.digests, payload.(LogDigest))
	return nil
}

func (p *recordingPublisher) all() []LogDigest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]LogDigest(nil), p.digests...)
}

func TestCollectorGroupsRepeatedErrors(t *testing.T) {
	pub := &recordingPublisher{}
	l := NewNop()
	l.AddCollector(&CollectionConfig{
		TimeInterval:   time.Hour,
		CountThreshold: 100,
		Topic:          "logs",
		Publisher:      pub,
		Source:         "test",
		VolatileFields: []string{"value"},
	})

	for i := 0; i < 3; i++ {
		l.Error("sink failed", String("sensor_id", "s-1"), Float64("value", float64(i)))
	}
	l.Error("sink failed", String("sensor_id", "s-2"), Error(errors.New("boom")))
	l.Warn("slow cycle")
	l.RemoveCollector()

	digests := pub.all()
	require.Len(t, digests, 1)
	d := digests[0]
	assert.Equal(t, "logs", pub.topic)
	assert.Equal(t, "test", d.Source)
	assert.Equal(t, 4, d.Total)
	require.Len(t, d.Entries, 2)
	assert.Equal(t, 3, d.Entries[0].Count)
	assert.Equal(t, "s-1", d.Entries[0].Fields["sensor_id"])
	assert.Equal(t, "error", d.Entries[0].Level)
	assert.Contains(t, d.Entries[0].Caller, "logger_test.go")
}

func TestCollectorIncludesWarnWhenAsked(t *testing.T) {
	pub := &recordingPublisher{}
	l := NewNop()
	l.AddCollector(&CollectionConfig{TimeInterval: time.Hour, Publisher: pub, IncludeWarn: true})

	l.Component("pipeline").Warn("throttled")
	l.RemoveCollector()

	digests := pub.all()
	require.Len(t, digests, 1)
	assert.Equal(t, "warn", digests[0].Entries[0].Level)
}

func TestCollectorFlushesAtThreshold(t *testing.T) {
	pub := &recordingPublisher{}
	c := NewLogCollector(&CollectionConfig{TimeInterval: time.Hour, CountThreshold: 2, Publisher: pub})

	c.AddLog("error", "a", nil, "x.go:1")
	c.AddLog("error", "b", nil, "x.go:2")
	c.sends.Wait()
	assert.Len(t, pub.all(), 1)

	c.Close()
	assert.Len(t, pub.all(), 1, "nothing pending at close")
}

func TestNewRejectsUnknownLevel(t *testing.T) {
	_, err := New(&Config{Level: "loud", Output: "stdout"})
	require.Error(t, err)

	l, err := New(&Config{Level: "DEBUG", Format: "json", Output: "stderr", Service: "svc"})
	require.NoError(t, err)
	l.With(String("k", "v")).Debug("ok", Duration("took", time.Second), Strings("ids", []string{"a"}))
}

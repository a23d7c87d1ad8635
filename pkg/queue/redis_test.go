package queue

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"SensorPull/pkg/logger"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type payload struct {
	SensorID string  `json:"sensor_id"`
	Value    float64 `json:"value"`
}

type recordingJob struct {
	calls atomic.Int32
	got   chan payload
	err   error
}

func (j *recordingJob) Name() string { return "recording" }
func (j *recordingJob) Type() string { return "test_msg" }

func (j *recordingJob) Handle(ctx context.Context, raw interface{}) error {
	j.calls.Add(1)
	p, err := ParsePayload[payload](raw)
	if err != nil {
		return err
	}
	if j.err != nil {
		return j.err
	}
	j.got <- *p
	return nil
}

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestRedisQueue_DeliversToRegisteredJob(t *testing.T) {
	_, client := newRedis(t)
	job := &recordingJob{got: make(chan payload, 1)}

	q := NewRedisQueue(logger.NewNop(), &QueueConfig{Workers: 1, RetryLimit: 1}, client, ModeProducerConsumer)
	q.RegisterJob(job)
	require.NoError(t, q.Start())
	t.Cleanup(func() { _ = q.Stop(context.Background()) })

	require.NoError(t, q.PublishMessage(context.Background(), "test_msg", payload{SensorID: "s-1", Value: 4.2}))

	select {
	case p := <-job.got:
		assert.Equal(t, "s-1", p.SensorID)
		assert.InDelta(t, 4.2, p.Value, 1e-9)
	case <-time.After(3 * time.Second):
		t.Fatal("message not delivered")
	}
}

func TestRedisQueue_RejectsUnknownType(t *testing.T) {
	_, client := newRedis(t)
	q := NewRedisQueue(logger.NewNop(), &QueueConfig{Workers: 1}, client, ModeProducerConsumer)
	require.NoError(t, q.Start())
	t.Cleanup(func() { _ = q.Stop(context.Background()) })

	err := q.Enqueue(context.Background(), "nobody_listens", payload{})
	assert.ErrorIs(t, err, ErrUnknownType)
}

func TestRedisQueue_PublisherUsesPrefix(t *testing.T) {
	mr, client := newRedis(t)
	q := NewRedisPublisher(logger.NewNop(), client, WithKeyPrefix("test:queue"))
	require.ErrorIs(t, q.PublishMessage(context.Background(), "anything", payload{}), ErrNotRunning)
	require.NoError(t, q.Start())
	require.ErrorIs(t, q.Start(), ErrAlreadyRunning)
	t.Cleanup(func() { _ = q.Stop(context.Background()) })

	require.NoError(t, q.PublishMessage(context.Background(), "anything", payload{SensorID: "s-2"}))

	items, err := mr.List("test:queue:messages")
	require.NoError(t, err)
	assert.Len(t, items, 1)
	assert.Contains(t, items[0], `"sensor_id":"s-2"`)

	pending, retrying, dead, err := q.Depth(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), pending)
	assert.Zero(t, retrying)
	assert.Zero(t, dead)
}

func TestRedisQueue_FailedMessageIsScheduledForRetry(t *testing.T) {
	_, client := newRedis(t)
	job := &recordingJob{got: make(chan payload, 1), err: errors.New("downstream down")}

	q := NewRedisQueue(logger.NewNop(), &QueueConfig{Workers: 1, RetryLimit: 2, RetryDelay: time.Hour}, client, ModeProducerConsumer)
	q.RegisterJob(job)
	require.NoError(t, q.Start())
	t.Cleanup(func() { _ = q.Stop(context.Background()) })

	require.NoError(t, q.PublishMessage(context.Background(), "test_msg", payload{SensorID: "s-3"}))

	assert.Eventually(t, func() bool {
		_, retrying, _, err := q.Depth(context.Background())
		return err == nil && retrying == 1
	}, 3*time.Second, 20*time.Millisecond)
	assert.Equal(t, int32(1), job.calls.Load())
}

func TestRedisQueue_PermanentFailureIsDeadLettered(t *testing.T) {
	_, client := newRedis(t)
	job := &recordingJob{got: make(chan payload, 1), err: Permanent(errors.New("malformed alert"))}

	q := NewRedisQueue(logger.NewNop(), &QueueConfig{Workers: 1, RetryLimit: 5}, client, ModeProducerConsumer)
	q.RegisterJob(job)
	require.NoError(t, q.Start())
	t.Cleanup(func() { _ = q.Stop(context.Background()) })

	require.NoError(t, q.PublishMessage(context.Background(), "test_msg", payload{SensorID: "s-4"}))

	assert.Eventually(t, func() bool {
		_, _, dead, err := q.Depth(context.Background())
		return err == nil && dead == 1
	}, 3*time.Second, 20*time.Millisecond)

	dls, err := q.DeadLetters(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, dls, 1)
	assert.Equal(t, "test_msg", dls[0].Message.Type)
	assert.Equal(t, "malformed alert", dls[0].Message.LastError)
}

func TestRedisQueue_PromoteMovesOnlyDueRetries(t *testing.T) {
	mr, client := newRedis(t)
	q := NewRedisQueue(logger.NewNop(), nil, client, ModeConsumerOnly, WithKeyPrefix("p"))
	now := time.Unix(1_700_000_000, 0)

	q.schedule(Message{ID: "due", Type: "t"}, now.Add(-time.Second))
	q.schedule(Message{ID: "later", Type: "t"}, now.Add(time.Hour))

	moved, err := q.promote(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), moved)

	items, err := mr.List("p:messages")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Contains(t, items[0], `"id":"due"`)

	members, err := mr.ZMembers("p:retry")
	require.NoError(t, err)
	require.Len(t, members, 1)
	assert.Contains(t, members[0], `"id":"later"`)
}

func TestQueueConfigBackoffDoublesUpToCap(t *testing.T) {
	cfg := (&QueueConfig{RetryDelay: time.Second, MaxRetryDelay: 5 * time.Second}).withDefaults()
	assert.Equal(t, time.Second, cfg.backoff(1))
	assert.Equal(t, 2*time.Second, cfg.backoff(2))
	assert.Equal(t, 4*time.Second, cfg.backoff(3))
	assert.Equal(t, 5*time.Second, cfg.backoff(4))
}

func TestParsePayload(t *testing.T) {
	p, err := ParsePayload[payload](map[string]interface{}{"sensor_id": "s-9", "value": 1.5})
	require.NoError(t, err)
	assert.Equal(t, payload{SensorID: "s-9", Value: 1.5}, *p)

	p, err = ParsePayload[payload](json.RawMessage(`{"sensor_id":"s-10"}`))
	require.NoError(t, err)
	assert.Equal(t, "s-10", p.SensorID)

	_, err = ParsePayload[payload](42)
	assert.Error(t, err)
}

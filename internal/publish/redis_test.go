package publish

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"psu-logger/internal/model"
)

type call struct {
	op   string
	key  string
	args []interface{}
}

type fakeRedis struct {
	mu         sync.Mutex
	calls      []call
	publishErr error
	lpushErr   error
	block      chan struct{}
	closed     bool
}

func (f *fakeRedis) record(c call) {
	f.mu.Lock()
	f.calls = append(f.calls, c)
	f.mu.Unlock()
}

func (f *fakeRedis) Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd {
	if f.block != nil {
		<-f.block
	}
	f.record(call{op: "publish", key: channel, args: []interface{}{message}})
	cmd := redis.NewIntCmd(ctx)
	if f.publishErr != nil {
		cmd.SetErr(f.publishErr)
	} else {
		cmd.SetVal(1)
	}
	return cmd
}

func (f *fakeRedis) LPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd {
	f.record(call{op: "lpush", key: key, args: values})
	cmd := redis.NewIntCmd(ctx)
	if f.lpushErr != nil {
		cmd.SetErr(f.lpushErr)
	}
	return cmd
}

func (f *fakeRedis) LTrim(ctx context.Context, key string, start, stop int64) *redis.StatusCmd {
	f.record(call{op: "ltrim", key: key, args: []interface{}{start, stop}})
	cmd := redis.NewStatusCmd(ctx)
	cmd.SetVal("OK")
	return cmd
}

func (f *fakeRedis) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func (f *fakeRedis) Calls() []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]call(nil), f.calls...)
}

type counter struct {
	mu                      sync.Mutex
	published, failed, drop int
}

func (c *counter) Published()      { c.mu.Lock(); c.published++; c.mu.Unlock() }
func (c *counter) PublishFailed()  { c.mu.Lock(); c.failed++; c.mu.Unlock() }
func (c *counter) PublishDropped() { c.mu.Lock(); c.drop++; c.mu.Unlock() }

var sample = model.Sample{
	Timestamp: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	Voltage:   "12.3",
	Current:   "",
	Power:     "5.6",
}

func TestPublishWritesChannelAndHistory(t *testing.T) {
	f := &fakeRedis{}
	port := "/dev/ttyUSB0"
	p := New(f, Config{ListLen: 10}, WithPort(func() string { return port }))
	defer p.Close()

	require.NoError(t, p.Publish(context.Background(), sample))
	calls := f.Calls()
	require.Len(t, calls, 3)
	assert.Equal(t, "publish", calls[0].op)
	assert.Equal(t, DefaultChannel, calls[0].key)
	assert.Equal(t, "lpush", calls[1].op)
	assert.Equal(t, DefaultListKey, calls[1].key)
	assert.Equal(t, []interface{}{int64(0), int64(9)}, calls[2].args)

	var msg map[string]any
	require.NoError(t, json.Unmarshal(calls[0].args[0].([]byte), &msg))
	assert.Equal(t, "12.3", msg["voltage"])
	assert.Nil(t, msg["current"])
	assert.Equal(t, "/dev/ttyUSB0", msg["port"])

	// the port is read per message, so a reconnect is picked up
	port = "/dev/ttyACM0"
	require.NoError(t, p.Publish(context.Background(), sample))
	calls = f.Calls()
	require.Len(t, calls, 6)
	require.NoError(t, json.Unmarshal(calls[3].args[0].([]byte), &msg))
	assert.Equal(t, "/dev/ttyACM0", msg["port"])
}

func TestPublishErrors(t *testing.T) {
	f := &fakeRedis{publishErr: errors.New("down")}
	lg, hook := logtest.NewNullLogger()
	p := New(f, Config{}, WithLogger(lg))
	defer p.Close()
	assert.ErrorContains(t, p.Publish(context.Background(), sample), "down")

	// history failures are logged only
	f2 := &fakeRedis{lpushErr: errors.New("readonly")}
	p2 := New(f2, Config{}, WithLogger(lg))
	defer p2.Close()
	assert.NoError(t, p2.Publish(context.Background(), sample))
	assert.Len(t, f2.Calls(), 2)
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, "lpush", hook.LastEntry().Data["op"])
}

func TestObserveSampleQueuesAndDrains(t *testing.T) {
	f := &fakeRedis{}
	rec := &counter{}
	p := New(f, Config{}, WithRecorder(rec))
	for i := 0; i < 3; i++ {
		p.ObserveSample(sample)
	}
	require.NoError(t, p.Close())

	assert.Len(t, f.Calls(), 9)
	assert.True(t, f.closed)
	assert.Equal(t, 3, rec.published)

	// after close samples are ignored
	p.ObserveSample(sample)
	assert.NoError(t, p.Close())
}

func TestObserveSampleDropsWhenFull(t *testing.T) {
	f := &fakeRedis{block: make(chan struct{})}
	rec := &counter{}
	p := New(f, Config{Queue: 1}, WithRecorder(rec))

	// one in flight at the worker, one queued, the rest dropped
	p.ObserveSample(sample)
	require.Eventually(t, func() bool { return len(p.q) == 0 }, time.Second, 5*time.Millisecond)
	p.ObserveSample(sample)
	p.ObserveSample(sample)
	p.ObserveSample(sample)

	close(f.block)
	require.NoError(t, p.Close())
	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, 2, rec.published)
	assert.Equal(t, 2, rec.drop)
}

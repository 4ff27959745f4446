package events

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisClient(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestRedisPublisher_CrossProcess(t *testing.T) {
	t.Parallel()

	_, client := newRedisClient(t)
	ctx := context.Background()

	sender := NewRedisPublisher(client)
	defer sender.Close()
	receiver := NewRedisPublisher(client)
	defer receiver.Close()
	require.NoError(t, receiver.Start(ctx))

	sub := receiver.Subscribe("run_a")
	sender.Publish(NewEvent(EventRunPaused, "run_a", RunUpdate{Status: "PAUSED", CheckpointID: "chk_abc"}))

	ev := receive(t, sub)
	assert.Equal(t, EventRunPaused, ev.Type)
	assert.Equal(t, "run_a", ev.RunID)
	data, ok := ev.Data.(map[string]any)
	require.True(t, ok, "remote payloads decode as maps")
	assert.Equal(t, "chk_abc", data["checkpoint_id"])
}

func TestRedisPublisher_NoEcho(t *testing.T) {
	t.Parallel()

	_, client := newRedisClient(t)
	p := NewRedisPublisher(client, WithRedisPrefix("test:events:"))
	defer p.Close()
	require.NoError(t, p.Start(context.Background()))
	require.NoError(t, p.Start(context.Background()))

	sub := p.Subscribe("run_a")
	p.Publish(NewEvent(EventRunStarted, "run_a", RunUpdate{Stage: "INTAKE"}))

	ev := receive(t, sub)
	assert.IsType(t, RunUpdate{}, ev.Data)

	select {
	case dup := <-sub:
		t.Fatalf("event echoed back from redis: %+v", dup)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestRedisPublisher_PublishWithoutRedis(t *testing.T) {
	t.Parallel()

	mr, client := newRedisClient(t)
	mr.Close()

	p := NewRedisPublisher(client)
	defer p.Close()
	sub := p.Subscribe("run_a")

	p.Publish(NewEvent(EventRunCompleted, "run_a", RunUpdate{Status: "COMPLETED"}))
	assert.Equal(t, EventRunCompleted, receive(t, sub).Type)
}

func TestDialRedis(t *testing.T) {
	t.Parallel()

	mr, _ := newRedisClient(t)

	client, err := DialRedis(context.Background(), "redis://"+mr.Addr())
	require.NoError(t, err)
	_ = client.Close()

	_, err = DialRedis(context.Background(), "not-a-url")
	assert.Error(t, err)
}

package receipts

import (
	"context"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"learnbyemail/internal/delivery"
	"learnbyemail/internal/eventbus"
	logx "learnbyemail/pkg/logx"
)

func TestHashRoundTrip(t *testing.T) {
	t.Parallel()
	at := time.Date(2024, 5, 1, 9, 0, 0, 123, time.UTC)
	in := Receipt{SubscriptionID: 7, Sequence: 12, Topic: "Go", Transport: "smtp", ReceiptID: "r-1", At: at}

	h := toHash(in)
	str := map[string]string{}
	for k, v := range h {
		switch v := v.(type) {
		case int:
			str[k] = strconv.Itoa(v)
		case string:
			str[k] = v
		}
	}
	out, err := fromHash(7, str)
	require.NoError(t, err)
	assert.Equal(t, in, out)

	_, err = fromHash(7, map[string]string{"seq": "x"})
	require.Error(t, err)
}

func TestConnectRejectsBadURL(t *testing.T) {
	t.Parallel()
	_, err := Connect(context.Background(), "not a url", time.Second)
	require.ErrorIs(t, err, ErrBadRedisURL)
}

func TestRecorderStoresSentDeliveries(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	store := NewMemoryStore(time.Hour)
	rec := NewRecorder(bus, store, logx.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- rec.Run(ctx) }()

	now := time.Now().UTC()
	require.Eventually(t, func() bool {
		bus.Publish(eventbus.Event{Type: "delivery.sent", Time: now, Data: delivery.DeliveryEvent{
			SubscriptionID: 3, Sequence: 2, Topic: "Go", Transport: "postmark", ReceiptID: "abc", At: now,
		}})
		_, err := store.Get(context.Background(), 3)
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)

	bus.Publish(eventbus.Event{Type: "delivery.skipped", Time: now, Data: delivery.DeliveryEvent{SubscriptionID: 4}})
	r, err := store.Get(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, "postmark", r.Transport)
	assert.Equal(t, 2, r.Sequence)

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
	_, err = store.Get(context.Background(), 4)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreExpires(t *testing.T) {
	t.Parallel()
	s := NewMemoryStore(time.Minute)
	require.NoError(t, s.Put(context.Background(), Receipt{SubscriptionID: 1, At: time.Now().Add(-2 * time.Minute)}))
	_, err := s.Get(context.Background(), 1)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestRedisStore(t *testing.T) {
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set")
	}
	ctx := context.Background()
	c, err := Connect(ctx, url, 2*time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	s := NewRedisStore(c, time.Minute)
	in := Receipt{SubscriptionID: 987654, Sequence: 1, Topic: "Go", Transport: "filedrop", ReceiptID: "x", At: time.Now().UTC()}
	require.NoError(t, s.Put(ctx, in))
	out, err := s.Get(ctx, in.SubscriptionID)
	require.NoError(t, err)
	assert.True(t, in.At.Equal(out.At))
	assert.Equal(t, in.Sequence, out.Sequence)

	ttl, err := c.TTL(ctx, key(in.SubscriptionID)).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))
	require.NoError(t, c.Del(ctx, key(in.SubscriptionID)).Err())
}

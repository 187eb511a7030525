package progress

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/BridgeIntake/internal/core"
)

func TestPublisher_Report(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	pub, err := NewPublisher(ctx, Options{Addr: mr.Addr(), ChannelPrefix: "test:"})
	require.NoError(t, err)

	sub := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer sub.Close()
	ps := sub.Subscribe(ctx, pub.Channel("tok-1"))
	defer ps.Close()
	_, err = ps.Receive(ctx)
	require.NoError(t, err)

	pub.Report("tok-1", 5)
	pub.Report("tok-1", 30)
	require.NoError(t, pub.Close())

	var got []int
	ch := ps.Channel()
	timeout := time.After(2 * time.Second)
	for len(got) < 2 {
		select {
		case msg := <-ch:
			assert.Equal(t, "test:tok-1", msg.Channel)
			var ev core.ProgressEvent
			require.NoError(t, json.Unmarshal([]byte(msg.Payload), &ev))
			assert.Equal(t, "tok-1", ev.CorrelationID)
			got = append(got, ev.Percent)
		case <-timeout:
			t.Fatalf("received %v, want two events", got)
		}
	}
	assert.Equal(t, []int{5, 30}, got)
}

func TestNewPublisher_Unreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := NewPublisher(ctx, Options{Addr: addr})
	assert.Error(t, err)
}

func TestPublisher_DefaultPrefix(t *testing.T) {
	mr := miniredis.RunT(t)
	pub, err := NewPublisher(context.Background(), Options{Addr: mr.Addr()})
	require.NoError(t, err)
	defer pub.Close()

	assert.Equal(t, "intake:progress:abc", pub.Channel("abc"))
}

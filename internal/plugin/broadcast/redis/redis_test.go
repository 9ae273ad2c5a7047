package redis_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/chirino/chat-service/internal/plugin/broadcast/redis"
	registrybroadcast "github.com/chirino/chat-service/internal/registry/broadcast"
	"github.com/chirino/chat-service/internal/testutil/testredis"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFanOutAcrossReplicas(t *testing.T) {
	if testing.Short() {
		t.Skip("requires a container runtime")
	}
	url := testredis.StartRedis(t)
	ctx := context.Background()

	a, err := redis.Connect(ctx, url, "rooms-test")
	require.NoError(t, err)
	defer a.Close()
	b, err := redis.Connect(ctx, url, "rooms-test")
	require.NoError(t, err)
	defer b.Close()

	var mu sync.Mutex
	var gotA, gotB []registrybroadcast.Envelope
	a.Subscribe(func(env registrybroadcast.Envelope) { mu.Lock(); gotA = append(gotA, env); mu.Unlock() })
	b.Subscribe(func(env registrybroadcast.Envelope) { mu.Lock(); gotB = append(gotB, env); mu.Unlock() })

	conv := uuid.New()
	for _, name := range []string{"user_message", "assistant_typing", "assistant_message"} {
		require.NoError(t, a.Publish(ctx, registrybroadcast.Envelope{
			ConversationID: conv,
			Event:          name,
			Data:           json.RawMessage(`{"n":1}`),
			Except:         "conn-1",
		}))
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(gotA) == 3 && len(gotB) == 3
	}, 5*time.Second, 20*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "user_message", gotB[0].Event)
	assert.Equal(t, "assistant_message", gotB[2].Event)
	assert.Equal(t, conv, gotB[0].ConversationID)
	assert.Equal(t, "conn-1", gotB[0].Except)
	assert.JSONEq(t, `{"n":1}`, string(gotA[1].Data))
}

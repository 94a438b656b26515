package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryFlag(t *testing.T) {
	ctx := context.Background()
	f := NewMemoryFlag()

	release, err := f.Acquire(ctx, "project:1")
	require.NoError(t, err)

	_, err = f.Acquire(ctx, "project:1")
	assert.ErrorIs(t, err, ErrInFlight)

	held, err := f.Held(ctx, "project:1")
	require.NoError(t, err)
	assert.True(t, held)

	_, err = f.Acquire(ctx, "project:2")
	assert.NoError(t, err)

	release()
	release()
	held, _ = f.Held(ctx, "project:1")
	assert.False(t, held)

	again, err := f.Acquire(ctx, "project:1")
	require.NoError(t, err)
	// 旧的 release 不得释放新的持有者。
	release()
	held, _ = f.Held(ctx, "project:1")
	assert.True(t, held)
	again()
}

func TestRedisFlag_ReleaseFailureIsLogged(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 200 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()

	var buf bytes.Buffer
	f := NewRedisFlag(client, 0, slog.New(slog.NewTextHandler(&buf, nil)))
	assert.Equal(t, DefaultFlagTTL, f.ttl)

	f.release("project:1", "token")
	out := buf.String()
	assert.Contains(t, out, "level=WARN")
	assert.Contains(t, out, "release in-flight flag failed")
	assert.Contains(t, out, "key=project:1")
	assert.Contains(t, out, "error=")
}

func TestHub_PublishSubscribe(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	hub := NewHub()

	msgs, closeFn, err := hub.Subscribe(ctx, ProjectChannel(7))
	require.NoError(t, err)
	other, closeOther, err := hub.Subscribe(ctx, ProjectChannel(8))
	require.NoError(t, err)
	defer closeOther()

	require.NoError(t, hub.Publish(ctx, Message{Kind: KindReport, Status: StatusCompleted, ProjectID: 7, FileName: "Bridge X.pdf"}))

	select {
	case raw := <-msgs:
		var got Message
		require.NoError(t, json.Unmarshal([]byte(raw), &got))
		assert.Equal(t, StatusCompleted, got.Status)
		assert.Equal(t, "Bridge X.pdf", got.FileName)
	case <-time.After(time.Second):
		t.Fatal("no message delivered")
	}

	select {
	case <-other:
		t.Fatal("message leaked to another channel")
	default:
	}

	closeFn()
	closeFn()
	_, open := <-msgs
	assert.False(t, open)
}

func TestMessageChannel(t *testing.T) {
	assert.Equal(t, "project_notify:3", Message{Kind: KindReport, ProjectID: 3}.Channel())
	assert.Equal(t, "template_notify:4", Message{Kind: KindTemplatePreview, TemplateID: 4}.Channel())
}

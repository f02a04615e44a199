package rabbitmq

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func disconnectedClient(cfg *Config) *Client {
	return &Client{
		config: cfg,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func TestClient_OperationsRequireConnection(t *testing.T) {
	c := disconnectedClient(&Config{QueueName: "cms_jobs_queue"})
	ctx := context.Background()

	assert.ErrorIs(t, c.Publish(ctx, []byte(`{}`), "application/json"), ErrNotConnected)
	assert.ErrorIs(t, c.PublishWithRetry(ctx, []byte(`{}`), "application/json"), ErrNotConnected)
	assert.ErrorIs(t, c.PublishDelayed(ctx, []byte(`{}`), "application/json", time.Second), ErrNotConnected)

	_, ok, err := c.Get()
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrNotConnected)

	assert.ErrorIs(t, c.Ack(1), ErrNotConnected)
	assert.ErrorIs(t, c.Nack(1, false), ErrNotConnected)
	assert.False(t, c.IsConnected())
}

func TestClient_CloseWithoutConnection(t *testing.T) {
	c := disconnectedClient(&Config{})
	assert.NoError(t, c.Close())
}

func TestNewClient_FailsFastWhenBrokerUnreachable(t *testing.T) {
	c, err := NewClient(&Config{
		Host:              "127.0.0.1",
		Port:              1,
		User:              "guest",
		Password:          "guest",
		RetryAttempts:     1,
		ConnectionTimeout: 200 * time.Millisecond,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))

	assert.Nil(t, c)
	assert.ErrorContains(t, err, "failed to create RabbitMQ client")
}

func TestNormalizeRetryDelays(t *testing.T) {
	got := NormalizeRetryDelays([]time.Duration{
		time.Minute,
		5 * time.Second,
		0,
		-time.Second,
		5*time.Second + 300*time.Microsecond,
		time.Minute,
	})
	assert.Equal(t, []time.Duration{5 * time.Second, time.Minute}, got)
	assert.Empty(t, NormalizeRetryDelays(nil))
}

func TestRetryTier(t *testing.T) {
	tiers := []time.Duration{5 * time.Second, 10 * time.Second, 5 * time.Minute}

	tests := []struct {
		name  string
		delay time.Duration
		want  time.Duration
	}{
		{name: "below smallest", delay: time.Millisecond, want: 5 * time.Second},
		{name: "exact tier", delay: 10 * time.Second, want: 10 * time.Second},
		{name: "just under a tier", delay: 10*time.Second - time.Millisecond, want: 10 * time.Second},
		{name: "between tiers rounds up", delay: 11 * time.Second, want: 5 * time.Minute},
		{name: "beyond largest", delay: time.Hour, want: 5 * time.Minute},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, RetryTier(tiers, tt.delay))
		})
	}
}

func TestRetryQueueName(t *testing.T) {
	assert.Equal(t, "cms_jobs_retry.5s", RetryQueueName("cms_jobs_retry", 5*time.Second))
	assert.Equal(t, "cms_jobs_retry.5m0s", RetryQueueName("cms_jobs_retry", 5*time.Minute))
}

func TestClient_RetryDelaysFallBackToDefaults(t *testing.T) {
	c := disconnectedClient(&Config{RetryQueue: "cms_jobs_retry"})
	assert.Equal(t, DefaultRetryDelays, c.retryDelays())

	c = disconnectedClient(&Config{RetryQueue: "cms_jobs_retry", RetryDelays: []time.Duration{time.Minute, time.Second}})
	assert.Equal(t, []time.Duration{time.Second, time.Minute}, c.retryDelays())
}

func TestClient_PublishDelayedWithoutDelayPublishesDirectly(t *testing.T) {
	c := disconnectedClient(&Config{RetryQueue: "cms_jobs_retry"})
	// PublishWithRetry gives up at once on a closed connection
	err := c.PublishDelayed(context.Background(), []byte(`{}`), "application/json", 0)
	assert.ErrorIs(t, err, ErrNotConnected)
}

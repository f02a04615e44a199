package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// ErrNotConnected is returned by every operation after Close or before connect
var ErrNotConnected = errors.New("not connected to RabbitMQ")

// DefaultRetryDelays is used when a retry queue is configured without tiers
var DefaultRetryDelays = []time.Duration{
	time.Second,
	5 * time.Second,
	30 * time.Second,
	time.Minute,
	5 * time.Minute,
	15 * time.Minute,
}

// Config holds RabbitMQ connection configuration. Each of RetryDelays gets
// its own retry queue named "<RetryQueue>.<delay>" with a fixed message TTL.
type Config struct {
	Host               string
	Port               int
	User               string
	Password           string
	VHost              string
	ExchangeName       string
	ExchangeType       string
	ExchangeDurable    bool
	ExchangeAutoDelete bool
	QueueName          string
	QueueDurable       bool
	QueueAutoDelete    bool
	QueueExclusive     bool
	RoutingKey         string
	DeadLetterExchange string
	DeadLetterQueue    string
	RetryQueue         string
	RetryDelays        []time.Duration
	RetryAttempts      int
	RetryInterval      time.Duration
	Heartbeat          time.Duration
	ConnectionTimeout  time.Duration
	PublishRetries     int
	PublishRetryDelay  time.Duration
	PublishBackoffMult float64
}

// Client represents a RabbitMQ client. A single channel is shared, so
// channel operations are serialized.
type Client struct {
	config      *Config
	conn        *amqp.Connection
	channel     *amqp.Channel
	logger      *slog.Logger
	mu          sync.Mutex
	isConnected bool
}

// NewClient creates a new RabbitMQ client
func NewClient(config *Config, logger *slog.Logger) (*Client, error) {
	client := &Client{
		config: config,
		logger: logger,
	}

	if err := client.connect(); err != nil {
		return nil, fmt.Errorf("failed to create RabbitMQ client: %w", err)
	}

	return client, nil
}

// connect establishes connection to RabbitMQ with retry logic
func (c *Client) connect() error {
	var err error

	vhost := c.config.VHost
	if vhost == "" || vhost == "/" {
		vhost = "/"
	} else if vhost[0] != '/' {
		vhost = "/" + vhost
	}

	dsn := fmt.Sprintf("amqp://%s:%s@%s:%d%s",
		c.config.User,
		c.config.Password,
		c.config.Host,
		c.config.Port,
		vhost,
	)

	amqpConfig := amqp.Config{
		Heartbeat: c.config.Heartbeat,
		Locale:    "en_US",
	}
	if c.config.ConnectionTimeout > 0 {
		amqpConfig.Dial = amqp.DefaultDial(c.config.ConnectionTimeout)
	}

	attempts := c.config.RetryAttempts
	if attempts <= 0 {
		attempts = 1
	}

	for attempt := 1; attempt <= attempts; attempt++ {
		c.logger.Info("Connecting to RabbitMQ",
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", attempts),
		)

		c.conn, err = amqp.DialConfig(dsn, amqpConfig)
		if err == nil {
			break
		}

		c.logger.Error("Failed to connect to RabbitMQ",
			slog.Any("error", err),
			slog.Int("attempt", attempt),
		)

		if attempt < attempts {
			time.Sleep(c.config.RetryInterval)
		}
	}

	if err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ after %d attempts: %w", attempts, err)
	}

	c.channel, err = c.conn.Channel()
	if err != nil {
		c.conn.Close()
		return fmt.Errorf("failed to create channel: %w", err)
	}

	if err := c.setup(); err != nil {
		c.channel.Close()
		c.conn.Close()
		return fmt.Errorf("failed to setup exchange and queue: %w", err)
	}

	c.isConnected = true

	c.logger.Info("RabbitMQ client initialized",
		slog.String("exchange", c.config.ExchangeName),
		slog.String("queue", c.config.QueueName),
		slog.String("dead_letter_exchange", c.config.DeadLetterExchange),
		slog.String("retry_queue", c.config.RetryQueue),
	)

	return nil
}

// setup declares the work exchange and queue, the dead-letter exchange and
// queue, and one retry queue per delay tier whose expired messages flow back
// to the work exchange
func (c *Client) setup() error {
	err := c.channel.ExchangeDeclare(
		c.config.ExchangeName,       // name
		c.config.ExchangeType,       // type
		c.config.ExchangeDurable,    // durable
		c.config.ExchangeAutoDelete, // auto-deleted
		false,                       // internal
		false,                       // no-wait
		nil,                         // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare exchange: %w", err)
	}

	queueArgs := amqp.Table{}
	if c.config.DeadLetterExchange != "" {
		if err := c.channel.ExchangeDeclare(c.config.DeadLetterExchange, amqp.ExchangeFanout, true, false, false, false, nil); err != nil {
			return fmt.Errorf("failed to declare dead-letter exchange: %w", err)
		}
		if c.config.DeadLetterQueue != "" {
			if _, err := c.channel.QueueDeclare(c.config.DeadLetterQueue, true, false, false, false, nil); err != nil {
				return fmt.Errorf("failed to declare dead-letter queue: %w", err)
			}
			if err := c.channel.QueueBind(c.config.DeadLetterQueue, "", c.config.DeadLetterExchange, false, nil); err != nil {
				return fmt.Errorf("failed to bind dead-letter queue: %w", err)
			}
		}
		queueArgs["x-dead-letter-exchange"] = c.config.DeadLetterExchange
	}

	_, err = c.channel.QueueDeclare(
		c.config.QueueName,       // name
		c.config.QueueDurable,    // durable
		c.config.QueueAutoDelete, // auto-delete
		c.config.QueueExclusive,  // exclusive
		false,                    // no-wait
		queueArgs,                // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare queue: %w", err)
	}

	err = c.channel.QueueBind(
		c.config.QueueName,    // queue name
		c.config.RoutingKey,   // routing key
		c.config.ExchangeName, // exchange
		false,                 // no-wait
		nil,                   // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to bind queue: %w", err)
	}

	if c.config.RetryQueue != "" {
		// broker expiry only happens at the head of a queue, so every queue
		// holds a single TTL
		for _, tier := range c.retryDelays() {
			name := RetryQueueName(c.config.RetryQueue, tier)
			_, err = c.channel.QueueDeclare(name, true, false, false, false, amqp.Table{
				"x-message-ttl":             tier.Milliseconds(),
				"x-dead-letter-exchange":    c.config.ExchangeName,
				"x-dead-letter-routing-key": c.config.RoutingKey,
			})
			if err != nil {
				return fmt.Errorf("failed to declare retry queue %s: %w", name, err)
			}
		}
	}

	return nil
}

func (c *Client) publishing(body []byte, contentType string) amqp.Publishing {
	return amqp.Publishing{
		ContentType:  contentType,
		Body:         body,
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
	}
}

// Publish publishes a message to the work exchange
func (c *Client) Publish(ctx context.Context, body []byte, contentType string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.isConnected {
		return ErrNotConnected
	}

	err := c.channel.PublishWithContext(
		ctx,
		c.config.ExchangeName, // exchange
		c.config.RoutingKey,   // routing key
		false,                 // mandatory
		false,                 // immediate
		c.publishing(body, contentType),
	)
	if err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}

	c.logger.Debug("Message published to RabbitMQ",
		slog.Int("body_size", len(body)),
		slog.String("content_type", contentType),
	)

	return nil
}

// PublishWithRetry publishes a message to RabbitMQ with retry logic and exponential backoff
func (c *Client) PublishWithRetry(ctx context.Context, body []byte, contentType string) error {
	maxRetries := c.config.PublishRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}

	baseDelay := c.config.PublishRetryDelay
	if baseDelay <= 0 {
		baseDelay = 100 * time.Millisecond
	}

	backoffMult := c.config.PublishBackoffMult
	if backoffMult <= 1 {
		backoffMult = 2.0
	}

	var lastErr error
	delay := baseDelay
	for attempt := 0; attempt <= maxRetries; attempt++ {
		lastErr = c.Publish(ctx, body, contentType)
		if lastErr == nil {
			if attempt > 0 {
				c.logger.Info("Successfully published message to RabbitMQ after retry",
					slog.Int("attempt", attempt+1),
				)
			}
			return nil
		}
		if errors.Is(lastErr, ErrNotConnected) {
			return lastErr
		}

		if attempt < maxRetries {
			c.logger.Warn("Failed to publish message to RabbitMQ, retrying...",
				slog.Int("attempt", attempt+1),
				slog.Int("max_retries", maxRetries),
				slog.Duration("retry_after", delay),
				slog.Any("error", lastErr),
			)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay = time.Duration(float64(delay) * backoffMult)
		}
	}

	c.logger.Error("Failed to publish message to RabbitMQ after all retries",
		slog.Int("attempts", maxRetries+1),
		slog.Any("error", lastErr),
	)
	return fmt.Errorf("failed to publish message after %d attempts: %w", maxRetries+1, lastErr)
}

// PublishDelayed parks a message in the retry queue of the smallest tier
// covering delay; the broker moves it back to the work exchange once the
// tier's TTL has elapsed. Delays beyond the largest tier use the largest.
func (c *Client) PublishDelayed(ctx context.Context, body []byte, contentType string, delay time.Duration) error {
	if c.config.RetryQueue == "" || delay <= 0 {
		return c.PublishWithRetry(ctx, body, contentType)
	}

	tier := RetryTier(c.retryDelays(), delay)
	queue := RetryQueueName(c.config.RetryQueue, tier)

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.isConnected {
		return ErrNotConnected
	}

	// default exchange routes by queue name
	if err := c.channel.PublishWithContext(ctx, "", queue, false, false, c.publishing(body, contentType)); err != nil {
		return fmt.Errorf("failed to publish delayed message: %w", err)
	}

	c.logger.Debug("Delayed message published to RabbitMQ",
		slog.String("retry_queue", queue),
		slog.Duration("delay", delay),
		slog.Duration("tier", tier),
	)
	return nil
}

func (c *Client) retryDelays() []time.Duration {
	tiers := NormalizeRetryDelays(c.config.RetryDelays)
	if len(tiers) == 0 {
		return DefaultRetryDelays
	}
	return tiers
}

// NormalizeRetryDelays returns the positive delays sorted ascending without
// duplicates, truncated to whole milliseconds
func NormalizeRetryDelays(delays []time.Duration) []time.Duration {
	tiers := make([]time.Duration, 0, len(delays))
	for _, d := range delays {
		d = d.Truncate(time.Millisecond)
		if d > 0 {
			tiers = append(tiers, d)
		}
	}
	slices.Sort(tiers)
	return slices.Compact(tiers)
}

// RetryTier picks the smallest tier not shorter than delay, or the largest
// tier when delay exceeds them all. tiers must be sorted ascending.
func RetryTier(tiers []time.Duration, delay time.Duration) time.Duration {
	for _, tier := range tiers {
		if tier >= delay {
			return tier
		}
	}
	return tiers[len(tiers)-1]
}

// RetryQueueName is the queue holding messages of one delay tier
func RetryQueueName(base string, tier time.Duration) string {
	return base + "." + tier.String()
}

// Get polls a single message from the work queue with manual
// acknowledgement. ok is false when the queue is empty.
func (c *Client) Get() (delivery amqp.Delivery, ok bool, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.isConnected {
		return amqp.Delivery{}, false, ErrNotConnected
	}

	delivery, ok, err = c.channel.Get(c.config.QueueName, false)
	if err != nil {
		return amqp.Delivery{}, false, fmt.Errorf("failed to get message: %w", err)
	}
	return delivery, ok, nil
}

// Ack acknowledges a delivery obtained from Get
func (c *Client) Ack(tag uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.isConnected {
		return ErrNotConnected
	}
	return c.channel.Ack(tag, false)
}

// Nack rejects a delivery obtained from Get. Without requeue the broker
// routes it to the dead-letter exchange.
func (c *Client) Nack(tag uint64, requeue bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.isConnected {
		return ErrNotConnected
	}
	return c.channel.Nack(tag, false, requeue)
}

// Close closes the RabbitMQ connection
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.logger.Info("Closing RabbitMQ connection")
	c.isConnected = false

	if c.channel != nil {
		if err := c.channel.Close(); err != nil {
			c.logger.Error("Failed to close RabbitMQ channel",
				slog.Any("error", err),
			)
		}
	}

	if c.conn != nil {
		if err := c.conn.Close(); err != nil {
			c.logger.Error("Failed to close RabbitMQ connection",
				slog.Any("error", err),
			)
			return err
		}
	}

	c.logger.Info("RabbitMQ connection closed successfully")
	return nil
}

// IsConnected returns the connection status
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.isConnected && c.conn != nil && !c.conn.IsClosed()
}

package rabbitmq

import (
	"context"
	"strconv"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// AttemptHeader counts deliveries of a job message across retries.
const AttemptHeader = "x-attempt"

type Consumer struct {
	conn       *amqp.Connection
	ch         *amqp.Channel
	queue      string
	retryDelay time.Duration
}

// NewConsumer opens a channel limited to prefetch unacked deliveries.
func NewConsumer(url, queue string, prefetch int, retryDelay time.Duration) (*Consumer, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	if err := DeclareTopology(ch, queue); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}
	if err := ch.Qos(prefetch, 0, false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}
	if retryDelay <= 0 {
		retryDelay = 10 * time.Second
	}
	return &Consumer{conn: conn, ch: ch, queue: queue, retryDelay: retryDelay}, nil
}

func (c *Consumer) Deliveries() (<-chan amqp.Delivery, error) {
	return c.ch.Consume(c.queue, "", false, false, false, false, nil)
}

// Retry republishes d to the retry queue, where it waits retryDelay before
// dead-lettering back to the main queue. The caller still acks d.
func (c *Consumer) Retry(ctx context.Context, d amqp.Delivery) error {
	cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	return c.ch.PublishWithContext(cctx, "", c.queue+".retry", false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         d.Body,
		Expiration:   formatMillis(c.retryDelay),
		Headers:      amqp.Table{AttemptHeader: int32(Attempt(d) + 1)},
		Timestamp:    time.Now(),
	})
}

func (c *Consumer) Close() error {
	if c.ch != nil {
		_ = c.ch.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// Attempt returns the 1-based delivery attempt recorded in the headers.
func Attempt(d amqp.Delivery) int {
	switch v := d.Headers[AttemptHeader].(type) {
	case int32:
		return max(int(v), 1)
	case int64:
		return max(int(v), 1)
	case int:
		return max(v, 1)
	}
	return 1
}

func formatMillis(d time.Duration) string {
	return strconv.FormatInt(d.Milliseconds(), 10)
}

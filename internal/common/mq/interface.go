package mq

import (
	"context"
	"time"
)

// MessageQueue is implemented by the Kafka and NATS backends.
type MessageQueue interface {
	Publisher
	Subscriber

	// Ping verifies the broker connection is alive
	Ping(ctx context.Context) error

	// Close stops consumers and releases the connection
	Close() error
}

// Publisher publishes messages to a topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, message *Message) error
}

// Subscriber delivers messages of a topic to a handler.
type Subscriber interface {
	// Subscribe registers handler for topic. Consumption begins on Start.
	Subscribe(ctx context.Context, topic string, handler HandlerFunc, opts *SubscribeOptions) error

	// Start starts consuming messages
	Start() error

	// Stop gracefully stops consuming messages
	Stop() error
}

// Message represents a message in the queue
type Message struct {
	ID         string            `json:"id"`
	Body       []byte            `json:"body"`
	Headers    map[string]string `json:"headers"`
	Timestamp  time.Time         `json:"timestamp"`
	RetryCount int               `json:"retry_count"`
	MaxRetries int               `json:"max_retries"`
}

// HandlerFunc processes one message. A non-nil error triggers a retry.
type HandlerFunc func(ctx context.Context, message *Message) error

// SubscribeOptions defines options for subscribing to a topic
type SubscribeOptions struct {
	// ConsumerGroup is the Kafka group id or the NATS queue group.
	ConsumerGroup string

	// Concurrency sets the number of concurrent workers. Default: 1
	Concurrency int

	// MaxRetries sets the maximum number of retries. Default: 3
	MaxRetries int

	// RetryDelay sets the delay between retries. Default: 1 second
	RetryDelay time.Duration

	// DeadLetterTopic receives messages that exhausted their retries.
	DeadLetterTopic string
}

// SetDefaults sets default values for subscribe options
func (o *SubscribeOptions) SetDefaults() {
	if o.Concurrency == 0 {
		o.Concurrency = 1
	}
	if o.MaxRetries == 0 {
		o.MaxRetries = 3
	}
	if o.RetryDelay == 0 {
		o.RetryDelay = time.Second
	}
}

// NewMessage creates a new message with the given body
func NewMessage(id string, body []byte) *Message {
	return &Message{
		ID:         id,
		Body:       body,
		Headers:    make(map[string]string),
		Timestamp:  time.Now(),
		MaxRetries: 3,
	}
}

// SetHeader sets a header value
func (m *Message) SetHeader(key, value string) {
	if m.Headers == nil {
		m.Headers = make(map[string]string)
	}
	m.Headers[key] = value
}

// GetHeader retrieves a header value
func (m *Message) GetHeader(key string) (string, bool) {
	if m.Headers == nil {
		return "", false
	}
	val, ok := m.Headers[key]
	return val, ok
}

// deliver runs handler until it succeeds or retries run out. Exhausted
// messages go to deadLetter when it is set. ctx cancellation aborts the wait
// between attempts.
func deliver(ctx context.Context, handler HandlerFunc, m *Message, opts SubscribeOptions, deadLetter func(*Message)) {
	if m.MaxRetries == 0 {
		m.MaxRetries = opts.MaxRetries
	}
	for {
		if err := handler(ctx, m); err == nil {
			return
		}
		m.RetryCount++
		if m.RetryCount > m.MaxRetries {
			if deadLetter != nil {
				deadLetter(m)
			}
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(opts.RetryDelay):
		}
	}
}

package mq

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// NatsConfig defines configuration for the NATS implementation.
type NatsConfig struct {
	URL           string        `yaml:"url"`
	Name          string        `yaml:"name"`
	ConnectWait   time.Duration `yaml:"connectWait"`
	MaxReconnects int           `yaml:"maxReconnects"`
}

// NatsQueue implements MessageQueue on core NATS subjects. Queue groups
// give the same one-consumer-per-group delivery as Kafka consumer groups.
type NatsQueue struct {
	conn *nats.Conn

	mu            sync.Mutex
	subscriptions []*natsSubscription
	started       bool
	closed        bool
}

type natsSubscription struct {
	topic   string
	handler HandlerFunc
	opts    SubscribeOptions
	baseCtx context.Context

	sub    *nats.Subscription
	msgCh  chan *nats.Msg
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewNatsQueue connects to the NATS server at cfg.URL.
func NewNatsQueue(cfg NatsConfig) (*NatsQueue, error) {
	if cfg.URL == "" {
		return nil, errors.New("url is required")
	}
	if cfg.ConnectWait == 0 {
		cfg.ConnectWait = 5 * time.Second
	}
	if cfg.MaxReconnects == 0 {
		cfg.MaxReconnects = 60
	}
	conn, err := nats.Connect(cfg.URL,
		nats.Name(cfg.Name),
		nats.Timeout(cfg.ConnectWait),
		nats.MaxReconnects(cfg.MaxReconnects),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &NatsQueue{conn: conn}, nil
}

// NewNatsQueueWithConn wraps an established connection.
func NewNatsQueueWithConn(conn *nats.Conn) (*NatsQueue, error) {
	if conn == nil {
		return nil, errors.New("conn cannot be nil")
	}
	return &NatsQueue{conn: conn}, nil
}

// Publish publishes a message to the subject named topic.
func (n *NatsQueue) Publish(ctx context.Context, topic string, message *Message) error {
	if message == nil {
		return errors.New("message is nil")
	}
	if topic == "" {
		return errors.New("topic is required")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := n.conn.PublishMsg(toNatsMsg(topic, message)); err != nil {
		return err
	}
	return n.conn.FlushWithContext(ctx)
}

// Subscribe subscribes to a subject within a queue group.
func (n *NatsQueue) Subscribe(ctx context.Context, topic string, handler HandlerFunc, opts *SubscribeOptions) error {
	if topic == "" {
		return errors.New("topic is required")
	}
	if handler == nil {
		return errors.New("handler is required")
	}
	var options SubscribeOptions
	if opts != nil {
		options = *opts
	}
	options.SetDefaults()
	if options.ConsumerGroup == "" {
		options.ConsumerGroup = fmt.Sprintf("codelab-%s", topic)
	}

	sub := &natsSubscription{
		topic:   topic,
		handler: handler,
		opts:    options,
		baseCtx: ctx,
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return errors.New("message queue is closed")
	}
	n.subscriptions = append(n.subscriptions, sub)
	if n.started {
		return n.startSubscription(sub)
	}
	return nil
}

// Start starts consuming messages for all subscriptions.
func (n *NatsQueue) Start() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return errors.New("message queue is closed")
	}
	if n.started {
		return nil
	}
	for _, sub := range n.subscriptions {
		if err := n.startSubscription(sub); err != nil {
			return err
		}
	}
	n.started = true
	return nil
}

func (n *NatsQueue) startSubscription(sub *natsSubscription) error {
	if sub.baseCtx == nil {
		sub.baseCtx = context.Background()
	}
	sub.ctx, sub.cancel = context.WithCancel(sub.baseCtx)
	sub.msgCh = make(chan *nats.Msg, 64)

	s, err := n.conn.ChanQueueSubscribe(sub.topic, sub.opts.ConsumerGroup, sub.msgCh)
	if err != nil {
		sub.cancel()
		return fmt.Errorf("subscribe %s: %w", sub.topic, err)
	}
	sub.sub = s

	for i := 0; i < sub.opts.Concurrency; i++ {
		sub.wg.Add(1)
		go func() {
			defer sub.wg.Done()
			for {
				select {
				case <-sub.ctx.Done():
					return
				case msg := <-sub.msgCh:
					n.handleMessage(sub, msg)
				}
			}
		}()
	}
	return nil
}

func (n *NatsQueue) handleMessage(sub *natsSubscription, msg *nats.Msg) {
	var deadLetter func(*Message)
	if sub.opts.DeadLetterTopic != "" {
		deadLetter = func(m *Message) {
			_ = n.Publish(sub.ctx, sub.opts.DeadLetterTopic, m)
		}
	}
	deliver(sub.ctx, sub.handler, fromNatsMsg(msg), sub.opts, deadLetter)
}

// Stop unsubscribes and waits for in-flight handlers.
func (n *NatsQueue) Stop() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, sub := range n.subscriptions {
		if sub.sub != nil {
			_ = sub.sub.Unsubscribe()
			sub.sub = nil
		}
		if sub.cancel != nil {
			sub.cancel()
		}
	}
	for _, sub := range n.subscriptions {
		sub.wg.Wait()
	}
	n.started = false
	return nil
}

// Ping measures a round trip to the server.
func (n *NatsQueue) Ping(ctx context.Context) error {
	return n.conn.FlushWithContext(ctx)
}

// Close stops consumers and drains the connection.
func (n *NatsQueue) Close() error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil
	}
	n.closed = true
	n.mu.Unlock()

	_ = n.Stop()
	return n.conn.Drain()
}

func toNatsMsg(subject string, message *Message) *nats.Msg {
	if message.Timestamp.IsZero() {
		message.Timestamp = time.Now()
	}
	header := nats.Header{}
	for k, v := range message.Headers {
		header.Set(k, v)
	}
	if message.ID != "" {
		header.Set(headerID, message.ID)
	}
	header.Set(headerTimestamp, message.Timestamp.Format(time.RFC3339Nano))
	if message.RetryCount != 0 {
		header.Set(headerRetryCount, strconv.Itoa(message.RetryCount))
	}
	if message.MaxRetries != 0 {
		header.Set(headerMaxRetries, strconv.Itoa(message.MaxRetries))
	}
	return &nats.Msg{Subject: subject, Data: message.Body, Header: header}
}

func fromNatsMsg(msg *nats.Msg) *Message {
	m := &Message{
		Body:    msg.Data,
		Headers: make(map[string]string),
	}
	for key := range msg.Header {
		value := msg.Header.Get(key)
		if !applyReservedHeader(m, key, value) {
			m.Headers[key] = value
		}
	}
	return m
}

var _ MessageQueue = (*NatsQueue)(nil)

// Package amqpbridge owns the broker connection shared by the intake and
// worker processes: topology declaration, a capped per-queue channel pool,
// consuming with dead-letter capture, and direct reply-to RPC.
package amqpbridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/finthenticate/server/internal/config"
	"github.com/finthenticate/server/internal/domain"
	"github.com/finthenticate/server/internal/observability/metrics"
	"github.com/finthenticate/server/internal/pkg/id"
)

const replyToQueue = "amq.rabbitmq.reply-to"

// ErrReplyTimeout reports an RPC request whose reply did not arrive inside
// the reply window.
var ErrReplyTimeout = errors.New("rpc reply timed out")

// Handler processes one delivery. A non-nil reply is sent back when the
// delivery carries a reply-to address; a non-nil error dead-letters the
// message instead of requeueing it.
type Handler func(ctx context.Context, body []byte) ([]byte, error)

type consumerSpec struct {
	queue   string
	handler Handler
}

// Bridge is the long-lived broker client. It reconnects forever at a fixed
// delay and restarts registered consumers after every reconnect.
type Bridge struct {
	url            string
	logger         *slog.Logger
	prefetch       int
	maxChannels    int
	reconnectDelay time.Duration
	replyTimeout   time.Duration

	loginQueue      string
	deadLetterQueue string
	dlxExchange     string
	messageTTL      time.Duration

	mu        sync.Mutex
	conn      *amqp.Connection
	channels  map[string]*amqp.Channel
	chanOrder []string
	consumers []consumerSpec

	rpcMu      sync.Mutex
	rpcChannel *amqp.Channel
	pending    map[string]chan []byte
}

func New(cfg *config.Config, logger *slog.Logger) *Bridge {
	return &Bridge{
		url:             cfg.AMQPURL(),
		logger:          logger,
		prefetch:        cfg.PrefetchCount,
		maxChannels:     cfg.MaxChannels,
		reconnectDelay:  cfg.ReconnectDelay,
		replyTimeout:    cfg.RPCReplyTimeout,
		loginQueue:      cfg.LoginQueue,
		deadLetterQueue: cfg.DeadLetterQueue,
		dlxExchange:     cfg.DLXExchange,
		messageTTL:      cfg.MessageTTL,
		channels:        make(map[string]*amqp.Channel),
		pending:         make(map[string]chan []byte),
	}
}

// Connect dials the broker, declaring topology and starting registered
// consumers once up. It retries at the reconnect delay until it succeeds or
// ctx is cancelled, then keeps watching the connection and reconnecting.
func (b *Bridge) Connect(ctx context.Context) error {
	if err := b.dial(ctx); err != nil {
		return err
	}
	go b.watch(ctx)
	return nil
}

func (b *Bridge) dial(ctx context.Context) error {
	for {
		conn, err := amqp.Dial(b.url)
		if err == nil {
			b.mu.Lock()
			b.conn = conn
			b.channels = make(map[string]*amqp.Channel)
			b.chanOrder = b.chanOrder[:0]
			b.mu.Unlock()

			b.rpcMu.Lock()
			b.rpcChannel = nil
			b.rpcMu.Unlock()

			if err := b.declareTopology(); err != nil {
				b.logger.Error("topology declaration failed", "error", err)
				conn.Close()
			} else {
				b.logger.Info("connected to broker")
				b.startConsumers(ctx)
				return nil
			}
		} else {
			b.logger.Warn("broker connection failed, retrying", "error", err, "delay", b.reconnectDelay)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(b.reconnectDelay):
		}
	}
}

func (b *Bridge) watch(ctx context.Context) {
	for {
		b.mu.Lock()
		conn := b.conn
		b.mu.Unlock()
		if conn == nil {
			return
		}

		closed := conn.NotifyClose(make(chan *amqp.Error, 1))
		select {
		case <-ctx.Done():
			conn.Close()
			return
		case err := <-closed:
			if err != nil {
				b.logger.Warn("broker connection lost", "error", err)
			}
			if dialErr := b.dial(ctx); dialErr != nil {
				return
			}
		}
	}
}

// declareTopology sets up the dead-letter exchange and both queues. The login
// queue dead-letters expired or rejected messages through the exchange.
func (b *Bridge) declareTopology() error {
	ch, err := b.channel(b.loginQueue)
	if err != nil {
		return err
	}

	if err := ch.ExchangeDeclare(b.dlxExchange, "direct", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange %s: %w", b.dlxExchange, err)
	}
	if _, err := ch.QueueDeclare(b.deadLetterQueue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare queue %s: %w", b.deadLetterQueue, err)
	}
	if err := ch.QueueBind(b.deadLetterQueue, b.loginQueue, b.dlxExchange, false, nil); err != nil {
		return fmt.Errorf("bind queue %s: %w", b.deadLetterQueue, err)
	}
	if _, err := ch.QueueDeclare(b.loginQueue, true, false, false, false, amqp.Table{
		"x-dead-letter-exchange": b.dlxExchange,
		"x-message-ttl":          b.messageTTL.Milliseconds(),
	}); err != nil {
		return fmt.Errorf("declare queue %s: %w", b.loginQueue, err)
	}
	return nil
}

// channel returns the pooled publish channel for queue, opening one if
// needed. The pool is capped; at capacity the oldest channel is closed and
// evicted before a new one opens.
func (b *Bridge) channel(queue string) (*amqp.Channel, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.conn == nil || b.conn.IsClosed() {
		return nil, fmt.Errorf("broker channel: %w", domain.ErrDownstream)
	}
	if ch, ok := b.channels[queue]; ok && !ch.IsClosed() {
		return ch, nil
	}

	if len(b.channels) >= b.maxChannels && len(b.chanOrder) > 0 {
		oldest := b.chanOrder[0]
		b.chanOrder = b.chanOrder[1:]
		if old, ok := b.channels[oldest]; ok {
			old.Close()
			delete(b.channels, oldest)
		}
	}

	ch, err := b.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("broker channel: %w", domain.ErrDownstream)
	}
	b.channels[queue] = ch
	b.chanOrder = append(b.chanOrder, queue)
	return ch, nil
}

// Publish sends a persistent message to queue via the default exchange.
func (b *Bridge) Publish(ctx context.Context, queue string, body []byte) error {
	ch, err := b.channel(queue)
	if err != nil {
		return err
	}
	err = ch.PublishWithContext(ctx, "", queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish to %s: %w", queue, domain.ErrDownstream)
	}
	return nil
}

// Consume registers handler for queue. The consumer starts on the current
// connection and is restarted automatically after every reconnect.
func (b *Bridge) Consume(ctx context.Context, queue string, handler Handler) error {
	b.mu.Lock()
	b.consumers = append(b.consumers, consumerSpec{queue: queue, handler: handler})
	b.mu.Unlock()
	return b.startConsumer(ctx, consumerSpec{queue: queue, handler: handler})
}

func (b *Bridge) startConsumers(ctx context.Context) {
	b.mu.Lock()
	specs := make([]consumerSpec, len(b.consumers))
	copy(specs, b.consumers)
	b.mu.Unlock()

	for _, spec := range specs {
		if err := b.startConsumer(ctx, spec); err != nil {
			b.logger.Error("consumer restart failed", "queue", spec.queue, "error", err)
		}
	}
}

func (b *Bridge) startConsumer(ctx context.Context, spec consumerSpec) error {
	b.mu.Lock()
	conn := b.conn
	b.mu.Unlock()
	if conn == nil || conn.IsClosed() {
		return fmt.Errorf("consume %s: %w", spec.queue, domain.ErrDownstream)
	}

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("consume %s: %w", spec.queue, domain.ErrDownstream)
	}
	if err := ch.Qos(b.prefetch, 0, false); err != nil {
		ch.Close()
		return fmt.Errorf("consume %s: %w", spec.queue, domain.ErrDownstream)
	}
	deliveries, err := ch.Consume(spec.queue, "", false, false, false, false, nil)
	if err != nil {
		ch.Close()
		return fmt.Errorf("consume %s: %w", spec.queue, domain.ErrDownstream)
	}

	go func() {
		defer ch.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case d, ok := <-deliveries:
				if !ok {
					return
				}
				b.handleDelivery(ctx, ch, spec, d)
			}
		}
	}()
	return nil
}

// handleDelivery runs the handler and settles the message. Failed messages
// are wrapped in a dead-letter envelope and rejected without requeue; a
// requeue here would spin the same poison message forever.
func (b *Bridge) handleDelivery(ctx context.Context, ch *amqp.Channel, spec consumerSpec, d amqp.Delivery) {
	reply, err := spec.handler(ctx, d.Body)
	if err != nil {
		if ctx.Err() != nil {
			// Shutdown, not a poison message; leave it unacked for redelivery.
			return
		}
		b.logger.Error("message handling failed", "queue", spec.queue, "error", err)
		if dlErr := b.publishDeadLetter(ctx, d.Body, err); dlErr != nil {
			b.logger.Error("dead-letter publish failed", "error", dlErr)
		}
		if nackErr := d.Nack(false, false); nackErr != nil {
			b.logger.Error("nack failed", "error", nackErr)
		}
		return
	}

	if reply != nil && d.ReplyTo != "" {
		pubErr := ch.PublishWithContext(ctx, "", d.ReplyTo, false, false, amqp.Publishing{
			ContentType:   "application/json",
			CorrelationId: d.CorrelationId,
			Body:          reply,
		})
		if pubErr != nil {
			b.logger.Error("rpc reply failed", "queue", spec.queue, "error", pubErr)
		}
	}

	if ackErr := d.Ack(false); ackErr != nil {
		b.logger.Error("ack failed", "error", ackErr)
	}
}

func (b *Bridge) publishDeadLetter(ctx context.Context, body []byte, cause error) error {
	var original any
	if err := json.Unmarshal(body, &original); err != nil {
		original = string(body)
	}
	envelope := domain.DeadLetterEnvelope{
		OriginalMessage: original,
		Error: domain.DeadLetterInfo{
			Name:    "HandlerError",
			Message: cause.Error(),
		},
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	payload, err := json.Marshal(envelope)
	if err != nil {
		return err
	}
	if err := b.Publish(ctx, b.deadLetterQueue, payload); err != nil {
		return err
	}
	metrics.DeadLetters.Inc()
	return nil
}

// SendAndReceive publishes a request and blocks for its direct reply-to
// response, correlated by id. It returns ErrReplyTimeout when the reply
// window elapses; the pending slot is freed either way.
func (b *Bridge) SendAndReceive(ctx context.Context, queue string, body []byte) ([]byte, error) {
	if err := b.ensureRPCChannel(ctx); err != nil {
		return nil, err
	}

	corrID := id.NewCorrelationID()
	replyCh := make(chan []byte, 1)

	b.rpcMu.Lock()
	b.pending[corrID] = replyCh
	rpcChannel := b.rpcChannel
	b.rpcMu.Unlock()

	defer func() {
		b.rpcMu.Lock()
		delete(b.pending, corrID)
		b.rpcMu.Unlock()
	}()

	err := rpcChannel.PublishWithContext(ctx, "", queue, false, false, amqp.Publishing{
		ContentType:   "application/json",
		CorrelationId: corrID,
		ReplyTo:       replyToQueue,
		Body:          body,
	})
	if err != nil {
		return nil, fmt.Errorf("rpc publish to %s: %w", queue, domain.ErrDownstream)
	}

	select {
	case reply := <-replyCh:
		return reply, nil
	case <-time.After(b.replyTimeout):
		return nil, ErrReplyTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ensureRPCChannel lazily opens the channel consuming the pseudo-queue
// amq.rabbitmq.reply-to. The broker requires auto-ack on it.
func (b *Bridge) ensureRPCChannel(ctx context.Context) error {
	b.rpcMu.Lock()
	defer b.rpcMu.Unlock()

	if b.rpcChannel != nil && !b.rpcChannel.IsClosed() {
		return nil
	}

	b.mu.Lock()
	conn := b.conn
	b.mu.Unlock()
	if conn == nil || conn.IsClosed() {
		return fmt.Errorf("rpc channel: %w", domain.ErrDownstream)
	}

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("rpc channel: %w", domain.ErrDownstream)
	}
	replies, err := ch.Consume(replyToQueue, "", true, false, false, false, nil)
	if err != nil {
		ch.Close()
		return fmt.Errorf("rpc reply consume: %w", domain.ErrDownstream)
	}
	b.rpcChannel = ch

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case d, ok := <-replies:
				if !ok {
					return
				}
				b.rpcMu.Lock()
				pending, found := b.pending[d.CorrelationId]
				b.rpcMu.Unlock()
				if found {
					pending <- d.Body
				}
			}
		}
	}()
	return nil
}

// Close shuts the connection down; pooled channels close with it.
func (b *Bridge) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn == nil {
		return nil
	}
	return b.conn.Close()
}

package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/ayo6706/transfer-orchestrator/internal/domain"
	"github.com/ayo6706/transfer-orchestrator/internal/observability"
	"github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const (
	dialTimeout = 10 * time.Second
	// redialBackoff spaces reconnect attempts so a dead broker does not cost
	// every publish a full dial timeout.
	redialBackoff = 5 * time.Second
)

var (
	errBrokerNack    = errors.New("broker rejected message")
	errRedialBackoff = errors.New("rabbitmq reconnect backing off")
)

// RabbitPublisher publishes settlement events to a durable topic exchange named
// after the topic. The channel runs in confirm mode, so Publish only succeeds
// once the broker has acked the message. A dropped connection is redialed on
// the next publish.
type RabbitPublisher struct {
	url  string
	dial func(url string) (*amqp091.Connection, error)
	now  func() time.Time

	mu         sync.Mutex
	conn       *amqp091.Connection
	channel    *amqp091.Channel
	declared   map[string]struct{}
	lastDialAt time.Time
	closed     bool
}

// NewRabbitPublisher dials the broker with a bounded timeout.
func NewRabbitPublisher(amqpURL string) (*RabbitPublisher, error) {
	cleanURL, err := sanitizeAMQPURL(amqpURL)
	if err != nil {
		return nil, err
	}
	p := &RabbitPublisher{
		url:  cleanURL,
		dial: dialBroker,
		now:  time.Now,
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.connectLocked(); err != nil {
		return nil, err
	}
	return p, nil
}

func dialBroker(u string) (*amqp091.Connection, error) {
	return amqp091.DialConfig(u, amqp091.Config{Dial: amqp091.DefaultDial(dialTimeout)})
}

func (p *RabbitPublisher) Publish(ctx context.Context, topic, key string, event domain.TransferEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal transfer event: %w", err)
	}
	msg := amqp091.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp091.Persistent,
		MessageId:     MessageID(event),
		CorrelationId: key,
		Timestamp:     time.Now(),
		Type:          RoutingKey(event),
		Headers:       amqp091.Table{"x-transfer-key": key},
		Body:          body,
	}
	routingKey := RoutingKey(event)

	p.mu.Lock()
	defer p.mu.Unlock()

	err = p.publishLocked(ctx, topic, routingKey, msg)
	if err != nil && !errors.Is(err, errBrokerNack) && !errors.Is(err, errRedialBackoff) {
		zap.L().Warn("rabbitmq publish failed; reopening channel",
			zap.String("exchange", topic),
			zap.String("routing_key", routingKey),
			zap.Error(err),
		)
		p.dropChannelLocked()
		err = p.publishLocked(ctx, topic, routingKey, msg)
	}
	if err != nil {
		observability.IncrementEventPublish("rabbitmq", "failed")
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	observability.IncrementEventPublish("rabbitmq", "ok")
	return nil
}

func (p *RabbitPublisher) publishLocked(ctx context.Context, exchange, routingKey string, msg amqp091.Publishing) error {
	if err := p.ensureChannelLocked(); err != nil {
		return err
	}
	if _, ok := p.declared[exchange]; !ok {
		if err := p.channel.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare exchange: %w", err)
		}
		p.declared[exchange] = struct{}{}
	}
	confirm, err := p.channel.PublishWithDeferredConfirmWithContext(ctx, exchange, routingKey, false, false, msg)
	if err != nil {
		return err
	}
	acked, err := confirm.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("await publisher confirm: %w", err)
	}
	if !acked {
		return errBrokerNack
	}
	return nil
}

// ensureChannelLocked makes sure an open confirm-mode channel exists, redialing
// the broker when the connection is gone.
func (p *RabbitPublisher) ensureChannelLocked() error {
	if p.closed {
		return errors.New("rabbitmq publisher closed")
	}
	if p.conn != nil && p.conn.IsClosed() {
		zap.L().Warn("rabbitmq connection lost; redialing")
		p.conn = nil
		p.channel = nil
	}
	if p.conn == nil {
		if since := p.now().Sub(p.lastDialAt); !p.lastDialAt.IsZero() && since < redialBackoff {
			return errRedialBackoff
		}
		if err := p.connectLocked(); err != nil {
			return err
		}
	}
	if p.channel == nil || p.channel.IsClosed() {
		return p.openChannelLocked()
	}
	return nil
}

func (p *RabbitPublisher) connectLocked() error {
	p.lastDialAt = p.now()
	conn, err := p.dial(p.url)
	if err != nil {
		return fmt.Errorf("dial rabbitmq: %w", err)
	}
	p.conn = conn
	if err := p.openChannelLocked(); err != nil {
		_ = conn.Close()
		p.conn = nil
		return err
	}
	return nil
}

func (p *RabbitPublisher) openChannelLocked() error {
	ch, err := p.conn.Channel()
	if err != nil {
		return fmt.Errorf("open rabbitmq channel: %w", err)
	}
	if err := ch.Confirm(false); err != nil {
		_ = ch.Close()
		return fmt.Errorf("enable publisher confirms: %w", err)
	}
	p.channel = ch
	p.declared = make(map[string]struct{})
	return nil
}

func (p *RabbitPublisher) dropChannelLocked() {
	if p.channel != nil {
		_ = p.channel.Close()
		p.channel = nil
	}
}

// Ping reports whether the broker connection is still open.
func (p *RabbitPublisher) Ping(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn == nil || p.conn.IsClosed() {
		return errors.New("rabbitmq connection closed")
	}
	return nil
}

// Close gracefully closes the channel and connection.
func (p *RabbitPublisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	p.dropChannelLocked()
	if p.conn != nil {
		p.conn.Close()
		p.conn = nil
	}
}

func sanitizeAMQPURL(raw string) (string, error) {
	clean := strings.Trim(strings.TrimSpace(raw), "\"'")
	if idx := strings.Index(strings.ToLower(clean), "amqp"); idx > 0 {
		clean = clean[idx:]
	}
	u, err := url.Parse(clean)
	if err != nil {
		return "", fmt.Errorf("parse amqp url: %w", err)
	}
	if u.Scheme != "amqp" && u.Scheme != "amqps" {
		return "", errors.New("AMQP scheme must be either 'amqp://' or 'amqps://'")
	}
	return clean, nil
}

package events

import (
	"context"
	"sync"

	"github.com/ayo6706/transfer-orchestrator/internal/domain"
	"github.com/ayo6706/transfer-orchestrator/internal/observability"
	"go.uber.org/zap"
)

// LogPublisher writes events to the log. It stands in when no broker is configured
// or the broker was unreachable at startup.
type LogPublisher struct {
	logger *zap.Logger
}

func NewLogPublisher(logger *zap.Logger) *LogPublisher {
	if logger == nil {
		logger = zap.L()
	}
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(ctx context.Context, topic, key string, event domain.TransferEvent) error {
	p.logger.Info("transfer_event",
		zap.String("topic", topic),
		zap.String("key", key),
		zap.String("status", event.Status),
		zap.String("amount", event.Amount),
		zap.String("currency", event.Currency),
		zap.String("reason", event.Reason),
	)
	observability.IncrementEventPublish("log", "ok")
	return nil
}

// Message is an event captured by a Recorder.
type Message struct {
	Topic string
	Key   string
	Event domain.TransferEvent
}

// Recorder keeps published events in memory.
type Recorder struct {
	mu       sync.Mutex
	messages []Message
	err      error
}

func NewRecorder() *Recorder {
	return &Recorder{}
}

// FailWith makes every later Publish return err without recording. Pass nil to recover.
func (r *Recorder) FailWith(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.err = err
}

func (r *Recorder) Publish(ctx context.Context, topic, key string, event domain.TransferEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.messages = append(r.messages, Message{Topic: topic, Key: key, Event: event})
	return nil
}

// Messages returns a copy of everything published so far.
func (r *Recorder) Messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Message, len(r.messages))
	copy(out, r.messages)
	return out
}

// ForKey returns the messages published under key.
func (r *Recorder) ForKey(key string) []Message {
	var out []Message
	for _, m := range r.Messages() {
		if m.Key == key {
			out = append(out, m)
		}
	}
	return out
}

package events

import (
	"context"
	"strings"

	"github.com/ayo6706/transfer-orchestrator/internal/domain"
)

//go:generate mockgen -destination=mocks/mock_publisher.go -package=mocks github.com/ayo6706/transfer-orchestrator/internal/events Publisher

// Publisher delivers settlement events at least once.
// Implementations may retry internally; consumers dedupe on MessageID.
type Publisher interface {
	Publish(ctx context.Context, topic, key string, event domain.TransferEvent) error
}

// RoutingKey derives the broker routing key for an event.
func RoutingKey(event domain.TransferEvent) string {
	return "transfer." + strings.ToLower(event.Status)
}

// MessageID identifies one logical delivery so consumers can discard duplicates.
func MessageID(event domain.TransferEvent) string {
	return event.TransactionID + ":" + event.Status
}

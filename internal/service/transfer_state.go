package service

import (
	"fmt"

	"github.com/ayo6706/transfer-orchestrator/internal/domain"
)

// Terminal states have no outgoing edges.
var transferTransitions = map[domain.TransferStatus]map[domain.TransferStatus]struct{}{
	domain.TransferPending: {
		domain.TransferSuccess:    {},
		domain.TransferFailed:     {},
		domain.TransferRolledBack: {},
	},
	domain.TransferSuccess:    {},
	domain.TransferFailed:     {},
	domain.TransferRolledBack: {},
}

func canTransition(current, next domain.TransferStatus) bool {
	nextStates, ok := transferTransitions[current]
	if !ok {
		return false
	}
	_, ok = nextStates[next]
	return ok
}

func checkTransition(current, next domain.TransferStatus) error {
	if !canTransition(current, next) {
		return fmt.Errorf("invalid transfer state transition: %s -> %s", current, next)
	}
	return nil
}

package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/ayo6706/deposit-settlement/internal/domain"
	"github.com/ayo6706/deposit-settlement/internal/models"
	"github.com/ayo6706/deposit-settlement/internal/repository"
	"github.com/google/uuid"
)

var depositTransitions = map[string]map[string]struct{}{
	domain.DepositStatusPending: {
		domain.DepositStatusWaiting:    {},
		domain.DepositStatusConfirming: {},
		domain.DepositStatusApproved:   {},
		domain.DepositStatusExpired:    {},
		domain.DepositStatusFailed:     {},
	},
	domain.DepositStatusWaiting: {
		domain.DepositStatusConfirming: {},
		domain.DepositStatusApproved:   {},
		domain.DepositStatusExpired:    {},
		domain.DepositStatusFailed:     {},
	},
	domain.DepositStatusConfirming: {
		domain.DepositStatusApproved: {},
		domain.DepositStatusExpired:  {},
		domain.DepositStatusFailed:   {},
	},
	domain.DepositStatusApproved: {},
	domain.DepositStatusExpired:  {},
	domain.DepositStatusFailed:   {},
}

func normalizeState(state string) string {
	return strings.ToLower(strings.TrimSpace(state))
}

func canTransition(current, next string) bool {
	nextStates, ok := depositTransitions[normalizeState(current)]
	if !ok {
		return false
	}
	_, ok = nextStates[normalizeState(next)]
	return ok
}

// depositStatusFor maps a gateway status onto the local lifecycle.
func depositStatusFor(gatewayStatus string) (string, bool) {
	switch gatewayStatus {
	case domain.GatewayStatusNew:
		return domain.DepositStatusPending, true
	case domain.GatewayStatusWaiting:
		return domain.DepositStatusWaiting, true
	case domain.GatewayStatusConfirming:
		return domain.DepositStatusConfirming, true
	case domain.GatewayStatusPaid:
		return domain.DepositStatusApproved, true
	case domain.GatewayStatusExpired:
		return domain.DepositStatusExpired, true
	case domain.GatewayStatusFailed:
		return domain.DepositStatusFailed, true
	default:
		return "", false
	}
}

// observeDepositState records a non-crediting gateway status. Out-of-order
// statuses that would move the lifecycle backwards are dropped, so the
// returned state is the one actually stored.
func observeDepositState(ctx context.Context, qtx *repository.Queries, dep models.Deposit, meta NotificationMeta, actorID *uuid.UUID, processedBy string) (string, error) {
	next, ok := depositStatusFor(meta.GatewayStatus)
	if !ok || next == domain.DepositStatusApproved {
		return dep.Status, fmt.Errorf("gateway status %q cannot be observed", meta.GatewayStatus)
	}
	current := normalizeState(dep.Status)
	if current != next && !canTransition(current, next) {
		return dep.Status, nil
	}

	rows, err := qtx.RecordObservation(ctx, repository.RecordObservationParams{
		ID:            dep.ID,
		Status:        next,
		GatewayStatus: meta.GatewayStatus,
		PayCurrency:   optionalText(meta.PayCurrency),
		Network:       optionalText(meta.Network),
		Address:       optionalText(meta.Address),
		TxID:          optionalText(meta.TxID),
	})
	if err != nil {
		return dep.Status, fmt.Errorf("record gateway observation: %w", err)
	}
	if err := requireExactlyOne(rows, "record gateway observation"); err != nil {
		return dep.Status, err
	}

	if current != next {
		if err := writeDepositAudit(ctx, qtx, depositAudit{
			DepositID: dep.ID,
			Actor:     actorID,
			Action:    "gateway_" + next,
			From:      current,
			To:        next,
			Metadata: map[string]string{
				"gateway_status": meta.GatewayStatus,
				"track_id":       meta.TrackID,
				"processed_by":   processedBy,
			},
		}); err != nil {
			return dep.Status, err
		}
	}
	return next, nil
}

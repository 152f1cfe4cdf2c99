package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ayo6706/deposit-settlement/internal/repository"
	"github.com/google/uuid"
)

const auditEntityDeposit = "deposit"

// depositAudit is one append-only entry in a deposit's history. It is always
// written in the same transaction as the change it describes.
type depositAudit struct {
	DepositID uuid.UUID
	Actor     *uuid.UUID
	Action    string
	From      string
	To        string
	Metadata  map[string]string
}

func writeDepositAudit(ctx context.Context, qtx *repository.Queries, e depositAudit) error {
	var raw []byte
	if len(e.Metadata) > 0 {
		var err error
		if raw, err = json.Marshal(e.Metadata); err != nil {
			return fmt.Errorf("encode audit metadata: %w", err)
		}
	}

	if _, err := qtx.InsertAuditLog(ctx, repository.InsertAuditLogParams{
		EntityType: auditEntityDeposit,
		EntityID:   e.DepositID,
		ActorID:    e.Actor,
		Action:     e.Action,
		PrevState:  optionalText(e.From),
		NextState:  optionalText(e.To),
		Metadata:   raw,
	}); err != nil {
		return fmt.Errorf("insert audit log %s: %w", e.Action, err)
	}
	return nil
}

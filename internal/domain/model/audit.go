package model

import (
	"encoding/json"
	"time"

	"github.com/ivankudzin/modgate/internal/domain/enums"
)

// AuditEntry is append-only; nothing in this service mutates or deletes one.
type AuditEntry struct {
	ID         int64             `json:"id"`
	AdminID    int64             `json:"admin_id"`
	Action     enums.AuditAction `json:"action"`
	TargetType string            `json:"target_type"`
	TargetID   string            `json:"target_id"`
	Details    json.RawMessage   `json:"details"`
	CreatedAt  time.Time         `json:"created_at"`
}

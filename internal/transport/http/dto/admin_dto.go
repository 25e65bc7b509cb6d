package dto

import (
	"encoding/json"
	"time"
)

type AuditEntryView struct {
	ID         int64           `json:"id"`
	AdminID    int64           `json:"admin_id"`
	Action     string          `json:"action"`
	TargetType string          `json:"target_type"`
	TargetID   string          `json:"target_id"`
	Details    json.RawMessage `json:"details"`
	CreatedAt  time.Time       `json:"created_at"`
}

type AuditListResponse struct {
	Entries []AuditEntryView `json:"entries"`
}

type CleanupResponse struct {
	ExpiredKicks   int   `json:"expired_kicks"`
	ExpiredBans    int   `json:"expired_bans"`
	GhostsResolved int   `json:"ghosts_resolved"`
	UsersPurged    int64 `json:"users_purged"`
	RecordsSwept   int   `json:"records_swept"`
}

type TxOperationRequest struct {
	Target        string         `json:"target"`
	Kind          string         `json:"kind"`
	Payload       map[string]any `json:"payload"`
	Preconditions map[string]any `json:"preconditions,omitempty"`
}

type TransactionRequest struct {
	Operations []TxOperationRequest `json:"operations"`
}

type TransactionResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

package model

import (
	"time"

	"github.com/ivankudzin/modgate/internal/domain/enums"
)

type BanRecord struct {
	ID         int64            `json:"id"`
	TargetKind enums.TargetKind `json:"target_kind"`
	TargetID   string           `json:"target_id"`
	Reason     string           `json:"reason"`
	IssuedBy   int64            `json:"issued_by"`
	IssuedAt   time.Time        `json:"issued_at"`
	ExpiresAt  *time.Time       `json:"expires_at"`
	Active     bool             `json:"active"`
}

func (b BanRecord) Permanent() bool {
	return b.ExpiresAt == nil
}

func (b BanRecord) Expired(now time.Time) bool {
	return b.ExpiresAt != nil && !b.ExpiresAt.After(now)
}

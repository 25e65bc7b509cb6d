package model

import "time"

type KickRecord struct {
	UserID    int64     `json:"user_id"`
	Reason    string    `json:"reason"`
	IssuedBy  int64     `json:"issued_by"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired kicks read as absent; callers that see one are expected to
// trigger its deletion rather than ignore it silently.
func (k KickRecord) Expired(now time.Time) bool {
	return !k.ExpiresAt.After(now)
}

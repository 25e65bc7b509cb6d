package dto

import "time"

type KickRequest struct {
	Reason string `json:"reason"`
}

type BanRequest struct {
	TargetKind    string `json:"target_kind"`
	TargetID      string `json:"target_id"`
	Reason        string `json:"reason"`
	DurationHours *int   `json:"duration_hours,omitempty"`
}

type UnbanRequest struct {
	TargetKind string `json:"target_kind"`
	TargetID   string `json:"target_id"`
}

type RoleRequest struct {
	Role            string `json:"role"`
	ExpectedVersion int64  `json:"expected_version"`
}

type ActionResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

type KickView struct {
	Reason    string    `json:"reason"`
	ExpiresAt time.Time `json:"expires_at"`
}

type BanView struct {
	Reason    string     `json:"reason"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	Permanent bool       `json:"permanent"`
}

type StatusResponse struct {
	UserID    int64     `json:"user_id"`
	Status    string    `json:"status"`
	Online    bool      `json:"online"`
	Kick      *KickView `json:"kick,omitempty"`
	Ban       *BanView  `json:"ban,omitempty"`
	FromCache bool      `json:"from_cache,omitempty"`
}

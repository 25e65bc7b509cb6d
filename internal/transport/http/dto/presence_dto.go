package dto

import "time"

type PresenceOnlineRequest struct {
	UserID    int64  `json:"user_id"`
	UserAgent string `json:"user_agent,omitempty"`
}

type PresenceUserRequest struct {
	UserID int64 `json:"user_id"`
}

type PresenceResponse struct {
	UserID        int64     `json:"user_id"`
	Online        bool      `json:"online"`
	JoinedAt      time.Time `json:"joined_at"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
}

type OKResponse struct {
	OK bool `json:"ok"`
}

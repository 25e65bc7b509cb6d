package model

import "time"

// PresenceRecord exists at most once per user and only while a session is
// live; ending the session deletes the record rather than flagging it.
type PresenceRecord struct {
	UserID        int64     `json:"user_id"`
	Online        bool      `json:"online"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
	JoinedAt      time.Time `json:"joined_at"`
	UserAgent     string    `json:"user_agent"`
	IP            string    `json:"ip"`
}

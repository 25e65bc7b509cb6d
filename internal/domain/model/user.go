package model

import (
	"time"

	"github.com/ivankudzin/modgate/internal/domain/enums"
)

type UserStats struct {
	TotalUsers  int64 `json:"total_users"`
	OnlineUsers int64 `json:"online_users"`
	KickedUsers int64 `json:"kicked_users"`
	ActiveBans  int64 `json:"active_bans"`
}

type User struct {
	ID        int64               `json:"id"`
	Username  string              `json:"username"`
	Role      enums.Role          `json:"role"`
	Status    enums.SessionStatus `json:"status"`
	Online    bool                `json:"online"`
	Version   int64               `json:"version"`
	CreatedAt time.Time           `json:"created_at"`
	UpdatedAt time.Time           `json:"updated_at"`
}

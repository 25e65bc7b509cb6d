package enums

type SessionStatus string

const (
	SessionStatusActive SessionStatus = "active"
	SessionStatusKicked SessionStatus = "kicked"
	SessionStatusBanned SessionStatus = "banned"
)

package enums

type TargetKind string

const (
	TargetKindUser TargetKind = "user"
	TargetKindIP   TargetKind = "ip"
)

package enums

type AuditAction string

const (
	AuditActionKick    AuditAction = "kick"
	AuditActionUnkick  AuditAction = "unkick"
	AuditActionBan     AuditAction = "ban"
	AuditActionUnban   AuditAction = "unban"
	AuditActionRole    AuditAction = "update_role"
	AuditActionCleanup AuditAction = "cleanup"
)

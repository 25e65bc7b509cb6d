package enums

type TxStatus string

const (
	TxStatusPending    TxStatus = "pending"
	TxStatusCommitted  TxStatus = "committed"
	TxStatusRolledBack TxStatus = "rolled_back"
)

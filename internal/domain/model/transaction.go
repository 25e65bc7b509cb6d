package model

import (
	"time"

	"github.com/ivankudzin/modgate/internal/domain/enums"
)

type TxOperation struct {
	Target        string         `json:"target"`
	Kind          string         `json:"kind"`
	Payload       map[string]any `json:"payload"`
	Preconditions map[string]any `json:"preconditions"`
}

type TransactionRecord struct {
	ID         string         `json:"id"`
	Operations []TxOperation  `json:"operations"`
	Status     enums.TxStatus `json:"status"`
	CreatedAt  time.Time      `json:"created_at"`
}

package txn

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

var payloadValidator = validator.New(validator.WithRequiredStructEnabled())

// KickPayload is validated before any round trip to the store.
type KickPayload struct {
	UserID  int64  `validate:"required,gt=0"`
	AdminID int64  `validate:"required,gt=0"`
	Reason  string `validate:"required,min=1,max=500"`
}

type BanPayload struct {
	TargetKind    string `validate:"required,oneof=user ip"`
	TargetID      string `validate:"required,min=1,max=128"`
	AdminID       int64  `validate:"required,gt=0"`
	Reason        string `validate:"required,min=1,max=500"`
	DurationHours *int   `validate:"omitempty,gt=0,lte=8760"`
}

type ProfilePayload struct {
	UserID   int64  `validate:"required,gt=0"`
	Username string `validate:"required,min=1,max=64"`
	Age      int    `validate:"required,gte=18,lte=120"`
}

// ValidatePayload rejects obviously invalid payloads without a round trip.
func ValidatePayload(payload any) error {
	if err := payloadValidator.Struct(payload); err != nil {
		return fmt.Errorf("payload validation: %w", err)
	}
	return nil
}

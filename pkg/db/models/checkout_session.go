package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/bazari-settlement/pkg/amount"
	"github.com/angelmondragon/bazari-settlement/pkg/enums"
)

// CheckoutSession groups the single-seller orders created from one cart.
type CheckoutSession struct {
	ID           uuid.UUID                   `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	BuyerAddress string                      `gorm:"column:buyer_address;not null"`
	TotalBzr     amount.BaseUnits            `gorm:"column:total_bzr;type:numeric(30,0);not null"`
	Status       enums.CheckoutSessionStatus `gorm:"column:status;not null"`
	ExpiresAt    time.Time                   `gorm:"column:expires_at;not null"`
	BatchTxHash  *string                     `gorm:"column:batch_tx_hash"`
	Orders       []Order                     `gorm:"foreignKey:CheckoutSessionID"`
	CreatedAt    time.Time                   `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time                   `gorm:"column:updated_at;autoUpdateTime"`
}

// IsExpired reports whether a still-pending session is past its deadline.
func (s *CheckoutSession) IsExpired(now time.Time) bool {
	return s.Status == enums.CheckoutSessionPending && !now.Before(s.ExpiresAt)
}

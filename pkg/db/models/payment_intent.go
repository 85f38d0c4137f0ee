package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/bazari-settlement/pkg/amount"
	"github.com/angelmondragon/bazari-settlement/pkg/enums"
)

// PaymentIntent records one funding attempt against an order. The most
// recent intent is the active one.
type PaymentIntent struct {
	ID            uuid.UUID                 `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID       uuid.UUID                 `gorm:"column:order_id;type:uuid;not null"`
	AmountBzr     amount.BaseUnits          `gorm:"column:amount_bzr;type:numeric(30,0);not null"`
	EscrowAddress string                    `gorm:"column:escrow_address;not null"`
	Status        enums.PaymentIntentStatus `gorm:"column:status;not null"`
	TxHashIn      *string                   `gorm:"column:tx_hash_in"`
	TxHashRelease *string                   `gorm:"column:tx_hash_release"`
	TxHashRefund  *string                   `gorm:"column:tx_hash_refund"`
	CreatedAt     time.Time                 `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time                 `gorm:"column:updated_at;autoUpdateTime"`
}

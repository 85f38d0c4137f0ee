package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/bazari-settlement/pkg/amount"
	"github.com/angelmondragon/bazari-settlement/pkg/enums"
	"github.com/angelmondragon/bazari-settlement/pkg/types"
)

// Order is one purchase from one buyer to one seller. Totals are snapshotted
// at creation and never recomputed.
type Order struct {
	ID                    uuid.UUID              `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	BuyerAddress          string                 `gorm:"column:buyer_address;not null"`
	SellerAddress         string                 `gorm:"column:seller_address;not null"`
	SellerID              string                 `gorm:"column:seller_id;not null"`
	SubtotalBzr           amount.BaseUnits       `gorm:"column:subtotal_bzr;type:numeric(30,0);not null"`
	ShippingBzr           amount.BaseUnits       `gorm:"column:shipping_bzr;type:numeric(30,0);not null"`
	TotalBzr              amount.BaseUnits       `gorm:"column:total_bzr;type:numeric(30,0);not null"`
	Status                enums.OrderStatus      `gorm:"column:status;not null"`
	ShippingAddress       *types.ShippingAddress `gorm:"column:shipping_address;type:jsonb"`
	ShippingOptionID      *string                `gorm:"column:shipping_option_id"`
	ShippingMethod        *enums.ShippingMethod  `gorm:"column:shipping_method"`
	EstimatedDeliveryDays int                    `gorm:"column:estimated_delivery_days;not null"`
	AutoReleaseBlocks     *int64                 `gorm:"column:auto_release_blocks"`
	AutoReleaseAt         *time.Time             `gorm:"column:auto_release_at"`
	ChainOrderID          *int64                 `gorm:"column:chain_order_id;uniqueIndex"`
	ChainTxHash           *string                `gorm:"column:chain_tx_hash"`
	LockTxHash            *string                `gorm:"column:lock_tx_hash"`
	LockSubmittedAt       *time.Time             `gorm:"column:lock_submitted_at"`
	BlockchainRetries     int                    `gorm:"column:blockchain_retries;not null;default:0"`
	LastBlockchainError   *string                `gorm:"column:last_blockchain_error"`
	TrackingCode          *string                `gorm:"column:tracking_code"`
	CheckoutSessionID     *uuid.UUID             `gorm:"column:checkout_session_id;type:uuid"`
	Items                 []OrderItem            `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	ShippedAt             *time.Time             `gorm:"column:shipped_at"`
	CompletedAt           *time.Time             `gorm:"column:completed_at"`
	CreatedAt             time.Time              `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt             time.Time              `gorm:"column:updated_at;autoUpdateTime"`
}

// HasChainID reports whether the order was registered on-chain.
func (o *Order) HasChainID() bool {
	return o != nil && o.ChainOrderID != nil
}

// IsParticipant reports whether the wallet is the buyer or the seller.
func (o *Order) IsParticipant(wallet string) bool {
	return wallet != "" && (o.BuyerAddress == wallet || o.SellerAddress == wallet)
}

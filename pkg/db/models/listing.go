package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/bazari-settlement/pkg/amount"
	"github.com/angelmondragon/bazari-settlement/pkg/enums"
)

// Listing is the read-only catalog snapshot consulted at checkout. The
// catalog service owns writes.
type Listing struct {
	ID                    uuid.UUID             `gorm:"column:id;type:uuid;primaryKey"`
	SellerID              string                `gorm:"column:seller_id;not null"`
	SellerAddress         string                `gorm:"column:seller_address;not null"`
	Kind                  enums.ListingKind     `gorm:"column:kind;not null"`
	Title                 string                `gorm:"column:title;not null"`
	PriceBzr              amount.BaseUnits      `gorm:"column:price_bzr;type:numeric(30,0);not null"`
	ShippingFeeBzr        amount.BaseUnits      `gorm:"column:shipping_fee_bzr;type:numeric(30,0);not null;default:0"`
	EstimatedDeliveryDays *int                  `gorm:"column:estimated_delivery_days"`
	ShippingMethod        *enums.ShippingMethod `gorm:"column:shipping_method"`
	Active                bool                  `gorm:"column:active;not null;default:true"`
	UpdatedAt             time.Time             `gorm:"column:updated_at"`
}

package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/bazari-settlement/pkg/amount"
	"github.com/angelmondragon/bazari-settlement/pkg/enums"
)

// OrderItem is an immutable snapshot of one purchased line.
type OrderItem struct {
	ID           uuid.UUID         `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID      uuid.UUID         `gorm:"column:order_id;type:uuid;not null"`
	ListingID    uuid.UUID         `gorm:"column:listing_id;type:uuid;not null"`
	Kind         enums.ListingKind `gorm:"column:kind;not null"`
	Quantity     int               `gorm:"column:quantity;not null"`
	UnitPriceBzr amount.BaseUnits  `gorm:"column:unit_price_bzr;type:numeric(30,0);not null"`
	Title        string            `gorm:"column:title;not null"`
	LineTotalBzr amount.BaseUnits  `gorm:"column:line_total_bzr;type:numeric(30,0);not null"`
	CreatedAt    time.Time         `gorm:"column:created_at;autoCreateTime"`
}

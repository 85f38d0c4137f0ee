package payloads

import (
	"github.com/angelmondragon/bazari-settlement/pkg/amount"
	"github.com/angelmondragon/bazari-settlement/pkg/enums"
	"github.com/angelmondragon/bazari-settlement/pkg/types"
	"github.com/google/uuid"
)

// OrderCreatedEvent drives the afterOrderCreated reward hook.
type OrderCreatedEvent struct {
	OrderID           uuid.UUID        `json:"order_id"`
	BuyerAddress      string           `json:"buyer_address"`
	SellerAddress     string           `json:"seller_address"`
	SellerID          string           `json:"seller_id"`
	TotalBzr          amount.BaseUnits `json:"total_bzr"`
	CheckoutSessionID *uuid.UUID       `json:"checkout_session_id,omitempty"`
}

// OrderCompletedEvent is emitted once funds are released to the seller. It
// drives the seller reputation recompute and the afterOrderCompleted reward.
type OrderCompletedEvent struct {
	OrderID       uuid.UUID                `json:"order_id"`
	BuyerAddress  string                   `json:"buyer_address"`
	SellerAddress string                   `json:"seller_address"`
	SellerID      string                   `json:"seller_id"`
	GrossBzr      amount.BaseUnits         `json:"gross_bzr"`
	FeeBzr        amount.BaseUnits         `json:"fee_bzr"`
	NetBzr        amount.BaseUnits         `json:"net_bzr"`
	Source        enums.EscrowActionSource `json:"source"`
}

// DeliveryRequestedEvent asks the delivery network to open a request.
type DeliveryRequestedEvent struct {
	OrderID         uuid.UUID             `json:"order_id"`
	SellerID        string                `json:"seller_id"`
	SellerAddress   string                `json:"seller_address"`
	BuyerAddress    string                `json:"buyer_address"`
	ShippingAddress types.ShippingAddress `json:"shipping_address"`
	ShippingMethod  *enums.ShippingMethod `json:"shipping_method,omitempty"`
	ItemCount       int                   `json:"item_count"`
}

// OrderStatusChangedEvent records every settlement transition for downstream projections.
type OrderStatusChangedEvent struct {
	OrderID uuid.UUID                `json:"order_id"`
	From    enums.OrderStatus        `json:"from"`
	To      enums.OrderStatus        `json:"to"`
	Source  enums.EscrowActionSource `json:"source,omitempty"`
}

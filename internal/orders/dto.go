package orders

import (
	"encoding/json"
	"time"

	"github.com/angelmondragon/bazari-settlement/internal/catalog"
	"github.com/angelmondragon/bazari-settlement/internal/chain"
	"github.com/angelmondragon/bazari-settlement/internal/timeline"
	"github.com/angelmondragon/bazari-settlement/pkg/amount"
	"github.com/angelmondragon/bazari-settlement/pkg/db/models"
	"github.com/angelmondragon/bazari-settlement/pkg/enums"
	"github.com/angelmondragon/bazari-settlement/pkg/types"
	"github.com/google/uuid"
)

// CreateOrderInput is the buyer's request to purchase from one seller.
type CreateOrderInput struct {
	Items            []catalog.ItemRef      `json:"items" validate:"required,min=1,dive"`
	ShippingAddress  *types.ShippingAddress `json:"shippingAddress,omitempty"`
	ShippingOptionID string                 `json:"shippingOptionId,omitempty"`
}

// Placement describes the orders persisted for one buyer in one transaction.
// ShippingOptions maps seller id to the chosen option id.
type Placement struct {
	Groups          []catalog.SellerGroup
	ShippingAddress *types.ShippingAddress
	ShippingOptions map[string]string
	SessionID       *uuid.UUID
}

// ShipInput carries the seller's optional tracking code.
type ShipInput struct {
	TrackingCode *string `json:"trackingCode,omitempty" validate:"omitempty,max=128"`
}

// ConfirmInput carries the hash of a transaction the client signed, when known.
type ConfirmInput struct {
	TxHash string `json:"txHash,omitempty" validate:"omitempty,txhash"`
}

// CancelInput carries an optional cancellation reason.
type CancelInput struct {
	Reason string `json:"reason,omitempty" validate:"omitempty,max=512"`
}

// DisputeInput carries the party's reason for opening a dispute.
type DisputeInput struct {
	Reason string `json:"reason" validate:"required,max=1024"`
}

// OrderItemView is the wire shape of one order line.
type OrderItemView struct {
	ID           uuid.UUID         `json:"id"`
	ListingID    uuid.UUID         `json:"listingId"`
	Kind         enums.ListingKind `json:"kind"`
	Title        string            `json:"title"`
	Quantity     int               `json:"qty"`
	UnitPriceBzr amount.BaseUnits  `json:"unitPriceBzr"`
	LineTotalBzr amount.BaseUnits  `json:"lineTotalBzr"`
}

// OrderView is the public representation of an order.
type OrderView struct {
	ID                    uuid.UUID              `json:"id"`
	Status                enums.OrderStatus      `json:"status"`
	BuyerAddress          string                 `json:"buyerAddr"`
	SellerAddress         string                 `json:"sellerAddr"`
	SellerID              string                 `json:"sellerId"`
	SubtotalBzr           amount.BaseUnits       `json:"subtotalBzr"`
	ShippingBzr           amount.BaseUnits       `json:"shippingBzr"`
	TotalBzr              amount.BaseUnits       `json:"totalBzr"`
	ShippingAddress       *types.ShippingAddress `json:"shippingAddress,omitempty"`
	ShippingOptionID      *string                `json:"shippingOptionId,omitempty"`
	ShippingMethod        *enums.ShippingMethod  `json:"shippingMethod,omitempty"`
	EstimatedDeliveryDays int                    `json:"estimatedDeliveryDays"`
	AutoReleaseBlocks     int64                  `json:"autoReleaseBlocks"`
	AutoReleaseAt         *time.Time             `json:"autoReleaseAt,omitempty"`
	ChainOrderID          *int64                 `json:"blockchainOrderId,omitempty"`
	ChainTxHash           *string                `json:"blockchainTxHash,omitempty"`
	LockTxHash            *string                `json:"lockTxHash,omitempty"`
	LockSubmittedAt       *time.Time             `json:"lockSubmittedAt,omitempty"`
	BlockchainRetries     int                    `json:"blockchainRetries"`
	LastBlockchainError   *string                `json:"lastBlockchainError,omitempty"`
	TrackingCode          *string                `json:"trackingCode,omitempty"`
	CheckoutSessionID     *uuid.UUID             `json:"checkoutSessionId,omitempty"`
	Items                 []OrderItemView        `json:"items,omitempty"`
	ShippedAt             *time.Time             `json:"shippedAt,omitempty"`
	CompletedAt           *time.Time             `json:"completedAt,omitempty"`
	CreatedAt             time.Time              `json:"createdAt"`
	UpdatedAt             time.Time              `json:"updatedAt"`
}

// NewOrderView maps a persisted order to its wire shape.
func NewOrderView(o models.Order) OrderView {
	view := OrderView{
		ID:                    o.ID,
		Status:                o.Status,
		BuyerAddress:          o.BuyerAddress,
		SellerAddress:         o.SellerAddress,
		SellerID:              o.SellerID,
		SubtotalBzr:           o.SubtotalBzr,
		ShippingBzr:           o.ShippingBzr,
		TotalBzr:              o.TotalBzr,
		ShippingAddress:       o.ShippingAddress,
		ShippingOptionID:      o.ShippingOptionID,
		ShippingMethod:        o.ShippingMethod,
		EstimatedDeliveryDays: o.EstimatedDeliveryDays,
		AutoReleaseBlocks:     timeline.EffectiveBlocks(o.AutoReleaseBlocks),
		AutoReleaseAt:         o.AutoReleaseAt,
		ChainOrderID:          o.ChainOrderID,
		ChainTxHash:           o.ChainTxHash,
		LockTxHash:            o.LockTxHash,
		LockSubmittedAt:       o.LockSubmittedAt,
		BlockchainRetries:     o.BlockchainRetries,
		LastBlockchainError:   o.LastBlockchainError,
		TrackingCode:          o.TrackingCode,
		CheckoutSessionID:     o.CheckoutSessionID,
		ShippedAt:             o.ShippedAt,
		CompletedAt:           o.CompletedAt,
		CreatedAt:             o.CreatedAt,
		UpdatedAt:             o.UpdatedAt,
	}
	for _, item := range o.Items {
		view.Items = append(view.Items, OrderItemView{
			ID:           item.ID,
			ListingID:    item.ListingID,
			Kind:         item.Kind,
			Title:        item.Title,
			Quantity:     item.Quantity,
			UnitPriceBzr: item.UnitPriceBzr,
			LineTotalBzr: item.LineTotalBzr,
		})
	}
	return view
}

// PaymentIntentView is returned when a buyer starts funding an order.
type PaymentIntentView struct {
	ID            uuid.UUID                 `json:"paymentIntentId"`
	OrderID       uuid.UUID                 `json:"orderId"`
	AmountBzr     amount.BaseUnits          `json:"amountBzr"`
	EscrowAddress string                    `json:"escrowAddress"`
	Status        enums.PaymentIntentStatus `json:"status"`
	CreatedAt     time.Time                 `json:"createdAt"`
}

// NewPaymentIntentView maps a payment intent row.
func NewPaymentIntentView(p models.PaymentIntent) PaymentIntentView {
	return PaymentIntentView{
		ID:            p.ID,
		OrderID:       p.OrderID,
		AmountBzr:     p.AmountBzr,
		EscrowAddress: p.EscrowAddress,
		Status:        p.Status,
		CreatedAt:     p.CreatedAt,
	}
}

// PreparedCall is an unsigned extrinsic handed to the client for signing.
type PreparedCall struct {
	OrderID      uuid.UUID         `json:"orderId"`
	ChainOrderID int64             `json:"blockchainOrderId"`
	Pallet       string            `json:"pallet"`
	Method       string            `json:"method"`
	Args         []any             `json:"args"`
	CallHex      string            `json:"callHex"`
	CallHash     string            `json:"callHash,omitempty"`
	Signer       string            `json:"signer"`
	AmountBzr    *amount.BaseUnits `json:"amountBzr,omitempty"`
}

func newPreparedCall(order models.Order, call chain.UnsignedCall, signer string) PreparedCall {
	return PreparedCall{
		OrderID:      order.ID,
		ChainOrderID: derefChainID(order.ChainOrderID),
		Pallet:       call.Pallet,
		Method:       call.Method,
		Args:         call.Args,
		CallHex:      call.CallHex,
		CallHash:     call.CallHash,
		Signer:       signer,
	}
}

// EscrowLogView is one entry of the order's escrow audit trail.
type EscrowLogView struct {
	ID        uuid.UUID           `json:"id"`
	Kind      enums.EscrowLogKind `json:"kind"`
	Payload   json.RawMessage     `json:"payload"`
	CreatedAt time.Time           `json:"createdAt"`
}

// SettlementResult reports the outcome of a confirmation or operator action.
type SettlementResult struct {
	Order  OrderView                `json:"order"`
	Source enums.EscrowActionSource `json:"source,omitempty"`
	TxHash string                   `json:"txHash,omitempty"`
	FeeBzr *amount.BaseUnits        `json:"feeBzr,omitempty"`
	NetBzr *amount.BaseUnits        `json:"netBzr,omitempty"`
}

func derefChainID(id *int64) int64 {
	if id == nil {
		return 0
	}
	return *id
}

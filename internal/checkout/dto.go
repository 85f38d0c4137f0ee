package checkout

import (
	"time"

	"github.com/angelmondragon/bazari-settlement/internal/catalog"
	"github.com/angelmondragon/bazari-settlement/internal/chain"
	"github.com/angelmondragon/bazari-settlement/internal/orders"
	"github.com/angelmondragon/bazari-settlement/pkg/amount"
	"github.com/angelmondragon/bazari-settlement/pkg/db/models"
	"github.com/angelmondragon/bazari-settlement/pkg/enums"
	"github.com/angelmondragon/bazari-settlement/pkg/types"
	"github.com/google/uuid"
)

// CreateSessionInput is a multi-seller cart. ShippingOptions maps seller id
// to the chosen option; sellers without an entry get their default option.
type CreateSessionInput struct {
	Items           []catalog.ItemRef      `json:"items" validate:"required,min=1,dive"`
	ShippingAddress *types.ShippingAddress `json:"shippingAddress,omitempty"`
	ShippingOptions map[string]string      `json:"shippingOptions,omitempty"`
}

// ConfirmBatchInput carries the hash of the signed batch extrinsic.
type ConfirmBatchInput struct {
	TxHash string `json:"txHash" validate:"required,txhash"`
}

// SessionView is the public shape of a checkout session.
type SessionView struct {
	ID           uuid.UUID                   `json:"sessionId"`
	BuyerAddress string                      `json:"buyerAddr"`
	Status       enums.CheckoutSessionStatus `json:"status"`
	TotalBzr     amount.BaseUnits            `json:"totalBzr"`
	ExpiresAt    time.Time                   `json:"expiresAt"`
	BatchTxHash  *string                     `json:"batchTxHash,omitempty"`
	Orders       []orders.OrderView          `json:"orders"`
	CreatedAt    time.Time                   `json:"createdAt"`
}

func newSessionView(s models.CheckoutSession, members []models.Order) SessionView {
	view := SessionView{
		ID:           s.ID,
		BuyerAddress: s.BuyerAddress,
		Status:       s.Status,
		TotalBzr:     s.TotalBzr,
		ExpiresAt:    s.ExpiresAt,
		BatchTxHash:  s.BatchTxHash,
		Orders:       make([]orders.OrderView, 0, len(members)),
		CreatedAt:    s.CreatedAt,
	}
	for _, o := range members {
		view.Orders = append(view.Orders, orders.NewOrderView(o))
	}
	return view
}

// BatchMember is one order covered by a batch call.
type BatchMember struct {
	OrderID      uuid.UUID        `json:"orderId"`
	ChainOrderID int64            `json:"blockchainOrderId"`
	AmountBzr    amount.BaseUnits `json:"amountBzr"`
}

// BatchCall is the single atomic extrinsic the buyer signs for a session.
type BatchCall struct {
	SessionID uuid.UUID          `json:"sessionId"`
	Call      chain.UnsignedCall `json:"call"`
	Members   []BatchMember      `json:"orders"`
	TotalBzr  amount.BaseUnits   `json:"totalBzr"`
	Signer    string             `json:"signer"`
}

// OrderOutcome reports the confirmation result of one member order.
type OrderOutcome struct {
	OrderID uuid.UUID         `json:"orderId"`
	Status  enums.OrderStatus `json:"status"`
	Error   string            `json:"error,omitempty"`
}

// BatchResult partitions member orders by confirmation outcome.
type BatchResult struct {
	Session   SessionView    `json:"session"`
	TxHash    string         `json:"txHash"`
	Confirmed []OrderOutcome `json:"confirmed"`
	Failed    []OrderOutcome `json:"failed"`
}

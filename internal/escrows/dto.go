package escrows

import (
	"time"

	"github.com/angelmondragon/bazari-settlement/internal/chain"
	"github.com/angelmondragon/bazari-settlement/internal/orders"
	"github.com/angelmondragon/bazari-settlement/pkg/amount"
	"github.com/angelmondragon/bazari-settlement/pkg/enums"
	"github.com/google/uuid"
)

// ActiveEscrow is a funded order the caller participates in.
type ActiveEscrow struct {
	Order             orders.OrderView `json:"order"`
	Role              string           `json:"role"`
	AutoReleaseBlocks int64            `json:"autoReleaseBlocks"`
	AutoReleaseAt     *time.Time       `json:"autoReleaseAt,omitempty"`
	DaysUntilRelease  *int             `json:"daysUntilRelease,omitempty"`
}

// UrgentEscrow is a locked escrow close to its auto-release block.
type UrgentEscrow struct {
	OrderID            uuid.UUID         `json:"orderId"`
	ChainOrderID       int64             `json:"blockchainOrderId"`
	BuyerAddress       string            `json:"buyerAddr"`
	SellerAddress      string            `json:"sellerAddr"`
	Status             enums.OrderStatus `json:"status"`
	AmountBzr          amount.BaseUnits  `json:"amountBzr"`
	LockedAtBlock      int64             `json:"lockedAtBlock"`
	BlocksUntilRelease int64             `json:"blocksUntilRelease"`
	EstimatedReleaseAt time.Time         `json:"estimatedReleaseAt"`
}

// ChainEscrow is the chain mirror of an escrow.
type ChainEscrow struct {
	Status         chain.EscrowStatus `json:"status"`
	Buyer          string             `json:"buyer"`
	Seller         string             `json:"seller"`
	AmountLocked   amount.BaseUnits   `json:"amountLocked"`
	AmountReleased amount.BaseUnits   `json:"amountReleased"`
	LockedAtBlock  int64              `json:"lockedAtBlock"`
	UpdatedAtBlock int64              `json:"updatedAtBlock"`
}

// ChainDispute is the chain mirror of a dispute.
type ChainDispute struct {
	ID         int64               `json:"id"`
	Status     chain.DisputeStatus `json:"status"`
	Plaintiff  string              `json:"plaintiff"`
	Defendant  string              `json:"defendant"`
	Unresolved bool                `json:"unresolved"`
}

// Detail joins the local order, its audit trail and the chain mirror.
// ChainAvailable is false when the node could not be read; the local
// fields are still populated.
type Detail struct {
	Order              orders.OrderView       `json:"order"`
	Logs               []orders.EscrowLogView `json:"logs"`
	ChainAvailable     bool                   `json:"chainAvailable"`
	Escrow             *ChainEscrow           `json:"escrow,omitempty"`
	Dispute            *ChainDispute          `json:"dispute,omitempty"`
	CurrentBlock       *int64                 `json:"currentBlock,omitempty"`
	BlocksUntilRelease *int64                 `json:"blocksUntilRelease,omitempty"`
	EstimatedReleaseAt *time.Time             `json:"estimatedReleaseAt,omitempty"`
}

func newChainEscrow(r *chain.EscrowRecord) *ChainEscrow {
	if r == nil {
		return nil
	}
	return &ChainEscrow{
		Status:         r.Status,
		Buyer:          r.Buyer,
		Seller:         r.Seller,
		AmountLocked:   r.AmountLocked,
		AmountReleased: r.AmountReleased,
		LockedAtBlock:  r.LockedAt,
		UpdatedAtBlock: r.UpdatedAt,
	}
}

func newChainDispute(d *chain.DisputeRecord) *ChainDispute {
	if d == nil {
		return nil
	}
	return &ChainDispute{
		ID:         d.ID,
		Status:     d.Status,
		Plaintiff:  d.Plaintiff,
		Defendant:  d.Defendant,
		Unresolved: d.Unresolved(),
	}
}

package chain

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/angelmondragon/bazari-settlement/pkg/amount"
)

// Pallets and storage items consulted by the gateway.
const (
	PalletEscrow  = "bazariEscrow"
	PalletDispute = "bazariDispute"
	PalletCouncil = "council"
	PalletUtility = "utility"

	StorageEscrows         = "escrows"
	StorageDisputesByOrder = "disputesByOrder"
	StorageMembers         = "members"

	CallRegisterOrder = "registerOrder"
	CallLockFunds     = "lockFunds"
	CallReleaseFunds  = "releaseFunds"
	CallRefund        = "refund"
	CallBatchAll      = "batchAll"
)

// EscrowStatus is the on-chain escrow state.
type EscrowStatus string

const (
	EscrowLocked        EscrowStatus = "Locked"
	EscrowReleased      EscrowStatus = "Released"
	EscrowRefunded      EscrowStatus = "Refunded"
	EscrowPartialRefund EscrowStatus = "PartialRefund"
	EscrowDisputed      EscrowStatus = "Disputed"
)

func (s EscrowStatus) valid() bool {
	switch s {
	case EscrowLocked, EscrowReleased, EscrowRefunded, EscrowPartialRefund, EscrowDisputed:
		return true
	}
	return false
}

// EscrowRecord is the typed chain mirror of one escrow.
type EscrowRecord struct {
	OrderID        int64
	Buyer          string
	Seller         string
	AmountLocked   amount.BaseUnits
	AmountReleased amount.BaseUnits
	Status         EscrowStatus
	LockedAt       int64
	UpdatedAt      int64
}

// DisputeStatus is the on-chain dispute lifecycle state.
type DisputeStatus string

const (
	DisputeOpened   DisputeStatus = "Opened"
	DisputeVoting   DisputeStatus = "Voting"
	DisputeResolved DisputeStatus = "Resolved"
	DisputeClosed   DisputeStatus = "Closed"
)

// DisputeRecord is the typed view of a dispute raised against an order.
type DisputeRecord struct {
	ID        int64
	OrderID   int64
	Plaintiff string
	Defendant string
	Status    DisputeStatus
}

// Unresolved reports whether the dispute still blocks release.
func (d *DisputeRecord) Unresolved() bool {
	return d != nil && d.Status != DisputeResolved && d.Status != DisputeClosed
}

// UnsignedCall is an encoded extrinsic the wallet signs and submits.
type UnsignedCall struct {
	Pallet   string `json:"pallet"`
	Method   string `json:"method"`
	Args     []any  `json:"args"`
	CallHex  string `json:"callHex"`
	CallHash string `json:"callHash"`
}

// Submission is the node's acknowledgement of a server-signed extrinsic.
type Submission struct {
	TxHash      string          `json:"txHash"`
	BlockNumber *int64          `json:"blockNumber,omitempty"`
	Result      json.RawMessage `json:"result,omitempty"`
}

// TxState is the inclusion state of a submitted extrinsic.
type TxState string

const (
	TxPending   TxState = "pending"
	TxInBlock   TxState = "inBlock"
	TxFinalized TxState = "finalized"
	TxFailed    TxState = "failed"
	TxUnknown   TxState = "unknown"
)

// TxStatus reports where a submitted extrinsic currently stands.
type TxStatus struct {
	State       TxState `json:"status"`
	BlockNumber *int64  `json:"blockNumber,omitempty"`
	Error       string  `json:"error,omitempty"`
}

// Included reports whether the extrinsic landed in a block.
func (s TxStatus) Included() bool {
	return s.State == TxInBlock || s.State == TxFinalized
}

// chainNumber decodes integers the node may send as JSON numbers, decimal
// strings or 0x-prefixed hex strings.
type chainNumber struct {
	value int64
	set   bool
}

func (n *chainNumber) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(data))
	if raw == "null" {
		return nil
	}
	if strings.HasPrefix(raw, `"`) {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		raw = strings.TrimSpace(s)
	}
	var (
		v   int64
		err error
	)
	if strings.HasPrefix(raw, "0x") || strings.HasPrefix(raw, "0X") {
		v, err = strconv.ParseInt(raw[2:], 16, 64)
	} else {
		v, err = strconv.ParseInt(raw, 10, 64)
	}
	if err != nil {
		return fmt.Errorf("invalid chain number %q", raw)
	}
	if v < 0 {
		return fmt.Errorf("negative chain number %q", raw)
	}
	n.value, n.set = v, true
	return nil
}

type wireEscrow struct {
	OrderID        chainNumber `json:"orderId"`
	Buyer          string      `json:"buyer"`
	Seller         string      `json:"seller"`
	AmountLocked   chainNumber `json:"amountLocked"`
	AmountReleased chainNumber `json:"amountReleased"`
	Status         string      `json:"status"`
	LockedAt       chainNumber `json:"lockedAt"`
	UpdatedAt      chainNumber `json:"updatedAt"`
}

func decodeEscrow(raw json.RawMessage) (*EscrowRecord, error) {
	var w wireEscrow
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, malformed("escrow", "%v", err)
	}
	status := EscrowStatus(w.Status)
	switch {
	case !w.OrderID.set:
		return nil, malformed("escrow", "missing orderId")
	case strings.TrimSpace(w.Buyer) == "" || strings.TrimSpace(w.Seller) == "":
		return nil, malformed("escrow", "missing buyer or seller")
	case !w.AmountLocked.set:
		return nil, malformed("escrow", "missing amountLocked")
	case !status.valid():
		return nil, malformed("escrow", "unknown status %q", w.Status)
	case !w.LockedAt.set:
		return nil, malformed("escrow", "missing lockedAt")
	}
	return &EscrowRecord{
		OrderID:        w.OrderID.value,
		Buyer:          w.Buyer,
		Seller:         w.Seller,
		AmountLocked:   amount.BaseUnits(w.AmountLocked.value),
		AmountReleased: amount.BaseUnits(w.AmountReleased.value),
		Status:         status,
		LockedAt:       w.LockedAt.value,
		UpdatedAt:      w.UpdatedAt.value,
	}, nil
}

type wireDispute struct {
	ID        chainNumber `json:"id"`
	OrderID   chainNumber `json:"orderId"`
	Plaintiff string      `json:"plaintiff"`
	Defendant string      `json:"defendant"`
	Status    string      `json:"status"`
}

func decodeDispute(raw json.RawMessage) (*DisputeRecord, error) {
	var w wireDispute
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, malformed("dispute", "%v", err)
	}
	status := DisputeStatus(w.Status)
	switch status {
	case DisputeOpened, DisputeVoting, DisputeResolved, DisputeClosed:
	default:
		return nil, malformed("dispute", "unknown status %q", w.Status)
	}
	if !w.ID.set || !w.OrderID.set {
		return nil, malformed("dispute", "missing id or orderId")
	}
	return &DisputeRecord{
		ID:        w.ID.value,
		OrderID:   w.OrderID.value,
		Plaintiff: w.Plaintiff,
		Defendant: w.Defendant,
		Status:    status,
	}, nil
}

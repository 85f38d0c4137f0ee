package chain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/angelmondragon/bazari-settlement/pkg/amount"
	"github.com/angelmondragon/bazari-settlement/pkg/config"
	"github.com/angelmondragon/bazari-settlement/pkg/metrics"
	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
)

var errTxPending = errors.New("chain: transaction not yet included")

// Gateway is the typed boundary to the escrow pallets. Everything crossing it
// is validated into EscrowRecord/DisputeRecord or rejected with ErrMalformed.
type Gateway struct {
	client           Client
	metrics          *metrics.ChainMetrics
	pollInterval     time.Duration
	inclusionTimeout time.Duration
}

// NewGateway wraps client with the configured inclusion wait.
func NewGateway(client Client, cfg config.ChainConfig, m *metrics.ChainMetrics) (*Gateway, error) {
	if client == nil {
		return nil, errors.New("chain client is required")
	}
	poll := cfg.PollInterval
	if poll <= 0 {
		poll = 2 * time.Second
	}
	timeout := cfg.InclusionTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Gateway{client: client, metrics: m, pollInterval: poll, inclusionTimeout: timeout}, nil
}

// Registration describes an order being registered on-chain.
type Registration struct {
	OrderID           uuid.UUID
	Buyer             string
	Seller            string
	Amount            amount.BaseUnits
	AutoReleaseBlocks int64
}

// RegisterOrder submits the order registration as operator and returns the
// chain-assigned order id.
func (g *Gateway) RegisterOrder(ctx context.Context, reg Registration) (int64, Submission, error) {
	sub, err := g.client.SubmitAsOperator(ctx, PalletEscrow, CallRegisterOrder,
		reg.OrderID.String(), reg.Buyer, reg.Seller, reg.Amount, reg.AutoReleaseBlocks)
	if err != nil {
		return 0, Submission{}, err
	}
	var out struct {
		OrderID chainNumber `json:"orderId"`
	}
	if err := json.Unmarshal(sub.Result, &out); err != nil || !out.OrderID.set {
		return 0, sub, malformed("registerOrder", "missing orderId in result")
	}
	return out.OrderID.value, sub, nil
}

// GetEscrow returns the escrow for chainOrderID, or nil when none exists.
func (g *Gateway) GetEscrow(ctx context.Context, chainOrderID int64) (*EscrowRecord, error) {
	raw, found, err := g.client.Query(ctx, PalletEscrow, StorageEscrows, chainOrderID)
	if err != nil || !found {
		return nil, err
	}
	rec, err := decodeEscrow(raw)
	if err != nil {
		g.metrics.IncError("escrows", ErrorClass(err))
		return nil, err
	}
	if rec.OrderID != chainOrderID {
		return nil, malformed("escrow", "order id mismatch: asked %d got %d", chainOrderID, rec.OrderID)
	}
	return rec, nil
}

// GetDispute returns the dispute raised against chainOrderID, or nil.
func (g *Gateway) GetDispute(ctx context.Context, chainOrderID int64) (*DisputeRecord, error) {
	raw, found, err := g.client.Query(ctx, PalletDispute, StorageDisputesByOrder, chainOrderID)
	if err != nil || !found {
		return nil, err
	}
	return decodeDispute(raw)
}

// CouncilMembers lists the governance council wallets.
func (g *Gateway) CouncilMembers(ctx context.Context) ([]string, error) {
	raw, found, err := g.client.Query(ctx, PalletCouncil, StorageMembers)
	if err != nil || !found {
		return nil, err
	}
	var members []string
	if err := json.Unmarshal(raw, &members); err != nil {
		return nil, malformed("council", "%v", err)
	}
	return members, nil
}

// IsCouncilMember reports whether wallet sits on the council.
func (g *Gateway) IsCouncilMember(ctx context.Context, wallet string) (bool, error) {
	wallet = strings.TrimSpace(wallet)
	if wallet == "" {
		return false, nil
	}
	members, err := g.CouncilMembers(ctx)
	if err != nil {
		return false, err
	}
	for _, m := range members {
		if m == wallet {
			return true, nil
		}
	}
	return false, nil
}

// CurrentBlock returns the best block number.
func (g *Gateway) CurrentBlock(ctx context.Context) (int64, error) {
	return g.client.BestBlock(ctx)
}

// BuildLockCall encodes lockFunds(orderId, amount).
func (g *Gateway) BuildLockCall(ctx context.Context, chainOrderID int64, amt amount.BaseUnits) (UnsignedCall, error) {
	return g.client.BuildCall(ctx, PalletEscrow, CallLockFunds, chainOrderID, amt)
}

// BuildReleaseCall encodes releaseFunds(orderId).
func (g *Gateway) BuildReleaseCall(ctx context.Context, chainOrderID int64) (UnsignedCall, error) {
	return g.client.BuildCall(ctx, PalletEscrow, CallReleaseFunds, chainOrderID)
}

// BuildRefundCall encodes refund(orderId).
func (g *Gateway) BuildRefundCall(ctx context.Context, chainOrderID int64) (UnsignedCall, error) {
	return g.client.BuildCall(ctx, PalletEscrow, CallRefund, chainOrderID)
}

// BuildBatchCall bundles calls into one atomic utility.batchAll extrinsic.
func (g *Gateway) BuildBatchCall(ctx context.Context, calls []UnsignedCall) (UnsignedCall, error) {
	if len(calls) == 0 {
		return UnsignedCall{}, errors.New("batch requires at least one call")
	}
	return g.client.BuildBatch(ctx, calls)
}

// SubmitRelease releases the escrow with the operator key.
func (g *Gateway) SubmitRelease(ctx context.Context, chainOrderID int64) (Submission, error) {
	return g.client.SubmitAsOperator(ctx, PalletEscrow, CallReleaseFunds, chainOrderID)
}

// WaitForInclusion polls until txHash is in a block. A failed extrinsic is a
// rejection; running out of time yields ErrInclusionTimeout.
func (g *Gateway) WaitForInclusion(ctx context.Context, txHash string) (TxStatus, error) {
	if strings.TrimSpace(txHash) == "" {
		return TxStatus{}, errors.New("tx hash is required")
	}

	var last TxStatus
	backoff := retry.WithMaxDuration(g.inclusionTimeout, retry.NewConstant(g.pollInterval))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		st, err := g.client.TxStatus(ctx, txHash)
		if err != nil {
			if IsUnavailable(err) {
				return retry.RetryableError(err)
			}
			return err
		}
		last = st
		switch {
		case st.Included():
			return nil
		case st.State == TxFailed:
			return &RejectedError{Reason: st.Error}
		default:
			return retry.RetryableError(errTxPending)
		}
	})
	switch {
	case err == nil:
		g.metrics.IncInclusion("included")
		return last, nil
	case IsRejected(err):
		g.metrics.IncInclusion("failed")
		return last, err
	case errors.Is(err, errTxPending), IsUnavailable(err), errors.Is(err, context.DeadlineExceeded):
		g.metrics.IncInclusion("timeout")
		return last, fmt.Errorf("%s: %w", txHash, ErrInclusionTimeout)
	default:
		return last, err
	}
}

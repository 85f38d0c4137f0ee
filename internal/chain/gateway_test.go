package chain

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/angelmondragon/bazari-settlement/pkg/amount"
	"github.com/angelmondragon/bazari-settlement/pkg/config"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

type stubClient struct {
	storage   map[string]json.RawMessage
	queryErr  error
	submitted []string
	submitRes Submission
	submitErr error
	statuses  []TxStatus
	statusErr error
	best      int64
	lastArgs  []any
}

func (s *stubClient) Query(_ context.Context, pallet, storage string, args ...any) (json.RawMessage, bool, error) {
	if s.queryErr != nil {
		return nil, false, s.queryErr
	}
	raw, ok := s.storage[pallet+"."+storage]
	return raw, ok, nil
}

func (s *stubClient) BuildCall(_ context.Context, pallet, method string, args ...any) (UnsignedCall, error) {
	s.lastArgs = args
	return UnsignedCall{Pallet: pallet, Method: method, Args: args, CallHex: "0x01", CallHash: "0xh"}, nil
}

func (s *stubClient) BuildBatch(_ context.Context, calls []UnsignedCall) (UnsignedCall, error) {
	return UnsignedCall{Pallet: PalletUtility, Method: CallBatchAll, CallHex: "0x02", CallHash: "0xb"}, nil
}

func (s *stubClient) SubmitAsOperator(_ context.Context, pallet, method string, args ...any) (Submission, error) {
	s.submitted = append(s.submitted, method)
	s.lastArgs = args
	return s.submitRes, s.submitErr
}

func (s *stubClient) TxStatus(context.Context, string) (TxStatus, error) {
	if s.statusErr != nil {
		return TxStatus{}, s.statusErr
	}
	if len(s.statuses) == 0 {
		return TxStatus{State: TxPending}, nil
	}
	st := s.statuses[0]
	if len(s.statuses) > 1 {
		s.statuses = s.statuses[1:]
	}
	return st, nil
}

func (s *stubClient) BestBlock(context.Context) (int64, error) { return s.best, nil }

func newTestGateway(t *testing.T, client *stubClient) *Gateway {
	t.Helper()
	g, err := NewGateway(client, config.ChainConfig{PollInterval: time.Millisecond, InclusionTimeout: 30 * time.Millisecond}, nil)
	require.NoError(t, err)
	return g
}

func TestGetEscrowAbsentReturnsNil(t *testing.T) {
	g := newTestGateway(t, &stubClient{storage: map[string]json.RawMessage{}})
	rec, err := g.GetEscrow(context.Background(), 12)
	require.NoError(t, err)
	require.Nil(t, rec)
}

func TestGetEscrowDecodesTypedRecord(t *testing.T) {
	g := newTestGateway(t, &stubClient{storage: map[string]json.RawMessage{
		"bazariEscrow.escrows": json.RawMessage(`{"orderId":"12","buyer":"5Buyer","seller":"5Seller","amountLocked":"110000000000000","amountReleased":0,"status":"Locked","lockedAt":100,"updatedAt":"0x64"}`),
	}})
	rec, err := g.GetEscrow(context.Background(), 12)
	require.NoError(t, err)
	require.Equal(t, int64(12), rec.OrderID)
	require.Equal(t, EscrowLocked, rec.Status)
	require.Equal(t, amount.BaseUnits(110000000000000), rec.AmountLocked)
	require.Equal(t, int64(100), rec.LockedAt)
	require.Equal(t, int64(100), rec.UpdatedAt)
}

func TestGetEscrowRejectsMalformedPayloads(t *testing.T) {
	for name, payload := range map[string]string{
		"unknown status": `{"orderId":12,"buyer":"a","seller":"b","amountLocked":1,"status":"Frozen","lockedAt":1}`,
		"missing buyer":  `{"orderId":12,"seller":"b","amountLocked":1,"status":"Locked","lockedAt":1}`,
		"wrong order":    `{"orderId":13,"buyer":"a","seller":"b","amountLocked":1,"status":"Locked","lockedAt":1}`,
		"negative":       `{"orderId":12,"buyer":"a","seller":"b","amountLocked":"-1","status":"Locked","lockedAt":1}`,
		"not an object":  `[1,2,3]`,
	} {
		t.Run(name, func(t *testing.T) {
			g := newTestGateway(t, &stubClient{storage: map[string]json.RawMessage{"bazariEscrow.escrows": json.RawMessage(payload)}})
			_, err := g.GetEscrow(context.Background(), 12)
			require.ErrorIs(t, err, ErrMalformed)
			require.True(t, IsRejected(err))
		})
	}
}

func TestGetDisputeUnresolved(t *testing.T) {
	g := newTestGateway(t, &stubClient{storage: map[string]json.RawMessage{
		"bazariDispute.disputesByOrder": json.RawMessage(`{"id":3,"orderId":12,"plaintiff":"a","defendant":"b","status":"Voting"}`),
	}})
	d, err := g.GetDispute(context.Background(), 12)
	require.NoError(t, err)
	require.True(t, d.Unresolved())

	d.Status = DisputeResolved
	require.False(t, d.Unresolved())

	var none *DisputeRecord
	require.False(t, none.Unresolved())
}

func TestIsCouncilMember(t *testing.T) {
	g := newTestGateway(t, &stubClient{storage: map[string]json.RawMessage{
		"council.members": json.RawMessage(`["5Alice","5Bob"]`),
	}})
	ok, err := g.IsCouncilMember(context.Background(), "5Bob")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = g.IsCouncilMember(context.Background(), "5Mallory")
	require.NoError(t, err)
	require.False(t, ok)

	empty := newTestGateway(t, &stubClient{storage: map[string]json.RawMessage{}})
	ok, err = empty.IsCouncilMember(context.Background(), "5Bob")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestBuildLockCallArgumentOrder(t *testing.T) {
	client := &stubClient{}
	g := newTestGateway(t, client)
	call, err := g.BuildLockCall(context.Background(), 44, amount.BaseUnits(500))
	require.NoError(t, err)
	require.Equal(t, CallLockFunds, call.Method)
	require.Equal(t, []any{int64(44), amount.BaseUnits(500)}, client.lastArgs)
}

func TestRegisterOrderReadsChainID(t *testing.T) {
	client := &stubClient{submitRes: Submission{TxHash: "0xreg", Result: json.RawMessage(`{"orderId":"0x2a"}`)}}
	g := newTestGateway(t, client)
	id, sub, err := g.RegisterOrder(context.Background(), Registration{OrderID: uuid.New(), Buyer: "b", Seller: "s", Amount: 10, AutoReleaseBlocks: 144000})
	require.NoError(t, err)
	require.Equal(t, int64(42), id)
	require.Equal(t, "0xreg", sub.TxHash)
	require.Equal(t, []string{CallRegisterOrder}, client.submitted)

	client.submitRes = Submission{TxHash: "0xreg"}
	_, _, err = g.RegisterOrder(context.Background(), Registration{OrderID: uuid.New()})
	require.ErrorIs(t, err, ErrMalformed)
}

func TestBuildBatchCallRequiresCalls(t *testing.T) {
	g := newTestGateway(t, &stubClient{})
	_, err := g.BuildBatchCall(context.Background(), nil)
	require.Error(t, err)
}

func TestWaitForInclusion(t *testing.T) {
	block := int64(900)
	t.Run("included", func(t *testing.T) {
		g := newTestGateway(t, &stubClient{statuses: []TxStatus{{State: TxPending}, {State: TxInBlock, BlockNumber: &block}}})
		st, err := g.WaitForInclusion(context.Background(), "0xtx")
		require.NoError(t, err)
		require.True(t, st.Included())
		require.Equal(t, block, *st.BlockNumber)
	})
	t.Run("failed is rejection", func(t *testing.T) {
		g := newTestGateway(t, &stubClient{statuses: []TxStatus{{State: TxFailed, Error: "BadOrigin"}}})
		_, err := g.WaitForInclusion(context.Background(), "0xtx")
		require.True(t, IsRejected(err))
		require.NotErrorIs(t, err, ErrInclusionTimeout)
	})
	t.Run("pending times out", func(t *testing.T) {
		g := newTestGateway(t, &stubClient{})
		_, err := g.WaitForInclusion(context.Background(), "0xtx")
		require.ErrorIs(t, err, ErrInclusionTimeout)
		require.False(t, IsRejected(err))
	})
	t.Run("node down times out", func(t *testing.T) {
		g := newTestGateway(t, &stubClient{statusErr: ErrUnavailable})
		_, err := g.WaitForInclusion(context.Background(), "0xtx")
		require.ErrorIs(t, err, ErrInclusionTimeout)
	})
}

package chain

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/angelmondragon/bazari-settlement/pkg/amount"
	"github.com/angelmondragon/bazari-settlement/pkg/config"
	"github.com/stretchr/testify/require"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func newTestRPC(t *testing.T, rt roundTripFunc) *RPCClient {
	t.Helper()
	c, err := NewRPCClient(config.ChainConfig{RPCURL: "http://node.test/rpc"}, WithHTTPClient(&http.Client{Transport: rt}))
	require.NoError(t, err)
	return c
}

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(strings.NewReader(body)),
		Header:     http.Header{"Content-Type": []string{"application/json"}},
	}
}

func TestRPCClientQuerySendsOrderedParams(t *testing.T) {
	var captured rpcRequest
	var params queryParams
	c := newTestRPC(t, func(req *http.Request) (*http.Response, error) {
		body, _ := io.ReadAll(req.Body)
		require.NoError(t, json.Unmarshal(body, &captured))
		raw, _ := json.Marshal(captured.Params)
		require.NoError(t, json.Unmarshal(raw, &params))
		return jsonResponse(http.StatusOK, `{"jsonrpc":"2.0","id":1,"result":{"orderId":7}}`), nil
	})

	raw, found, err := c.Query(context.Background(), PalletEscrow, StorageEscrows, int64(7), amount.BaseUnits(1500))
	require.NoError(t, err)
	require.True(t, found)
	require.JSONEq(t, `{"orderId":7}`, string(raw))
	require.Equal(t, "bazari_query", captured.Method)
	require.Equal(t, "2.0", captured.JSONRPC)
	require.Equal(t, PalletEscrow, params.Pallet)
	require.Equal(t, []any{float64(7), "1500"}, params.Args)
}

func TestRPCClientQueryAbsentIsNotError(t *testing.T) {
	c := newTestRPC(t, func(*http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusOK, `{"jsonrpc":"2.0","id":1,"result":null}`), nil
	})
	raw, found, err := c.Query(context.Background(), PalletEscrow, StorageEscrows, int64(1))
	require.NoError(t, err)
	require.False(t, found)
	require.Nil(t, raw)
}

func TestRPCClientClassifiesFailures(t *testing.T) {
	cases := []struct {
		name        string
		rt          roundTripFunc
		unavailable bool
		rejected    bool
	}{
		{
			name: "transport error",
			rt: func(*http.Request) (*http.Response, error) {
				return nil, errors.New("connection refused")
			},
			unavailable: true,
		},
		{
			name: "bad gateway",
			rt: func(*http.Request) (*http.Response, error) {
				return jsonResponse(http.StatusBadGateway, "upstream down"), nil
			},
			unavailable: true,
		},
		{
			name: "request timeout",
			rt: func(*http.Request) (*http.Response, error) {
				return jsonResponse(http.StatusRequestTimeout, "timed out"), nil
			},
			unavailable: true,
		},
		{
			name: "proxy not found",
			rt: func(*http.Request) (*http.Response, error) {
				return jsonResponse(http.StatusNotFound, "no route"), nil
			},
			unavailable: true,
		},
		{
			name: "bad request",
			rt: func(*http.Request) (*http.Response, error) {
				return jsonResponse(http.StatusBadRequest, "malformed call"), nil
			},
			rejected: true,
		},
		{
			name: "internal rpc error",
			rt: func(*http.Request) (*http.Response, error) {
				return jsonResponse(http.StatusOK, `{"jsonrpc":"2.0","id":1,"error":{"code":-32603,"message":"node not ready"}}`), nil
			},
			unavailable: true,
		},
		{
			name: "dispatch error",
			rt: func(*http.Request) (*http.Response, error) {
				return jsonResponse(http.StatusOK, `{"jsonrpc":"2.0","id":1,"error":{"code":1010,"message":"Invalid Transaction","data":"EscrowAlreadyExists"}}`), nil
			},
			rejected: true,
		},
		{
			name: "garbage body",
			rt: func(*http.Request) (*http.Response, error) {
				return jsonResponse(http.StatusOK, `<html>`), nil
			},
			rejected: true,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := newTestRPC(t, tc.rt)
			_, err := c.BuildCall(context.Background(), PalletEscrow, CallLockFunds, int64(1), amount.BaseUnits(10))
			require.Error(t, err)
			require.Equal(t, tc.unavailable, IsUnavailable(err), "unavailable: %v", err)
			require.Equal(t, tc.rejected, IsRejected(err), "rejected: %v", err)
		})
	}
}

func TestRPCClientRejectionCarriesReason(t *testing.T) {
	c := newTestRPC(t, func(*http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusOK, `{"jsonrpc":"2.0","id":1,"error":{"code":1010,"message":"Invalid Transaction","data":"EscrowAlreadyExists"}}`), nil
	})
	_, err := c.SubmitAsOperator(context.Background(), PalletEscrow, CallReleaseFunds, int64(3))
	var rejected *RejectedError
	require.ErrorAs(t, err, &rejected)
	require.Equal(t, 1010, rejected.Code)
	require.Contains(t, rejected.Reason, "EscrowAlreadyExists")
}

func TestRPCClientBuildCallKeepsArgs(t *testing.T) {
	c := newTestRPC(t, func(*http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusOK, `{"jsonrpc":"2.0","id":1,"result":{"callHex":"0x0a0b","callHash":"0xabc"}}`), nil
	})
	call, err := c.BuildCall(context.Background(), PalletEscrow, CallLockFunds, int64(9), amount.BaseUnits(2500))
	require.NoError(t, err)
	require.Equal(t, "0x0a0b", call.CallHex)
	require.Equal(t, "0xabc", call.CallHash)
	require.Equal(t, CallLockFunds, call.Method)
	require.Equal(t, []any{int64(9), "2500"}, call.Args)
}

func TestRPCClientBuildCallRejectsMissingHex(t *testing.T) {
	c := newTestRPC(t, func(*http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusOK, `{"jsonrpc":"2.0","id":1,"result":{"callHash":"0xabc"}}`), nil
	})
	_, err := c.BuildCall(context.Background(), PalletEscrow, CallRefund, int64(9))
	require.ErrorIs(t, err, ErrMalformed)
}

func TestRPCClientBestBlockAcceptsHex(t *testing.T) {
	c := newTestRPC(t, func(*http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusOK, `{"jsonrpc":"2.0","id":1,"result":"0x41a"}`), nil
	})
	n, err := c.BestBlock(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(1050), n)
}

func TestNewRPCClientRequiresURL(t *testing.T) {
	_, err := NewRPCClient(config.ChainConfig{})
	require.Error(t, err)
}

package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/angelmondragon/bazari-settlement/pkg/config"
	"github.com/angelmondragon/bazari-settlement/pkg/metrics"
)

const responseReadLimit int64 = 1 << 20

// Client is the transport to the node bridge. Query reports found=false when
// the storage item is absent, which is not an error.
type Client interface {
	Query(ctx context.Context, pallet, storage string, args ...any) (json.RawMessage, bool, error)
	BuildCall(ctx context.Context, pallet, method string, args ...any) (UnsignedCall, error)
	BuildBatch(ctx context.Context, calls []UnsignedCall) (UnsignedCall, error)
	SubmitAsOperator(ctx context.Context, pallet, method string, args ...any) (Submission, error)
	TxStatus(ctx context.Context, txHash string) (TxStatus, error)
	BestBlock(ctx context.Context) (int64, error)
}

// RPCClient speaks JSON-RPC 2.0 over HTTP to the node bridge.
type RPCClient struct {
	httpClient *http.Client
	endpoint   string
	metrics    *metrics.ChainMetrics
	nextID     atomic.Uint64
}

// RPCOption configures optional client behavior.
type RPCOption func(*RPCClient)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) RPCOption {
	return func(c *RPCClient) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithMetrics records call latency and error classes.
func WithMetrics(m *metrics.ChainMetrics) RPCOption {
	return func(c *RPCClient) { c.metrics = m }
}

// NewRPCClient builds a client for cfg.RPCURL.
func NewRPCClient(cfg config.ChainConfig, opts ...RPCOption) (*RPCClient, error) {
	endpoint := strings.TrimSpace(cfg.RPCURL)
	if endpoint == "" {
		return nil, errors.New("chain rpc url is required")
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	c := &RPCClient{
		httpClient: &http.Client{Timeout: timeout},
		endpoint:   endpoint,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c, nil
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
}

type rpcError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

type rpcResponse struct {
	ID     uint64          `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

// JSON-RPC codes that mean the bridge itself is unhealthy rather than the call being refused.
var unavailableRPCCodes = map[int]bool{
	-32603: true, // internal error
	-32001: true, // node syncing / not connected
}

// HTTP answers that come from the transport or a proxy in front of the
// bridge rather than from the runtime.
var unavailableHTTPStatuses = map[int]bool{
	http.StatusNotFound:           true,
	http.StatusRequestTimeout:     true,
	http.StatusMisdirectedRequest: true,
	http.StatusTooEarly:           true,
	http.StatusTooManyRequests:    true,
}

type queryParams struct {
	Pallet  string `json:"pallet"`
	Storage string `json:"storage"`
	Args    []any  `json:"args"`
}

type callParams struct {
	Pallet string `json:"pallet"`
	Method string `json:"method"`
	Args   []any  `json:"args"`
}

// Query reads a storage item.
func (c *RPCClient) Query(ctx context.Context, pallet, storage string, args ...any) (json.RawMessage, bool, error) {
	raw, err := c.call(ctx, "bazari_query", queryParams{Pallet: pallet, Storage: storage, Args: normalizeArgs(args)})
	if err != nil {
		return nil, false, err
	}
	if isNull(raw) {
		return nil, false, nil
	}
	return raw, true, nil
}

// BuildCall encodes an unsigned extrinsic.
func (c *RPCClient) BuildCall(ctx context.Context, pallet, method string, args ...any) (UnsignedCall, error) {
	args = normalizeArgs(args)
	raw, err := c.call(ctx, "bazari_buildCall", callParams{Pallet: pallet, Method: method, Args: args})
	if err != nil {
		return UnsignedCall{}, err
	}
	out, err := decodeCall(raw)
	if err != nil {
		return UnsignedCall{}, err
	}
	out.Pallet, out.Method, out.Args = pallet, method, args
	return out, nil
}

// BuildBatch wraps the given calls into a single utility.batchAll extrinsic.
func (c *RPCClient) BuildBatch(ctx context.Context, calls []UnsignedCall) (UnsignedCall, error) {
	hexes := make([]string, 0, len(calls))
	for _, call := range calls {
		hexes = append(hexes, call.CallHex)
	}
	raw, err := c.call(ctx, "bazari_buildBatch", map[string]any{"calls": hexes})
	if err != nil {
		return UnsignedCall{}, err
	}
	out, err := decodeCall(raw)
	if err != nil {
		return UnsignedCall{}, err
	}
	out.Pallet, out.Method = PalletUtility, CallBatchAll
	out.Args = []any{hexes}
	return out, nil
}

// SubmitAsOperator signs with the operator key held by the bridge and submits.
func (c *RPCClient) SubmitAsOperator(ctx context.Context, pallet, method string, args ...any) (Submission, error) {
	raw, err := c.call(ctx, "bazari_submitAsOperator", callParams{Pallet: pallet, Method: method, Args: normalizeArgs(args)})
	if err != nil {
		return Submission{}, err
	}
	var sub Submission
	if err := json.Unmarshal(raw, &sub); err != nil || strings.TrimSpace(sub.TxHash) == "" {
		return Submission{}, malformed("submit", "missing txHash")
	}
	return sub, nil
}

// TxStatus reports the inclusion state of txHash.
func (c *RPCClient) TxStatus(ctx context.Context, txHash string) (TxStatus, error) {
	raw, err := c.call(ctx, "bazari_txStatus", map[string]string{"txHash": txHash})
	if err != nil {
		return TxStatus{}, err
	}
	var st TxStatus
	if err := json.Unmarshal(raw, &st); err != nil {
		return TxStatus{}, malformed("txStatus", "%v", err)
	}
	if st.State == "" {
		st.State = TxUnknown
	}
	return st, nil
}

// BestBlock returns the current best block number.
func (c *RPCClient) BestBlock(ctx context.Context) (int64, error) {
	raw, err := c.call(ctx, "bazari_bestBlock", []any{})
	if err != nil {
		return 0, err
	}
	var n chainNumber
	if err := json.Unmarshal(raw, &n); err != nil || !n.set {
		return 0, malformed("bestBlock", "unexpected block number %s", string(raw))
	}
	return n.value, nil
}

func (c *RPCClient) call(ctx context.Context, method string, params any) (result json.RawMessage, err error) {
	start := time.Now()
	defer func() {
		c.metrics.ObserveCall(method, time.Since(start))
		if err != nil {
			c.metrics.IncError(method, ErrorClass(err))
		}
	}()

	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: c.nextID.Add(1), Method: method, Params: params})
	if err != nil {
		return nil, fmt.Errorf("%s: encode request: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%s: build request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, unavailable(method, err)
	}
	defer func() { _ = resp.Body.Close() }()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, responseReadLimit))
	if err != nil {
		return nil, unavailable(method, err)
	}

	switch {
	case resp.StatusCode >= http.StatusInternalServerError, unavailableHTTPStatuses[resp.StatusCode]:
		return nil, unavailable(method, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(payload))))
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("%s: %w", method, &RejectedError{Code: resp.StatusCode, Reason: strings.TrimSpace(string(payload))})
	}

	var decoded rpcResponse
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return nil, malformed(method, "decode envelope: %v", err)
	}
	if decoded.Error != nil {
		if unavailableRPCCodes[decoded.Error.Code] {
			return nil, unavailable(method, errors.New(decoded.Error.Message))
		}
		reason := decoded.Error.Message
		if len(decoded.Error.Data) > 0 && !isNull(decoded.Error.Data) {
			reason = fmt.Sprintf("%s: %s", reason, strings.Trim(string(decoded.Error.Data), `"`))
		}
		return nil, fmt.Errorf("%s: %w", method, &RejectedError{Code: decoded.Error.Code, Reason: reason})
	}
	return decoded.Result, nil
}

func decodeCall(raw json.RawMessage) (UnsignedCall, error) {
	var out struct {
		CallHex  string `json:"callHex"`
		CallHash string `json:"callHash"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return UnsignedCall{}, malformed("buildCall", "%v", err)
	}
	if !strings.HasPrefix(out.CallHex, "0x") || out.CallHash == "" {
		return UnsignedCall{}, malformed("buildCall", "missing callHex or callHash")
	}
	return UnsignedCall{CallHex: out.CallHex, CallHash: out.CallHash}, nil
}

// normalizeArgs keeps positional ordering and renders amounts as decimal strings.
func normalizeArgs(args []any) []any {
	out := make([]any, len(args))
	for i, arg := range args {
		if s, ok := arg.(fmt.Stringer); ok {
			out[i] = s.String()
			continue
		}
		out[i] = arg
	}
	return out
}

func isNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

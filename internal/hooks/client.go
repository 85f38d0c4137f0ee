package hooks

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/angelmondragon/bazari-settlement/pkg/amount"
	"github.com/angelmondragon/bazari-settlement/pkg/config"
	"github.com/angelmondragon/bazari-settlement/pkg/enums"
	"github.com/angelmondragon/bazari-settlement/pkg/types"
	"github.com/google/uuid"
)

const (
	defaultTimeout          = 5 * time.Second
	responseReadLimit int64 = 64 << 10
)

// ErrAccountNotFound is returned when no profile is linked to a wallet.
var ErrAccountNotFound = errors.New("no account linked to wallet")

// StatusError reports a non-2xx answer from a collaborator.
type StatusError struct {
	Service    string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s responded %d: %s", e.Service, e.StatusCode, e.Body)
}

// Retryable reports whether redelivery could succeed.
func (e *StatusError) Retryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// RewardEvent is the body sent to the rewards hooks.
type RewardEvent struct {
	AccountID string           `json:"accountId"`
	OrderID   uuid.UUID        `json:"orderId"`
	AmountBzr amount.BaseUnits `json:"amountBzr"`
}

// DeliveryRequest asks the delivery network to pick up an order.
type DeliveryRequest struct {
	OrderID         uuid.UUID             `json:"orderId"`
	SellerID        string                `json:"sellerId"`
	SellerAddress   string                `json:"sellerAddress"`
	BuyerAddress    string                `json:"buyerAddress"`
	ShippingAddress types.ShippingAddress `json:"shippingAddress"`
	ShippingMethod  *enums.ShippingMethod `json:"shippingMethod,omitempty"`
	ItemCount       int                   `json:"itemCount"`
}

// Client calls the reputation, rewards, profiles and delivery services. A
// collaborator with an empty base URL is disabled and its calls are no-ops.
type Client struct {
	httpClient    *http.Client
	reputationURL string
	rewardsURL    string
	profilesURL   string
	deliveryURL   string
}

// NewClient builds a collaborator client from the hooks config.
func NewClient(cfg config.HooksConfig, httpClient *http.Client) *Client {
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Client{
		httpClient:    httpClient,
		reputationURL: strings.TrimRight(strings.TrimSpace(cfg.ReputationURL), "/"),
		rewardsURL:    strings.TrimRight(strings.TrimSpace(cfg.RewardsURL), "/"),
		profilesURL:   strings.TrimRight(strings.TrimSpace(cfg.ProfilesURL), "/"),
		deliveryURL:   strings.TrimRight(strings.TrimSpace(cfg.DeliveryURL), "/"),
	}
}

// SyncReputation asks the reputation service to recompute a seller's score.
func (c *Client) SyncReputation(ctx context.Context, sellerID string) error {
	if c.reputationURL == "" {
		return nil
	}
	endpoint := fmt.Sprintf("%s/sellers/%s/sync", c.reputationURL, url.PathEscape(sellerID))
	return c.post(ctx, "reputation", endpoint, nil, nil)
}

// AfterOrderCreated notifies the rewards service of a new order.
func (c *Client) AfterOrderCreated(ctx context.Context, event RewardEvent) error {
	if c.rewardsURL == "" {
		return nil
	}
	return c.post(ctx, "rewards", c.rewardsURL+"/hooks/order-created", event, nil)
}

// AfterOrderCompleted notifies the rewards service of a released order.
func (c *Client) AfterOrderCompleted(ctx context.Context, event RewardEvent) error {
	if c.rewardsURL == "" {
		return nil
	}
	return c.post(ctx, "rewards", c.rewardsURL+"/hooks/order-completed", event, nil)
}

// ResolveAccount looks up the account id behind a wallet address.
func (c *Client) ResolveAccount(ctx context.Context, wallet string) (string, error) {
	if c.profilesURL == "" {
		return "", ErrAccountNotFound
	}
	endpoint := fmt.Sprintf("%s/profiles/by-wallet/%s", c.profilesURL, url.PathEscape(wallet))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept", "application/json")

	var out struct {
		AccountID string `json:"accountId"`
	}
	if err := c.do(req, "profiles", &out); err != nil {
		var statusErr *StatusError
		if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusNotFound {
			return "", ErrAccountNotFound
		}
		return "", err
	}
	if strings.TrimSpace(out.AccountID) == "" {
		return "", ErrAccountNotFound
	}
	return out.AccountID, nil
}

// CreateDeliveryRequest opens a pickup request with the delivery network.
func (c *Client) CreateDeliveryRequest(ctx context.Context, request DeliveryRequest) error {
	if c.deliveryURL == "" {
		return nil
	}
	return c.post(ctx, "delivery", c.deliveryURL+"/delivery-requests", request, nil)
}

func (c *Client) post(ctx context.Context, service, endpoint string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s request: %w", service, err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	return c.do(req, service, out)
}

func (c *Client) do(req *http.Request, service string, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s request: %w", service, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, responseReadLimit))
	if err != nil {
		return fmt.Errorf("read %s response: %w", service, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{Service: service, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}
	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %s response: %w", service, err)
	}
	return nil
}

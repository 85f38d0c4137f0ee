package enums

import "fmt"

// OrderStatus tracks the settlement lifecycle of an order. Local-only states
// (PENDING_BLOCKCHAIN, BLOCKCHAIN_FAILED) have no on-chain counterpart.
type OrderStatus string

const (
	OrderStatusPendingBlockchain OrderStatus = "PENDING_BLOCKCHAIN"
	OrderStatusBlockchainFailed  OrderStatus = "BLOCKCHAIN_FAILED"
	OrderStatusCreated           OrderStatus = "CREATED"
	OrderStatusEscrowed          OrderStatus = "ESCROWED"
	OrderStatusShipped           OrderStatus = "SHIPPED"
	OrderStatusReleased          OrderStatus = "RELEASED"
	OrderStatusRefunded          OrderStatus = "REFUNDED"
	OrderStatusCancelled         OrderStatus = "CANCELLED"
	OrderStatusTimeout           OrderStatus = "TIMEOUT"
)

var validOrderStatuses = []OrderStatus{
	OrderStatusPendingBlockchain,
	OrderStatusBlockchainFailed,
	OrderStatusCreated,
	OrderStatusEscrowed,
	OrderStatusShipped,
	OrderStatusReleased,
	OrderStatusRefunded,
	OrderStatusCancelled,
	OrderStatusTimeout,
}

// String implements fmt.Stringer.
func (s OrderStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is a known OrderStatus.
func (s OrderStatus) IsValid() bool {
	for _, candidate := range validOrderStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no user action can move the order further.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusReleased, OrderStatusRefunded, OrderStatusCancelled, OrderStatusTimeout:
		return true
	}
	return false
}

// HoldsFunds reports whether the escrow is expected to be locked on-chain.
func (s OrderStatus) HoldsFunds() bool {
	return s == OrderStatusEscrowed || s == OrderStatusShipped
}

// ParseOrderStatus converts raw input into an OrderStatus.
func ParseOrderStatus(value string) (OrderStatus, error) {
	for _, candidate := range validOrderStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid order status %q", value)
}

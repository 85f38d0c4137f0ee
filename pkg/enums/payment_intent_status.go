package enums

import "fmt"

// PaymentIntentStatus tracks one funding attempt against an order.
type PaymentIntentStatus string

const (
	PaymentIntentAwaitingFunds PaymentIntentStatus = "AWAITING_FUNDS"
	// PaymentIntentFundsPending means the buyer reported a lock tx that has not
	// been observed on-chain yet.
	PaymentIntentFundsPending  PaymentIntentStatus = "FUNDS_PENDING"
	PaymentIntentFundsReceived PaymentIntentStatus = "FUNDS_RECEIVED"
	PaymentIntentReleased      PaymentIntentStatus = "RELEASED"
	PaymentIntentRefunded      PaymentIntentStatus = "REFUNDED"
)

var validPaymentIntentStatuses = []PaymentIntentStatus{
	PaymentIntentAwaitingFunds,
	PaymentIntentFundsPending,
	PaymentIntentFundsReceived,
	PaymentIntentReleased,
	PaymentIntentRefunded,
}

func (s PaymentIntentStatus) String() string {
	return string(s)
}

func (s PaymentIntentStatus) IsValid() bool {
	for _, candidate := range validPaymentIntentStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

func ParsePaymentIntentStatus(value string) (PaymentIntentStatus, error) {
	for _, candidate := range validPaymentIntentStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid payment intent status %q", value)
}

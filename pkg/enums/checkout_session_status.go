package enums

import "fmt"

// CheckoutSessionStatus tracks a multi-seller checkout.
type CheckoutSessionStatus string

const (
	CheckoutSessionPending CheckoutSessionStatus = "PENDING"
	CheckoutSessionPaid    CheckoutSessionStatus = "PAID"
	CheckoutSessionFailed  CheckoutSessionStatus = "FAILED"
	CheckoutSessionExpired CheckoutSessionStatus = "EXPIRED"
)

var validCheckoutSessionStatuses = []CheckoutSessionStatus{
	CheckoutSessionPending,
	CheckoutSessionPaid,
	CheckoutSessionFailed,
	CheckoutSessionExpired,
}

func (s CheckoutSessionStatus) String() string {
	return string(s)
}

func (s CheckoutSessionStatus) IsValid() bool {
	for _, candidate := range validCheckoutSessionStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

func ParseCheckoutSessionStatus(value string) (CheckoutSessionStatus, error) {
	for _, candidate := range validCheckoutSessionStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid checkout session status %q", value)
}

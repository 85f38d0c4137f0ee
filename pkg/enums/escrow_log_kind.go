package enums

import "fmt"

// EscrowLogKind classifies entries of the append-only escrow audit trail.
type EscrowLogKind string

const (
	EscrowLogLock           EscrowLogKind = "LOCK"
	EscrowLogRelease        EscrowLogKind = "RELEASE"
	EscrowLogReleaseRequest EscrowLogKind = "RELEASE_REQUEST"
	EscrowLogRefund         EscrowLogKind = "REFUND"
	EscrowLogRefundRequest  EscrowLogKind = "REFUND_REQUEST"
	EscrowLogDispute        EscrowLogKind = "DISPUTE"
	EscrowLogShipped        EscrowLogKind = "SHIPPED"
)

var validEscrowLogKinds = []EscrowLogKind{
	EscrowLogLock,
	EscrowLogRelease,
	EscrowLogReleaseRequest,
	EscrowLogRefund,
	EscrowLogRefundRequest,
	EscrowLogDispute,
	EscrowLogShipped,
}

func (k EscrowLogKind) String() string {
	return string(k)
}

func (k EscrowLogKind) IsValid() bool {
	for _, candidate := range validEscrowLogKinds {
		if candidate == k {
			return true
		}
	}
	return false
}

func ParseEscrowLogKind(value string) (EscrowLogKind, error) {
	for _, candidate := range validEscrowLogKinds {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid escrow log kind %q", value)
}

// EscrowActionSource records who drove a settlement action.
type EscrowActionSource string

const (
	EscrowSourceUserSigned     EscrowActionSource = "user_signed"
	EscrowSourceBackendAssist  EscrowActionSource = "backend_assisted"
	EscrowSourceOperatorSigned EscrowActionSource = "operator_signed"
	EscrowSourceManual         EscrowActionSource = "manual"
	EscrowSourceReconciliation EscrowActionSource = "reconciliation"
)

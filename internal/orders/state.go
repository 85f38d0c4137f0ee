package orders

import (
	"github.com/angelmondragon/bazari-settlement/internal/chain"
	"github.com/angelmondragon/bazari-settlement/pkg/enums"
)

// transitions lists the moves a user or operator action may make. TIMEOUT and
// CANCELLED only leave through Reconcile.
var transitions = map[enums.OrderStatus][]enums.OrderStatus{
	enums.OrderStatusPendingBlockchain: {enums.OrderStatusCreated, enums.OrderStatusBlockchainFailed, enums.OrderStatusCancelled},
	enums.OrderStatusBlockchainFailed:  {enums.OrderStatusCreated, enums.OrderStatusCancelled},
	enums.OrderStatusCreated:           {enums.OrderStatusEscrowed, enums.OrderStatusCancelled},
	enums.OrderStatusEscrowed: {
		enums.OrderStatusShipped,
		enums.OrderStatusReleased,
		enums.OrderStatusRefunded,
		enums.OrderStatusTimeout,
		enums.OrderStatusCancelled,
	},
	enums.OrderStatusShipped: {
		enums.OrderStatusReleased,
		enums.OrderStatusRefunded,
		enums.OrderStatusTimeout,
		enums.OrderStatusCancelled,
	},
}

// CanTransition reports whether an action may move an order from one status to another.
func CanTransition(from, to enums.OrderStatus) bool {
	for _, candidate := range transitions[from] {
		if candidate == to {
			return true
		}
	}
	return false
}

// sourcesFor returns every status that may move to target through a user action.
func sourcesFor(target enums.OrderStatus) []enums.OrderStatus {
	var out []enums.OrderStatus
	for _, from := range orderedStatuses {
		if CanTransition(from, target) {
			out = append(out, from)
		}
	}
	return out
}

var orderedStatuses = []enums.OrderStatus{
	enums.OrderStatusPendingBlockchain,
	enums.OrderStatusBlockchainFailed,
	enums.OrderStatusCreated,
	enums.OrderStatusEscrowed,
	enums.OrderStatusShipped,
}

var settledFrom = []enums.OrderStatus{
	enums.OrderStatusCreated,
	enums.OrderStatusEscrowed,
	enums.OrderStatusShipped,
	enums.OrderStatusTimeout,
	enums.OrderStatusCancelled,
}

// Reconcile projects the on-chain escrow onto the local status. The chain is
// authoritative for fund movement; the second return value is false when the
// local status already agrees or cannot be advanced from the record.
func Reconcile(local enums.OrderStatus, record *chain.EscrowRecord) (enums.OrderStatus, bool) {
	if record == nil {
		return local, false
	}
	switch record.Status {
	case chain.EscrowLocked:
		if local == enums.OrderStatusCreated {
			return enums.OrderStatusEscrowed, true
		}
	case chain.EscrowReleased:
		if containsStatus(settledFrom, local) {
			return enums.OrderStatusReleased, true
		}
	case chain.EscrowRefunded, chain.EscrowPartialRefund:
		if containsStatus(settledFrom, local) {
			return enums.OrderStatusRefunded, true
		}
	case chain.EscrowDisputed:
		if local.HoldsFunds() {
			return enums.OrderStatusTimeout, true
		}
	}
	return local, false
}

func containsStatus(list []enums.OrderStatus, s enums.OrderStatus) bool {
	for _, candidate := range list {
		if candidate == s {
			return true
		}
	}
	return false
}

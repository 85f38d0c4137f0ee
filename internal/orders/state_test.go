package orders

import (
	"testing"

	"github.com/angelmondragon/bazari-settlement/internal/chain"
	"github.com/angelmondragon/bazari-settlement/pkg/enums"
	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	require.True(t, CanTransition(enums.OrderStatusCreated, enums.OrderStatusEscrowed))
	require.True(t, CanTransition(enums.OrderStatusShipped, enums.OrderStatusTimeout))
	require.False(t, CanTransition(enums.OrderStatusCreated, enums.OrderStatusReleased))
	require.False(t, CanTransition(enums.OrderStatusCancelled, enums.OrderStatusReleased))
	require.False(t, CanTransition(enums.OrderStatusReleased, enums.OrderStatusRefunded))
}

func TestSourcesForCancel(t *testing.T) {
	require.ElementsMatch(t, []enums.OrderStatus{
		enums.OrderStatusPendingBlockchain,
		enums.OrderStatusBlockchainFailed,
		enums.OrderStatusCreated,
		enums.OrderStatusEscrowed,
		enums.OrderStatusShipped,
	}, sourcesFor(enums.OrderStatusCancelled))
}

func TestReconcile(t *testing.T) {
	cases := []struct {
		name    string
		local   enums.OrderStatus
		chain   *chain.EscrowRecord
		want    enums.OrderStatus
		changed bool
	}{
		{"absent escrow", enums.OrderStatusCreated, nil, enums.OrderStatusCreated, false},
		{"lock observed", enums.OrderStatusCreated, &chain.EscrowRecord{Status: chain.EscrowLocked}, enums.OrderStatusEscrowed, true},
		{"lock already applied", enums.OrderStatusShipped, &chain.EscrowRecord{Status: chain.EscrowLocked}, enums.OrderStatusShipped, false},
		{"release from shipped", enums.OrderStatusShipped, &chain.EscrowRecord{Status: chain.EscrowReleased}, enums.OrderStatusReleased, true},
		{"release after timeout", enums.OrderStatusTimeout, &chain.EscrowRecord{Status: chain.EscrowReleased}, enums.OrderStatusReleased, true},
		{"refund after cancel", enums.OrderStatusCancelled, &chain.EscrowRecord{Status: chain.EscrowRefunded}, enums.OrderStatusRefunded, true},
		{"partial refund", enums.OrderStatusEscrowed, &chain.EscrowRecord{Status: chain.EscrowPartialRefund}, enums.OrderStatusRefunded, true},
		{"dispute opened", enums.OrderStatusEscrowed, &chain.EscrowRecord{Status: chain.EscrowDisputed}, enums.OrderStatusTimeout, true},
		{"released stays", enums.OrderStatusReleased, &chain.EscrowRecord{Status: chain.EscrowRefunded}, enums.OrderStatusReleased, false},
		{"local only state", enums.OrderStatusPendingBlockchain, &chain.EscrowRecord{Status: chain.EscrowLocked}, enums.OrderStatusPendingBlockchain, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, changed := Reconcile(tc.local, tc.chain)
			require.Equal(t, tc.want, got)
			require.Equal(t, tc.changed, changed)
		})
	}
}

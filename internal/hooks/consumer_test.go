package hooks

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/angelmondragon/bazari-settlement/pkg/amount"
	"github.com/angelmondragon/bazari-settlement/pkg/enums"
	"github.com/angelmondragon/bazari-settlement/pkg/logger"
	"github.com/angelmondragon/bazari-settlement/pkg/outbox"
	"github.com/angelmondragon/bazari-settlement/pkg/outbox/idempotency"
	"github.com/angelmondragon/bazari-settlement/pkg/outbox/payloads"
	"github.com/angelmondragon/bazari-settlement/pkg/outbox/registry"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestDispatchOrderCompletedRunsBothHooks(t *testing.T) {
	collab := newStubCollaborators()
	d := newTestDispatcher(t, collab)
	orderID := uuid.New()

	err := d.Dispatch(context.Background(), &payloads.OrderCompletedEvent{
		OrderID:      orderID,
		BuyerAddress: "5Buyer",
		SellerID:     "seller-1",
		GrossBzr:     amount.BaseUnits(1000),
	})
	require.NoError(t, err)
	require.Equal(t, []string{"seller-1"}, collab.reputation)
	require.Len(t, collab.completed, 1)
	require.Equal(t, "acct-buyer", collab.completed[0].AccountID)
	require.Equal(t, orderID, collab.completed[0].OrderID)
}

func TestDispatchOrderCompletedKeepsGoingWhenReputationFails(t *testing.T) {
	collab := newStubCollaborators()
	collab.reputationErr = errors.New("reputation down")
	d := newTestDispatcher(t, collab)

	err := d.Dispatch(context.Background(), &payloads.OrderCompletedEvent{
		OrderID:      uuid.New(),
		BuyerAddress: "5Buyer",
		SellerID:     "seller-1",
	})
	require.ErrorContains(t, err, "reputation down")
	require.Len(t, collab.completed, 1)
}

func TestDispatchSkipsRewardsWithoutAccount(t *testing.T) {
	collab := newStubCollaborators()
	d := newTestDispatcher(t, collab)

	err := d.Dispatch(context.Background(), &payloads.OrderCreatedEvent{
		OrderID:      uuid.New(),
		BuyerAddress: "5Stranger",
	})
	require.NoError(t, err)
	require.Empty(t, collab.created)
}

func TestDispatchDeliveryRequested(t *testing.T) {
	collab := newStubCollaborators()
	d := newTestDispatcher(t, collab)
	orderID := uuid.New()

	err := d.Dispatch(context.Background(), &payloads.DeliveryRequestedEvent{
		OrderID:   orderID,
		SellerID:  "seller-1",
		ItemCount: 3,
	})
	require.NoError(t, err)
	require.Len(t, collab.deliveries, 1)
	require.Equal(t, orderID, collab.deliveries[0].OrderID)
	require.Equal(t, 3, collab.deliveries[0].ItemCount)
}

func TestConsumerProcessDedupesRedelivery(t *testing.T) {
	collab := newStubCollaborators()
	guard := newStubGuard()
	c := newTestConsumer(t, collab, guard)
	eventID := uuid.New()
	data := envelopeBytes(t, eventID, payloads.OrderCreatedEvent{OrderID: uuid.New(), BuyerAddress: "5Buyer"})
	attrs := map[string]string{"event_type": string(enums.EventOrderCreated)}

	first := c.process(context.Background(), "m-1", attrs, data)
	second := c.process(context.Background(), "m-2", attrs, data)

	require.True(t, first.ack)
	require.True(t, second.ack)
	require.Len(t, collab.created, 1)
	require.True(t, guard.done[eventID])
}

func TestConsumerProcessNacksWhileAnotherDeliveryHoldsTheClaim(t *testing.T) {
	collab := newStubCollaborators()
	guard := newStubGuard()
	c := newTestConsumer(t, collab, guard)
	eventID := uuid.New()
	guard.claimed[eventID] = true
	data := envelopeBytes(t, eventID, payloads.OrderCreatedEvent{OrderID: uuid.New(), BuyerAddress: "5Buyer"})

	result := c.process(context.Background(), "m-1", map[string]string{"event_type": string(enums.EventOrderCreated)}, data)

	require.True(t, result.nack)
	require.Empty(t, collab.created)
	require.Empty(t, guard.released)
}

func TestConsumerProcessNacksAndReleasesOnRetryableFailure(t *testing.T) {
	collab := newStubCollaborators()
	collab.deliveryErr = &StatusError{Service: "delivery", StatusCode: http.StatusServiceUnavailable}
	guard := newStubGuard()
	c := newTestConsumer(t, collab, guard)
	eventID := uuid.New()
	data := envelopeBytes(t, eventID, payloads.DeliveryRequestedEvent{OrderID: uuid.New()})
	attrs := map[string]string{"event_type": string(enums.EventDeliveryRequested)}

	result := c.process(context.Background(), "m-1", attrs, data)

	require.True(t, result.nack)
	require.Equal(t, []uuid.UUID{eventID}, guard.released)
	require.NotContains(t, guard.claimed, eventID)
}

func TestConsumerProcessAcksPermanentRejection(t *testing.T) {
	collab := newStubCollaborators()
	collab.deliveryErr = &StatusError{Service: "delivery", StatusCode: http.StatusUnprocessableEntity}
	guard := newStubGuard()
	c := newTestConsumer(t, collab, guard)
	data := envelopeBytes(t, uuid.New(), payloads.DeliveryRequestedEvent{OrderID: uuid.New()})
	attrs := map[string]string{"event_type": string(enums.EventDeliveryRequested)}

	result := c.process(context.Background(), "m-1", attrs, data)

	require.True(t, result.ack)
	require.Empty(t, guard.released)
}

func TestConsumerProcessAcksMalformedMessages(t *testing.T) {
	collab := newStubCollaborators()
	guard := newStubGuard()
	c := newTestConsumer(t, collab, guard)

	unknown := c.process(context.Background(), "m-1", map[string]string{"event_type": "nope"}, []byte(`{}`))
	garbage := c.process(context.Background(), "m-2", map[string]string{"event_type": string(enums.EventOrderCreated)}, []byte(`not json`))
	noID := c.process(context.Background(), "m-3", map[string]string{"event_type": string(enums.EventOrderCreated)}, []byte(`{"eventId":"x","data":{}}`))

	require.True(t, unknown.ack)
	require.True(t, garbage.ack)
	require.True(t, noID.ack)
	require.Empty(t, guard.claimed)
}

func TestConsumerProcessNacksWhenGuardFails(t *testing.T) {
	collab := newStubCollaborators()
	guard := newStubGuard()
	guard.err = errors.New("redis down")
	c := newTestConsumer(t, collab, guard)
	data := envelopeBytes(t, uuid.New(), payloads.OrderCreatedEvent{OrderID: uuid.New(), BuyerAddress: "5Buyer"})

	result := c.process(context.Background(), "m-1", map[string]string{"event_type": string(enums.EventOrderCreated)}, data)

	require.True(t, result.nack)
	require.Empty(t, collab.created)
}

func newTestLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "hooks-test", Output: io.Discard})
}

func newTestDispatcher(t *testing.T, collab Collaborators) *Dispatcher {
	t.Helper()
	d, err := NewDispatcher(collab, newTestLogger())
	require.NoError(t, err)
	return d
}

func newTestConsumer(t *testing.T, collab Collaborators, guard processedGuard) *Consumer {
	t.Helper()
	return &Consumer{
		decoders:   registry.NewSettlementDecoders(),
		dispatcher: newTestDispatcher(t, collab),
		guard:      guard,
		logg:       newTestLogger(),
	}
}

func envelopeBytes(t *testing.T, eventID uuid.UUID, payload any) []byte {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	raw, err := json.Marshal(outbox.PayloadEnvelope{
		Version:    1,
		EventID:    eventID.String(),
		OccurredAt: time.Now().UTC(),
		Data:       data,
	})
	require.NoError(t, err)
	return raw
}

type stubCollaborators struct {
	accounts      map[string]string
	reputation    []string
	created       []RewardEvent
	completed     []RewardEvent
	deliveries    []DeliveryRequest
	reputationErr error
	deliveryErr   error
}

func newStubCollaborators() *stubCollaborators {
	return &stubCollaborators{accounts: map[string]string{"5Buyer": "acct-buyer"}}
}

func (s *stubCollaborators) SyncReputation(_ context.Context, sellerID string) error {
	s.reputation = append(s.reputation, sellerID)
	return s.reputationErr
}

func (s *stubCollaborators) AfterOrderCreated(_ context.Context, event RewardEvent) error {
	s.created = append(s.created, event)
	return nil
}

func (s *stubCollaborators) AfterOrderCompleted(_ context.Context, event RewardEvent) error {
	s.completed = append(s.completed, event)
	return nil
}

func (s *stubCollaborators) ResolveAccount(_ context.Context, wallet string) (string, error) {
	if id, ok := s.accounts[wallet]; ok {
		return id, nil
	}
	return "", ErrAccountNotFound
}

func (s *stubCollaborators) CreateDeliveryRequest(_ context.Context, request DeliveryRequest) error {
	if s.deliveryErr != nil {
		return s.deliveryErr
	}
	s.deliveries = append(s.deliveries, request)
	return nil
}

type stubGuard struct {
	claimed  map[uuid.UUID]bool
	done     map[uuid.UUID]bool
	released []uuid.UUID
	err      error
}

func newStubGuard() *stubGuard {
	return &stubGuard{claimed: map[uuid.UUID]bool{}, done: map[uuid.UUID]bool{}}
}

func (g *stubGuard) Claim(_ context.Context, _ string, eventID uuid.UUID) (idempotency.State, error) {
	switch {
	case g.err != nil:
		return idempotency.InFlight, g.err
	case g.done[eventID]:
		return idempotency.Done, nil
	case g.claimed[eventID]:
		return idempotency.InFlight, nil
	}
	g.claimed[eventID] = true
	return idempotency.Claimed, nil
}

func (g *stubGuard) Complete(_ context.Context, _ string, eventID uuid.UUID) error {
	delete(g.claimed, eventID)
	g.done[eventID] = true
	return nil
}

func (g *stubGuard) Release(_ context.Context, _ string, eventID uuid.UUID) error {
	delete(g.claimed, eventID)
	g.released = append(g.released, eventID)
	return nil
}

package registry

import (
	"encoding/json"
	"testing"

	"github.com/angelmondragon/bazari-settlement/pkg/enums"
	"github.com/angelmondragon/bazari-settlement/pkg/outbox/payloads"
	"github.com/google/uuid"
)

func TestDecoderRegistry(t *testing.T) {
	reg := NewDecoderRegistry()
	reg.Register(enums.EventOrderStatusChanged, 1, func(payload json.RawMessage) (any, error) {
		var decoded map[string]string
		if err := json.Unmarshal(payload, &decoded); err != nil {
			return nil, err
		}
		return decoded, nil
	})

	output, err := reg.Decode(enums.EventOrderStatusChanged, 1, json.RawMessage(`{"to":"RELEASED"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outMap, ok := output.(map[string]string); !ok || outMap["to"] != "RELEASED" {
		t.Fatalf("unexpected output %+v", output)
	}

	if _, err := reg.Decode(enums.EventOrderStatusChanged, 2, json.RawMessage(`{}`)); err == nil {
		t.Fatalf("expected missing version error")
	}
}

func TestSettlementDecoders(t *testing.T) {
	reg := NewSettlementDecoders()
	orderID := uuid.New()
	raw, _ := json.Marshal(payloads.OrderCompletedEvent{OrderID: orderID, SellerID: "seller-1", GrossBzr: 100})

	output, err := reg.Decode(enums.EventOrderCompleted, 1, raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	event, ok := output.(*payloads.OrderCompletedEvent)
	if !ok {
		t.Fatalf("unexpected type %T", output)
	}
	if event.OrderID != orderID || event.GrossBzr != 100 {
		t.Fatalf("payload mismatch %+v", event)
	}
}

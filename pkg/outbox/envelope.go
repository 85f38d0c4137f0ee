package outbox

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// EnvelopeVersion is written by Emit when the event does not pin one.
const EnvelopeVersion = 1

// ErrEmptyEventData is returned for envelopes whose data is missing or null.
var ErrEmptyEventData = errors.New("envelope data missing")

// ActorRef identifies the wallet and role behind a settlement event.
type ActorRef struct {
	SubjectID string `json:"subjectId,omitempty"`
	Wallet    string `json:"wallet,omitempty"`
	Role      string `json:"role,omitempty"`
}

// PayloadEnvelope is the JSON stored in outbox_events.payload and sent as
// the Pub/Sub message body.
type PayloadEnvelope struct {
	Version    int             `json:"version"`
	EventID    string          `json:"eventId"`
	OccurredAt time.Time       `json:"occurredAt"`
	Actor      *ActorRef       `json:"actor,omitempty"`
	Data       json.RawMessage `json:"data"`
}

// DecodeEnvelope parses raw and defaults a zero version to EnvelopeVersion.
func DecodeEnvelope(raw []byte) (PayloadEnvelope, error) {
	var env PayloadEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return PayloadEnvelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Version == 0 {
		env.Version = EnvelopeVersion
	}
	data := bytes.TrimSpace(env.Data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return env, ErrEmptyEventData
	}
	return env, nil
}

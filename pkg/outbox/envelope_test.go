package outbox

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDecodeEnvelopeDefaultsVersion(t *testing.T) {
	env, err := DecodeEnvelope([]byte(`{"eventId":"e-1","occurredAt":"2026-03-01T10:00:00Z","data":{"orderId":"o-1"}}`))
	require.NoError(t, err)
	require.Equal(t, EnvelopeVersion, env.Version)
	require.Equal(t, "e-1", env.EventID)
	require.JSONEq(t, `{"orderId":"o-1"}`, string(env.Data))
}

func TestDecodeEnvelopeRejectsEmptyData(t *testing.T) {
	for _, raw := range []string{
		`{"version":2,"eventId":"e-1"}`,
		`{"version":1,"eventId":"e-1","data":null}`,
	} {
		_, err := DecodeEnvelope([]byte(raw))
		require.True(t, errors.Is(err, ErrEmptyEventData), raw)
	}

	_, err := DecodeEnvelope([]byte(`not json`))
	require.Error(t, err)
	require.False(t, errors.Is(err, ErrEmptyEventData))
}

package redis

import "strings"

const keyNamespace = "bz"

// Keys builds the `bz:<kind>:<parts...>` key layout. Blank parts are
// dropped so optional segments never leave `::` behind.
type Keys struct{}

// RateLimitKey namespaces a fixed-window counter.
func (Keys) RateLimitKey(parts ...string) string {
	return buildKey("rl", parts...)
}

// IdempotencyKey namespaces a stored HTTP replay.
func (Keys) IdempotencyKey(scope, id string) string {
	return buildKey("idempotency", scope, id)
}

// LockKey namespaces a distributed job lock.
func (Keys) LockKey(name string) string {
	return buildKey("lock", name)
}

// EventKey namespaces a consumer's processed-event marker.
func (Keys) EventKey(consumer, eventID string) string {
	return buildKey("event", consumer, eventID)
}

func buildKey(kind string, parts ...string) string {
	var b strings.Builder
	b.WriteString(keyNamespace)
	b.WriteByte(':')
	b.WriteString(kind)
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		b.WriteByte(':')
		b.WriteString(part)
	}
	return b.String()
}

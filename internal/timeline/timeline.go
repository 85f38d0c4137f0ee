// Package timeline derives escrow auto-release deadlines. Every caller that
// needs "how long until funds move to the seller" goes through here.
package timeline

import (
	"time"

	"github.com/angelmondragon/bazari-settlement/pkg/enums"
)

const (
	// BlockTime is the target block interval of the settlement chain.
	BlockTime = 6 * time.Second
	// BlocksPerDay assumes a constant BlockTime.
	BlocksPerDay = int64(24 * time.Hour / BlockTime)

	DefaultDeliveryDays = 7
	MinReleaseDays      = 7
	MaxReleaseDays      = 60

	// FallbackAutoReleaseBlocks applies only to orders that never persisted a value.
	FallbackAutoReleaseBlocks = MinReleaseDays * BlocksPerDay
)

var protectionBufferDays = map[enums.ShippingMethod]int{
	enums.ShippingMethodExpress:  3,
	enums.ShippingMethodStandard: 7,
	enums.ShippingMethodPickup:   2,
	enums.ShippingMethodDigital:  3,
}

const defaultBufferDays = 7

// Timeline is the derived release schedule for one order.
type Timeline struct {
	DeliveryDays      int       `json:"deliveryDays"`
	BufferDays        int       `json:"bufferDays"`
	AutoReleaseDays   int       `json:"autoReleaseDays"`
	AutoReleaseBlocks int64     `json:"autoReleaseBlocks"`
	AutoReleaseAt     time.Time `json:"autoReleaseAt"`
}

// Calculate maps a delivery estimate and shipping method to an auto-release
// deadline. A nil or non-positive estimate means DefaultDeliveryDays.
func Calculate(deliveryDays *int, method *enums.ShippingMethod, now time.Time) Timeline {
	days := DefaultDeliveryDays
	if deliveryDays != nil && *deliveryDays > 0 {
		days = *deliveryDays
	}

	buffer := defaultBufferDays
	if method != nil {
		if b, ok := protectionBufferDays[*method]; ok {
			buffer = b
		}
	}

	total := days + buffer
	if total < MinReleaseDays {
		total = MinReleaseDays
	}
	if total > MaxReleaseDays {
		total = MaxReleaseDays
	}

	return Timeline{
		DeliveryDays:      days,
		BufferDays:        buffer,
		AutoReleaseDays:   total,
		AutoReleaseBlocks: int64(total) * BlocksPerDay,
		AutoReleaseAt:     now.UTC().Add(time.Duration(total) * 24 * time.Hour),
	}
}

// EffectiveBlocks returns the persisted block count or the fallback.
func EffectiveBlocks(persisted *int64) int64 {
	if persisted == nil || *persisted <= 0 {
		return FallbackAutoReleaseBlocks
	}
	return *persisted
}

// BlocksUntilRelease is negative once the deadline has passed.
func BlocksUntilRelease(lockedAt, autoReleaseBlocks, currentBlock int64) int64 {
	return lockedAt + autoReleaseBlocks - currentBlock
}

// IsUrgent reports 0 < remaining <= threshold.
func IsUrgent(remaining, threshold int64) bool {
	return remaining > 0 && remaining <= threshold
}

// EstimatedReleaseAt projects the remaining blocks onto wall-clock time.
func EstimatedReleaseAt(remaining int64, now time.Time) time.Time {
	if remaining <= 0 {
		return now.UTC()
	}
	return now.UTC().Add(time.Duration(remaining) * BlockTime)
}

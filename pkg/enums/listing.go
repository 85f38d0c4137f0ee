package enums

import (
	"fmt"
	"strings"
)

// ListingKind separates physical goods from services.
type ListingKind string

const (
	ListingKindProduct ListingKind = "PRODUCT"
	ListingKindService ListingKind = "SERVICE"
)

var validListingKinds = []ListingKind{ListingKindProduct, ListingKindService}

func (k ListingKind) IsValid() bool {
	for _, candidate := range validListingKinds {
		if candidate == k {
			return true
		}
	}
	return false
}

func ParseListingKind(value string) (ListingKind, error) {
	for _, candidate := range validListingKinds {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid listing kind %q", value)
}

// ShippingMethod drives the buyer protection buffer of the escrow timeline.
type ShippingMethod string

const (
	ShippingMethodStandard ShippingMethod = "STANDARD"
	ShippingMethodExpress  ShippingMethod = "EXPRESS"
	ShippingMethodPickup   ShippingMethod = "PICKUP"
	ShippingMethodDigital  ShippingMethod = "DIGITAL"
)

var validShippingMethods = []ShippingMethod{
	ShippingMethodStandard,
	ShippingMethodExpress,
	ShippingMethodPickup,
	ShippingMethodDigital,
}

func (m ShippingMethod) IsValid() bool {
	for _, candidate := range validShippingMethods {
		if candidate == m {
			return true
		}
	}
	return false
}

// ParseShippingMethod is case-insensitive; clients send lower-case option ids.
func ParseShippingMethod(value string) (ShippingMethod, error) {
	normalized := ShippingMethod(strings.ToUpper(strings.TrimSpace(value)))
	if normalized.IsValid() {
		return normalized, nil
	}
	return "", fmt.Errorf("invalid shipping method %q", value)
}

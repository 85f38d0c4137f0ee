package types

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
)

// ShippingAddress is the buyer-supplied delivery destination. It is stored
// as a JSON document alongside the order.
type ShippingAddress struct {
	RecipientName string  `json:"recipientName" validate:"required"`
	Line1         string  `json:"line1" validate:"required"`
	Line2         *string `json:"line2,omitempty"`
	City          string  `json:"city" validate:"required"`
	State         string  `json:"state" validate:"required"`
	PostalCode    string  `json:"postalCode" validate:"required"`
	Country       string  `json:"country" validate:"required,len=2"`
	Phone         *string `json:"phone,omitempty"`
}

// Validate checks the fields required by delivery partners.
func (a ShippingAddress) Validate() error {
	missing := []string{}
	for name, value := range map[string]string{
		"line1":      a.Line1,
		"city":       a.City,
		"state":      a.State,
		"postalCode": a.PostalCode,
		"country":    a.Country,
	} {
		if strings.TrimSpace(value) == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("shipping address: missing %s", strings.Join(missing, ", "))
	}
	return nil
}

// Value marshals the address as JSON.
func (a ShippingAddress) Value() (driver.Value, error) {
	payload, err := json.Marshal(a)
	if err != nil {
		return nil, err
	}
	return string(payload), nil
}

// Scan decodes a JSON document.
func (a *ShippingAddress) Scan(value any) error {
	if value == nil {
		*a = ShippingAddress{}
		return nil
	}
	var raw []byte
	switch v := value.(type) {
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	default:
		return fmt.Errorf("shipping address: unsupported scan type %T", value)
	}
	return json.Unmarshal(raw, a)
}

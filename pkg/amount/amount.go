// Package amount converts between display amounts and on-chain base units.
//
// One display unit (BZR) is 10^12 base units. All arithmetic is exact; no
// value ever passes through a float.
package amount

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/big"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// Decimals is the number of fractional digits carried on-chain.
const Decimals = 12

// DisplayDecimals is the number of fractional digits shown to users.
const DisplayDecimals = 2

var (
	ErrInvalid  = errors.New("amount: invalid decimal")
	ErrNegative = errors.New("amount: negative value")
	ErrOverflow = errors.New("amount: exceeds 64-bit base units")
)

var maxBaseUnits = decimal.NewFromInt(math.MaxInt64)

// BaseUnits is an amount expressed in the smallest indivisible unit. It
// serializes as a decimal string on the wire and in the database.
type BaseUnits int64

// Zero is the empty amount.
const Zero BaseUnits = 0

// Parse converts a display amount ("10", "10.5", "10,50") into base units.
// Digits beyond the twelfth fractional place are truncated.
func Parse(input string) (BaseUnits, error) {
	raw := strings.TrimSpace(input)
	if raw == "" {
		return 0, ErrInvalid
	}
	if strings.Count(raw, ",")+strings.Count(raw, ".") > 1 {
		return 0, fmt.Errorf("%w: %q", ErrInvalid, input)
	}
	raw = strings.Replace(raw, ",", ".", 1)
	if strings.ContainsAny(raw, "eE") {
		return 0, fmt.Errorf("%w: %q", ErrInvalid, input)
	}

	value, err := decimal.NewFromString(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalid, input)
	}
	if value.IsNegative() {
		return 0, ErrNegative
	}

	units := value.Shift(Decimals).Truncate(0)
	if units.GreaterThan(maxBaseUnits) {
		return 0, ErrOverflow
	}
	return BaseUnits(units.IntPart()), nil
}

// ToBaseUnits is the lenient form of Parse: anything unparseable yields zero.
// Callers that must tell "zero" from "garbage" use Parse.
func ToBaseUnits(input string) BaseUnits {
	units, err := Parse(input)
	if err != nil {
		return 0
	}
	return units
}

// FromInt converts whole display units into base units.
func FromInt(n int64) (BaseUnits, error) {
	if n < 0 {
		return 0, ErrNegative
	}
	units := decimal.NewFromInt(n).Shift(Decimals)
	if units.GreaterThan(maxBaseUnits) {
		return 0, ErrOverflow
	}
	return BaseUnits(units.IntPart()), nil
}

// ParseUnits reads a raw base-unit integer string, as stored or sent by chain.
func ParseUnits(raw string) (BaseUnits, error) {
	value, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		if errors.Is(err, strconv.ErrRange) {
			return 0, ErrOverflow
		}
		return 0, fmt.Errorf("%w: %q", ErrInvalid, raw)
	}
	if value < 0 {
		return 0, ErrNegative
	}
	return BaseUnits(value), nil
}

// String renders the raw base-unit integer.
func (b BaseUnits) String() string {
	return strconv.FormatInt(int64(b), 10)
}

// Format renders the amount with two decimals, e.g. "110.00".
func (b BaseUnits) Format() string {
	return decimal.New(int64(b), -Decimals).StringFixed(DisplayDecimals)
}

// Add returns b+o, failing on overflow.
func (b BaseUnits) Add(o BaseUnits) (BaseUnits, error) {
	if o > 0 && b > math.MaxInt64-o {
		return 0, ErrOverflow
	}
	return b + o, nil
}

// Mul returns b*qty, failing on overflow or negative quantity.
func (b BaseUnits) Mul(qty int64) (BaseUnits, error) {
	if qty < 0 {
		return 0, ErrNegative
	}
	product := new(big.Int).Mul(big.NewInt(int64(b)), big.NewInt(qty))
	if !product.IsInt64() {
		return 0, ErrOverflow
	}
	return BaseUnits(product.Int64()), nil
}

// FeeSplit computes fee = gross*bps/10000 (truncated) and net = gross-fee.
func FeeSplit(gross BaseUnits, basisPoints int64) (fee, net BaseUnits, err error) {
	if basisPoints < 0 || basisPoints > 10000 {
		return 0, 0, fmt.Errorf("amount: fee basis points %d out of range", basisPoints)
	}
	product := new(big.Int).Mul(big.NewInt(int64(gross)), big.NewInt(basisPoints))
	product.Quo(product, big.NewInt(10000))
	fee = BaseUnits(product.Int64())
	return fee, gross - fee, nil
}

// Sum adds all values, failing on overflow.
func Sum(values ...BaseUnits) (BaseUnits, error) {
	var total BaseUnits
	for _, v := range values {
		next, err := total.Add(v)
		if err != nil {
			return 0, err
		}
		total = next
	}
	return total, nil
}

// MarshalJSON encodes the amount as a quoted integer string.
func (b BaseUnits) MarshalJSON() ([]byte, error) {
	return json.Marshal(b.String())
}

// UnmarshalJSON accepts a quoted base-unit integer.
func (b *BaseUnits) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("%w: expected string", ErrInvalid)
	}
	value, err := ParseUnits(raw)
	if err != nil {
		return err
	}
	*b = value
	return nil
}

// Value stores the amount as text so numeric precision never depends on the driver.
func (b BaseUnits) Value() (driver.Value, error) {
	return b.String(), nil
}

// Scan reads text or integer columns.
func (b *BaseUnits) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*b = 0
		return nil
	case int64:
		*b = BaseUnits(v)
		return nil
	case string:
		value, err := ParseUnits(v)
		if err != nil {
			return err
		}
		*b = value
		return nil
	case []byte:
		value, err := ParseUnits(string(v))
		if err != nil {
			return err
		}
		*b = value
		return nil
	default:
		return fmt.Errorf("amount: unsupported scan type %T", src)
	}
}

// Package models defines the core accounting domain types.
package models

import (
	"encoding/json"
	"strings"

	"github.com/crestfin/ledgercore/internal/common"
)

// Currency is an ISO 4217 currency code from the closed set below.
type Currency string

const (
	AUD Currency = "AUD"
	BHD Currency = "BHD"
	CAD Currency = "CAD"
	CHF Currency = "CHF"
	EUR Currency = "EUR"
	GBP Currency = "GBP"
	JPY Currency = "JPY"
	NZD Currency = "NZD"
	SGD Currency = "SGD"
	USD Currency = "USD"
)

// minorUnits maps each supported currency to its ISO 4217 minor-unit
// exponent. Membership in this map defines the closed set.
var minorUnits = map[Currency]int32{
	AUD: 2,
	BHD: 3,
	CAD: 2,
	CHF: 2,
	EUR: 2,
	GBP: 2,
	JPY: 0,
	NZD: 2,
	SGD: 2,
	USD: 2,
}

// ParseCurrency validates a currency code. Unknown codes are rejected
// rather than defaulted.
func ParseCurrency(code string) (Currency, error) {
	c := Currency(strings.ToUpper(strings.TrimSpace(code)))
	if _, ok := minorUnits[c]; !ok {
		return "", common.E(common.KindValidation, "unknown currency code: %q", code)
	}
	return c, nil
}

// MinorUnits returns the currency's minor-unit exponent (2 for USD, 0 for JPY).
func (c Currency) MinorUnits() int32 {
	return minorUnits[c]
}

// Valid reports whether the currency belongs to the supported set.
func (c Currency) Valid() bool {
	_, ok := minorUnits[c]
	return ok
}

func (c Currency) String() string {
	return string(c)
}

// UnmarshalJSON rejects unknown currency codes at the serialization boundary.
func (c *Currency) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseCurrency(s)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

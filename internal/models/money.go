package models

import (
	"encoding/json"

	"github.com/shopspring/decimal"

	"github.com/crestfin/ledgercore/internal/common"
)

func init() {
	// Monetary division carries at least 28 significant digits before any
	// explicit rounding boundary.
	if decimal.DivisionPrecision < 28 {
		decimal.DivisionPrecision = 28
	}
}

// Money is an exact-decimal amount tagged with a currency. The zero value
// is not usable; construct via NewMoney, ParseMoney, or Zero.
type Money struct {
	amount   decimal.Decimal
	currency Currency
}

// NewMoney builds a Money from a decimal amount and a currency.
func NewMoney(amount decimal.Decimal, currency Currency) (Money, error) {
	if !currency.Valid() {
		return Money{}, common.E(common.KindValidation, "unknown currency code: %q", currency)
	}
	return Money{amount: amount, currency: currency}, nil
}

// ParseMoney builds a Money from a decimal string such as "1000.00".
// Non-numeric input (including NaN/Inf spellings) is rejected.
func ParseMoney(amount string, currency Currency) (Money, error) {
	if !currency.Valid() {
		return Money{}, common.E(common.KindValidation, "unknown currency code: %q", currency)
	}
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return Money{}, common.Wrap(common.KindValidation, err, "invalid amount %q", amount)
	}
	return Money{amount: d, currency: currency}, nil
}

// Zero returns a zero amount in the given currency.
func Zero(currency Currency) Money {
	return Money{amount: decimal.Zero, currency: currency}
}

// Amount returns the underlying decimal value.
func (m Money) Amount() decimal.Decimal {
	return m.amount
}

// Currency returns the currency tag.
func (m Money) Currency() Currency {
	return m.currency
}

func (m Money) sameCurrency(other Money) error {
	if m.currency != other.currency {
		return common.E(common.KindValidation, "currency mismatch: %s vs %s", m.currency, other.currency)
	}
	return nil
}

// Add returns m + other. Fails on currency mismatch.
func (m Money) Add(other Money) (Money, error) {
	if err := m.sameCurrency(other); err != nil {
		return Money{}, err
	}
	return Money{amount: m.amount.Add(other.amount), currency: m.currency}, nil
}

// Sub returns m - other. Fails on currency mismatch.
func (m Money) Sub(other Money) (Money, error) {
	if err := m.sameCurrency(other); err != nil {
		return Money{}, err
	}
	return Money{amount: m.amount.Sub(other.amount), currency: m.currency}, nil
}

// Mul returns m scaled by an exact decimal factor.
func (m Money) Mul(scalar decimal.Decimal) Money {
	return Money{amount: m.amount.Mul(scalar), currency: m.currency}
}

// RoundingMode selects how division resolves ties at the precision
// boundary.
type RoundingMode int

const (
	// RoundHalfEven is banker's rounding, the default on monetary paths.
	RoundHalfEven RoundingMode = iota
	// RoundHalfUp rounds ties away from zero.
	RoundHalfUp
)

// Div returns m divided by an exact decimal divisor, rounded half-even at
// the configured division precision. A zero divisor fails.
func (m Money) Div(scalar decimal.Decimal) (Money, error) {
	return m.DivRound(scalar, RoundHalfEven)
}

// DivRound divides with an explicit rounding mode at the division
// precision boundary.
func (m Money) DivRound(scalar decimal.Decimal, mode RoundingMode) (Money, error) {
	if scalar.IsZero() {
		return Money{}, common.E(common.KindValidation, "division by zero")
	}
	prec := int32(decimal.DivisionPrecision)
	if mode == RoundHalfUp {
		return Money{amount: m.amount.DivRound(scalar, prec), currency: m.currency}, nil
	}
	// Divide one digit past the boundary, then resolve the tie half-even.
	q := m.amount.DivRound(scalar, prec+1).RoundBank(prec)
	return Money{amount: q, currency: m.currency}, nil
}

// RoundToMinorUnits snaps the amount to the currency's minor-unit precision
// using banker's rounding. Idempotent.
func (m Money) RoundToMinorUnits() Money {
	return Money{amount: m.amount.RoundBank(m.currency.MinorUnits()), currency: m.currency}
}

// Neg returns the negated amount.
func (m Money) Neg() Money {
	return Money{amount: m.amount.Neg(), currency: m.currency}
}

func (m Money) IsZero() bool     { return m.amount.IsZero() }
func (m Money) IsPositive() bool { return m.amount.IsPositive() }
func (m Money) IsNegative() bool { return m.amount.IsNegative() }

// Cmp compares two amounts of the same currency: -1, 0, or +1.
func (m Money) Cmp(other Money) (int, error) {
	if err := m.sameCurrency(other); err != nil {
		return 0, err
	}
	return m.amount.Cmp(other.amount), nil
}

// Equal reports whether both currency and amount match exactly in value.
func (m Money) Equal(other Money) bool {
	return m.currency == other.currency && m.amount.Equal(other.amount)
}

// String renders the amount with the currency's minor-unit digits,
// e.g. "1000.00 USD".
func (m Money) String() string {
	return m.amount.StringFixedBank(m.currency.MinorUnits()) + " " + string(m.currency)
}

// moneyJSON is the wire shape: amount as a string, currency as its code.
type moneyJSON struct {
	Amount   string   `json:"amount"`
	Currency Currency `json:"currency"`
}

// MarshalJSON serializes as {"amount":"…","currency":"…"} preserving full
// precision in the amount string.
func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(moneyJSON{Amount: m.amount.String(), Currency: m.currency})
}

// UnmarshalJSON parses the wire shape, rejecting malformed amounts and
// unknown currencies.
func (m *Money) UnmarshalJSON(data []byte) error {
	var raw moneyJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := ParseMoney(raw.Amount, raw.Currency)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

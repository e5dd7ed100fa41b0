package models

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/crestfin/ledgercore/internal/common"
)

// EntryState is the lifecycle state of a journal entry.
type EntryState string

const (
	EntryPending  EntryState = "pending"
	EntryPosted   EntryState = "posted"
	EntryReversed EntryState = "reversed"
)

// ParseEntryState rejects unknown states instead of defaulting.
func ParseEntryState(s string) (EntryState, error) {
	switch EntryState(strings.ToLower(strings.TrimSpace(s))) {
	case EntryPending:
		return EntryPending, nil
	case EntryPosted:
		return EntryPosted, nil
	case EntryReversed:
		return EntryReversed, nil
	}
	return "", common.E(common.KindValidation, "unknown journal entry state: %q", s)
}

// CanTransitionTo encodes the legal state machine:
// pending→posted and posted→reversed only.
func (s EntryState) CanTransitionTo(next EntryState) bool {
	switch {
	case s == EntryPending && next == EntryPosted:
		return true
	case s == EntryPosted && next == EntryReversed:
		return true
	}
	return false
}

func (s EntryState) String() string { return string(s) }

// AccountType classifies an account by its normal balance side.
type AccountType string

const (
	AccountAsset     AccountType = "asset"
	AccountLiability AccountType = "liability"
	AccountEquity    AccountType = "equity"
	AccountRevenue   AccountType = "revenue"
	AccountExpense   AccountType = "expense"
)

// ParseAccountType rejects unknown types.
func ParseAccountType(s string) (AccountType, error) {
	switch AccountType(strings.ToLower(strings.TrimSpace(s))) {
	case AccountAsset:
		return AccountAsset, nil
	case AccountLiability:
		return AccountLiability, nil
	case AccountEquity:
		return AccountEquity, nil
	case AccountRevenue:
		return AccountRevenue, nil
	case AccountExpense:
		return AccountExpense, nil
	}
	return "", common.E(common.KindValidation, "unknown account type: %q", s)
}

// NormalDebit reports whether the account's balance increases with debits.
func (t AccountType) NormalDebit() bool {
	return t == AccountAsset || t == AccountExpense
}

func (t AccountType) String() string { return string(t) }

// JournalLine is one leg of a journal entry. Exactly one of debit/credit is
// non-zero and both carry the same currency.
type JournalLine struct {
	AccountID   string `json:"account_id"`
	Description string `json:"description,omitempty"`
	Debit       Money  `json:"debit_amount"`
	Credit      Money  `json:"credit_amount"`
}

// DebitLine builds a debit leg with a zero credit in the same currency.
func DebitLine(accountID, description string, amount Money) JournalLine {
	return JournalLine{
		AccountID:   accountID,
		Description: description,
		Debit:       amount,
		Credit:      Zero(amount.Currency()),
	}
}

// CreditLine builds a credit leg with a zero debit in the same currency.
func CreditLine(accountID, description string, amount Money) JournalLine {
	return JournalLine{
		AccountID:   accountID,
		Description: description,
		Debit:       Zero(amount.Currency()),
		Credit:      amount,
	}
}

// IsDebit reports whether the line carries a non-zero debit amount.
func (l JournalLine) IsDebit() bool { return !l.Debit.IsZero() }

// IsCredit reports whether the line carries a non-zero credit amount.
func (l JournalLine) IsCredit() bool { return !l.Credit.IsZero() }

// Currency returns the line's shared currency.
func (l JournalLine) Currency() Currency { return l.Debit.Currency() }

// Amount returns whichever side of the line is non-zero.
func (l JournalLine) Amount() Money {
	if l.IsDebit() {
		return l.Debit
	}
	return l.Credit
}

// Swapped returns the line with debit and credit exchanged, preserving the
// account. Used to build reversal entries.
func (l JournalLine) Swapped() JournalLine {
	return JournalLine{
		AccountID:   l.AccountID,
		Description: l.Description,
		Debit:       l.Credit,
		Credit:      l.Debit,
	}
}

// Validate enforces the per-line invariants.
func (l JournalLine) Validate() error {
	if l.AccountID == "" {
		return common.E(common.KindValidation, "journal line requires an account_id")
	}
	if !l.Debit.Currency().Valid() || !l.Credit.Currency().Valid() {
		return common.E(common.KindValidation, "journal line requires valid currencies")
	}
	if l.Debit.Currency() != l.Credit.Currency() {
		return common.E(common.KindValidation, "journal line debit and credit must share a currency: %s vs %s",
			l.Debit.Currency(), l.Credit.Currency())
	}
	if l.Debit.IsNegative() || l.Credit.IsNegative() {
		return common.E(common.KindValidation, "journal line amounts must not be negative")
	}
	if l.IsDebit() == l.IsCredit() {
		return common.E(common.KindValidation, "journal line must carry exactly one of debit or credit")
	}
	return nil
}

// JournalEntry is an atomic accounting record: a balanced set of lines plus
// lifecycle state. Never mutated after posting except to record reversal
// linkage.
type JournalEntry struct {
	ID          string        `json:"id"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
	Reference   string        `json:"reference"`
	Description string        `json:"description,omitempty"`
	State       EntryState    `json:"state"`
	PostedAt    *time.Time    `json:"posted_at,omitempty"`
	Reverses    string        `json:"reverses,omitempty"`
	ReversedBy  string        `json:"reversed_by,omitempty"`
	Lines       []JournalLine `json:"lines"`
}

// Validate enforces the balanced-posting invariant: for every currency that
// appears in the lines, total debits equal total credits.
func (e *JournalEntry) Validate() error {
	if len(e.Lines) == 0 {
		return common.E(common.KindValidation, "journal entry requires at least one line")
	}

	debits := make(map[Currency]Money)
	credits := make(map[Currency]Money)

	for i, line := range e.Lines {
		if err := line.Validate(); err != nil {
			return common.Wrap(common.KindValidation, err, "line %d invalid", i)
		}

		c := line.Currency()
		d, ok := debits[c]
		if !ok {
			d = Zero(c)
		}
		cr, ok := credits[c]
		if !ok {
			cr = Zero(c)
		}

		d, _ = d.Add(line.Debit)
		cr, _ = cr.Add(line.Credit)
		debits[c] = d
		credits[c] = cr
	}

	for c, d := range debits {
		if !d.Equal(credits[c]) {
			return common.E(common.KindValidation,
				"journal entry is unbalanced in %s: debits %s, credits %s", c, d, credits[c])
		}
	}

	return nil
}

// Currencies returns the distinct currencies appearing in the entry's lines,
// in first-appearance order.
func (e *JournalEntry) Currencies() []Currency {
	seen := make(map[Currency]bool)
	var out []Currency
	for _, line := range e.Lines {
		if c := line.Currency(); !seen[c] {
			seen[c] = true
			out = append(out, c)
		}
	}
	return out
}

// TouchesAccount reports whether any line posts to the given account.
func (e *JournalEntry) TouchesAccount(accountID string) bool {
	for _, line := range e.Lines {
		if line.AccountID == accountID {
			return true
		}
	}
	return false
}

// UnmarshalJSON rejects unknown states at the serialization boundary.
func (e *JournalEntry) UnmarshalJSON(data []byte) error {
	type alias JournalEntry
	var raw struct {
		alias
		State string `json:"state"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	state, err := ParseEntryState(raw.State)
	if err != nil {
		return err
	}
	*e = JournalEntry(raw.alias)
	e.State = state
	return nil
}

package ledger

import "github.com/crestfin/ledgercore/internal/models"

// DefaultChartOfAccounts is the starter account-type map used when a
// caller asks for a trial balance without supplying its own chart.
func DefaultChartOfAccounts() map[string]models.AccountType {
	return map[string]models.AccountType{
		"CASH":              models.AccountAsset,
		"ACCOUNTS_RECV":     models.AccountAsset,
		"LOANS_OUTSTANDING": models.AccountAsset,
		"CUSTOMER_DEPOSITS": models.AccountLiability,
		"ACCOUNTS_PAYABLE":  models.AccountLiability,
		"RETAINED_EARNINGS": models.AccountEquity,
		"INTEREST_INCOME":   models.AccountRevenue,
		"FEE_INCOME":        models.AccountRevenue,
		"INTEREST_EXPENSE":  models.AccountExpense,
		"OPERATING_EXPENSE": models.AccountExpense,
	}
}

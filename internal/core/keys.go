package core

import (
	"errors"
	"fmt"
)

// KPI keys reported by the backend.
const (
	KPITotalCredits           = "total_credits"
	KPITotalDebits            = "total_debits"
	KPINetBalance             = "net_balance"
	KPITotalTransactions      = "total_transactions"
	KPIAvailableBalance       = "available_balance"
	KPIHighestExpenseCategory = "highest_expense_category"
	KPIAverageMonthlyExpense  = "average_monthly_expense"
)

// Chart keys.
const (
	ChartCreditVsDebit       = "credit_vs_debit"
	ChartCategoryBreakdown   = "category_breakdown"
	ChartExpenseDistribution = "expense_distribution"
	ChartPaymentMethods      = "payment_methods"
)

// Widget keys.
const (
	WidgetRecentTransactions = "recent_transactions"
	WidgetTopCategories      = "top_categories"
	WidgetHighestExpense     = "highest_expense"
	WidgetMonthlySavings     = "monthly_savings"
)

// KnownKPIs lists the KPI keys the dashboard renders.
var KnownKPIs = []string{
	KPITotalCredits, KPITotalDebits, KPINetBalance, KPITotalTransactions,
	KPIAvailableBalance, KPIHighestExpenseCategory, KPIAverageMonthlyExpense,
}

// KnownCharts lists the chart keys the dashboard renders.
var KnownCharts = []string{
	ChartCreditVsDebit, ChartCategoryBreakdown, ChartExpenseDistribution, ChartPaymentMethods,
}

// KnownWidgets lists the widget keys the dashboard renders.
var KnownWidgets = []string{
	WidgetRecentTransactions, WidgetTopCategories, WidgetHighestExpense, WidgetMonthlySavings,
}

var ErrInvalidKey = errors.New("invalid resource key")

// ValidKey reports whether key is a lowercase snake_case identifier. Keys the
// dashboard does not know yet are accepted as long as they are well formed.
func ValidKey(key string) bool {
	if key == "" || len(key) > 64 {
		return false
	}
	if key[0] < 'a' || key[0] > 'z' {
		return false
	}
	for i := 0; i < len(key); i++ {
		c := key[i]
		if (c < 'a' || c > 'z') && (c < '0' || c > '9') && c != '_' {
			return false
		}
	}
	return true
}

// CheckKey returns ErrInvalidKey for malformed keys.
func CheckKey(key string) error {
	if !ValidKey(key) {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return nil
}

package core

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// Transaction types.
const (
	Credit = "credit"
	Debit  = "debit"
)

// Transaction is one ledger entry as returned by the backend.
type Transaction struct {
	ID            string          `json:"id"`
	UserID        string          `json:"user_id,omitempty"`
	Amount        decimal.Decimal `json:"amount"`
	Type          string          `json:"type"`
	Category      string          `json:"category"`
	Description   string          `json:"description,omitempty"`
	PaymentMethod string          `json:"payment_method"`
	Date          Timestamp       `json:"date"`
	CreatedAt     Timestamp       `json:"created_at"`
	UpdatedAt     Timestamp       `json:"updated_at"`
}

// Signed returns the amount with debits negated.
func (t Transaction) Signed() decimal.Decimal {
	if t.Type == Debit {
		return t.Amount.Neg()
	}
	return t.Amount
}

// TransactionPage is one page of a transaction listing.
type TransactionPage struct {
	Transactions []Transaction `json:"transactions"`
	Total        int           `json:"total"`
}

// Query parameter names for the transaction listing.
const (
	ParamPage          = "page"
	ParamLimit         = "limit"
	ParamSortBy        = "sort_by"
	ParamSortOrder     = "sort_order"
	ParamType          = "type"
	ParamCategory      = "category"
	ParamPaymentMethod = "payment_method"
	ParamSearch        = "search"
)

const (
	DefaultPage  = 1
	DefaultLimit = 10
	MaxLimit     = 100
)

var (
	ErrInvalidQuery = errors.New("invalid transaction query")

	sortFields = map[string]bool{"date": true, "amount": true, "category": true, "type": true}
)

// TransactionQuery holds caller-supplied paging, sorting and filters. Zero
// values are omitted from the request and the backend defaults apply.
type TransactionQuery struct {
	Page          int
	Limit         int
	SortBy        string
	SortOrder     string
	Type          string
	Category      string
	PaymentMethod string
	StartDate     *Date
	EndDate       *Date
	Search        string
}

// Validate checks the query against the listing endpoint's constraints.
func (q TransactionQuery) Validate() error {
	var problems []string
	if q.Page < 0 {
		problems = append(problems, fmt.Sprintf("page %d must be at least 1", q.Page))
	}
	if q.Limit < 0 || q.Limit > MaxLimit {
		problems = append(problems, fmt.Sprintf("limit %d must be between 1 and %d", q.Limit, MaxLimit))
	}
	if q.SortBy != "" && !sortFields[q.SortBy] {
		problems = append(problems, fmt.Sprintf("sort_by %q must be one of date, amount, category, type", q.SortBy))
	}
	if q.SortOrder != "" && q.SortOrder != "asc" && q.SortOrder != "desc" {
		problems = append(problems, fmt.Sprintf("sort_order %q must be asc or desc", q.SortOrder))
	}
	if q.Type != "" && q.Type != Credit && q.Type != Debit {
		problems = append(problems, fmt.Sprintf("type %q must be credit or debit", q.Type))
	}
	if q.StartDate != nil && q.EndDate != nil && q.StartDate.After(q.EndDate.Time) {
		problems = append(problems, "start_date is after end_date")
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidQuery, strings.Join(problems, "; "))
	}
	return nil
}

// Values encodes the set fields as query parameters.
func (q TransactionQuery) Values() url.Values {
	v := url.Values{}
	if q.Page > 0 {
		v.Set(ParamPage, strconv.Itoa(q.Page))
	}
	if q.Limit > 0 {
		v.Set(ParamLimit, strconv.Itoa(q.Limit))
	}
	setIf := func(key, val string) {
		if val = strings.TrimSpace(val); val != "" {
			v.Set(key, val)
		}
	}
	setIf(ParamSortBy, q.SortBy)
	setIf(ParamSortOrder, q.SortOrder)
	setIf(ParamType, q.Type)
	setIf(ParamCategory, q.Category)
	setIf(ParamPaymentMethod, q.PaymentMethod)
	setIf(ParamSearch, q.Search)
	if q.StartDate != nil {
		setIf(ParamStartDate, q.StartDate.String())
	}
	if q.EndDate != nil {
		setIf(ParamEndDate, q.EndDate.String())
	}
	return v
}

// ParseTransactionQuery reads a query from URL parameters. Malformed numbers
// and dates are reported rather than silently dropped.
func ParseTransactionQuery(v url.Values) (TransactionQuery, error) {
	q := TransactionQuery{
		SortBy:        strings.TrimSpace(v.Get(ParamSortBy)),
		SortOrder:     strings.TrimSpace(v.Get(ParamSortOrder)),
		Type:          strings.TrimSpace(v.Get(ParamType)),
		Category:      strings.TrimSpace(v.Get(ParamCategory)),
		PaymentMethod: strings.TrimSpace(v.Get(ParamPaymentMethod)),
		Search:        strings.TrimSpace(v.Get(ParamSearch)),
	}
	var err error
	if s := v.Get(ParamPage); s != "" {
		if q.Page, err = strconv.Atoi(s); err != nil || q.Page < 1 {
			return q, fmt.Errorf("%w: page %q", ErrInvalidQuery, s)
		}
	}
	if s := v.Get(ParamLimit); s != "" {
		if q.Limit, err = strconv.Atoi(s); err != nil || q.Limit < 1 {
			return q, fmt.Errorf("%w: limit %q", ErrInvalidQuery, s)
		}
	}
	for param, dst := range map[string]**Date{ParamStartDate: &q.StartDate, ParamEndDate: &q.EndDate} {
		if s := v.Get(param); s != "" {
			d, derr := ParseDate(s)
			if derr != nil {
				return q, fmt.Errorf("%w: %s %q", ErrInvalidQuery, param, s)
			}
			*dst = &d
		}
	}
	return q, q.Validate()
}

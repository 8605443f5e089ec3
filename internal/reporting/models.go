package reporting

import (
	"time"

	"djtips-platform/internal/domain"
)

type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// StatementRequest asks for an owner's wallet activity in [From, To).
type StatementRequest struct {
	OwnerID domain.ID `json:"owner_id"`
	Range   TimeRange `json:"range"`
}

// Statement aggregates immutable ledger entries; it never reads the balance projection.
type Statement struct {
	OwnerID  domain.ID `json:"owner_id"`
	Currency string    `json:"currency"`
	Range    TimeRange `json:"range"`

	TotalCreditMinor int64 `json:"total_credit_minor"`
	TotalDebitMinor  int64 `json:"total_debit_minor"`
	NetDeltaMinor    int64 `json:"net_delta_minor"`

	// ByType is the signed sum per transaction type.
	ByType       map[domain.TxType]int64 `json:"by_type"`
	Transactions int                     `json:"transactions"`
}

// Reconciliation compares the balance projection with the ledger it is derived from.
type Reconciliation struct {
	OwnerID        domain.ID `json:"owner_id"`
	BalanceMinor   int64     `json:"balance_minor"`
	LedgerSumMinor int64     `json:"ledger_sum_minor"`
	DriftMinor     int64     `json:"drift_minor"`
	Consistent     bool      `json:"consistent"`
}

// RequestsSummary counts a DJ's song requests by status.
type RequestsSummary struct {
	DJID        domain.ID `json:"dj_id"`
	Pending     int       `json:"pending"`
	Completed   int       `json:"completed"`
	Rejected    int       `json:"rejected"`
	Cancelled   int       `json:"cancelled"`
	EarnedMinor int64     `json:"earned_minor"`
}

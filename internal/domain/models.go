package domain

import "time"

// Wallet is the balance projection for one principal (user or DJ).
//
// Money invariant: Balance always equals the sum of the owner's ledger
// transactions. Nothing writes Balance without appending a Transaction in the
// same unit of work.
type Wallet struct {
	OwnerID   ID        `json:"owner_id" db:"owner_id"`
	Balance   int64     `json:"balance_minor" db:"balance_minor"`
	Currency  string    `json:"currency" db:"currency"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Transaction is an immutable ledger record of a single balance change.
type Transaction struct {
	ID      ID     `json:"id" db:"id"`
	OwnerID ID     `json:"owner_id" db:"owner_id"`
	Type    TxType `json:"type" db:"type"`

	// Amount is signed minor units: credits positive, debits negative.
	Amount   int64  `json:"amount_minor" db:"amount_minor"`
	Currency string `json:"currency" db:"currency"`

	// RelatedID weakly references the entity that caused the change
	// (song request, withdrawal, pending payment).
	RelatedID ID `json:"related_id,omitempty" db:"related_id"`

	Status         TxStatus  `json:"status" db:"status"`
	IdempotencyKey string    `json:"idempotency_key" db:"idempotency_key"`
	Description    string    `json:"description,omitempty" db:"description"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
}

type TxType string

const (
	TxDebit      TxType = "debit"      // request funding
	TxCredit     TxType = "credit"     // request fulfillment
	TxRefund     TxType = "refund"     // request rejection/cancellation, withdrawal reversal
	TxWithdrawal TxType = "withdrawal" // payout hold
	TxTopup      TxType = "topup"      // gateway completion
	TxAdjustment TxType = "adjustment" // admin override
)

func (t TxType) Valid() bool {
	switch t {
	case TxDebit, TxCredit, TxRefund, TxWithdrawal, TxTopup, TxAdjustment:
		return true
	}
	return false
}

type TxStatus string

const TxStatusPosted TxStatus = "posted"

// SongRequest is a monetized song request / tip addressed to a DJ.
type SongRequest struct {
	ID          ID `json:"id" db:"id"`
	RequesterID ID `json:"requester_id" db:"requester_id"`
	DJID        ID `json:"dj_id" db:"dj_id"`

	SongRef    string `json:"song_ref" db:"song_ref"`
	SongTitle  string `json:"song_title,omitempty" db:"song_title"`
	ArtistName string `json:"artist_name,omitempty" db:"artist_name"`

	Amount   int64         `json:"amount_minor" db:"amount_minor"`
	Currency string        `json:"currency" db:"currency"`
	Status   RequestStatus `json:"status" db:"status"`
	Message  string        `json:"message,omitempty" db:"message"`

	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty" db:"completed_at"`
}

type RequestStatus string

const (
	RequestPending   RequestStatus = "PENDING"
	RequestCompleted RequestStatus = "COMPLETED"
	RequestRejected  RequestStatus = "REJECTED"
	RequestCancelled RequestStatus = "CANCELLED"
)

func (s RequestStatus) Terminal() bool { return s != RequestPending }

// Withdrawal is an outbound payout request against a wallet.
type Withdrawal struct {
	ID          ID               `json:"id" db:"id"`
	OwnerID     ID               `json:"owner_id" db:"owner_id"`
	Amount      int64            `json:"amount_minor" db:"amount_minor"`
	Currency    string           `json:"currency" db:"currency"`
	MethodRef   ID               `json:"method_ref" db:"method_ref"`
	Status      WithdrawalStatus `json:"status" db:"status"`
	Reference   string           `json:"reference" db:"reference"`
	Reason      string           `json:"reason,omitempty" db:"reason"`
	ProcessedBy ID               `json:"processed_by,omitempty" db:"processed_by"`
	CreatedAt   time.Time        `json:"created_at" db:"created_at"`
	ProcessedAt *time.Time       `json:"processed_at,omitempty" db:"processed_at"`
}

type WithdrawalStatus string

const (
	WithdrawalPending  WithdrawalStatus = "PENDING"
	WithdrawalApproved WithdrawalStatus = "APPROVED"
	WithdrawalRejected WithdrawalStatus = "REJECTED"
)

// PendingPayment is an inbound top-up awaiting gateway confirmation.
type PendingPayment struct {
	ID               ID            `json:"id" db:"id"`
	OwnerID          ID            `json:"owner_id" db:"owner_id"`
	GatewayRequestID string        `json:"gateway_request_id" db:"gateway_request_id"`
	PhoneRef         string        `json:"phone_ref" db:"phone_ref"`
	Amount           int64         `json:"amount_minor" db:"amount_minor"`
	Currency         string        `json:"currency" db:"currency"`
	Status           PaymentStatus `json:"status" db:"status"`
	ReceiptRef       string        `json:"receipt_ref,omitempty" db:"receipt_ref"`
	ResultDesc       string        `json:"result_desc,omitempty" db:"result_desc"`
	CreatedAt        time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time     `json:"updated_at" db:"updated_at"`
}

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "PENDING"
	PaymentCompleted PaymentStatus = "COMPLETED"
	PaymentFailed    PaymentStatus = "FAILED"
	PaymentCancelled PaymentStatus = "CANCELLED"
)

// WithdrawalMethod is admin-managed reference data: where a principal's payouts go.
type WithdrawalMethod struct {
	ID          ID        `json:"id" db:"id"`
	OwnerID     ID        `json:"owner_id" db:"owner_id"`
	Kind        string    `json:"kind" db:"kind"`
	Destination string    `json:"destination" db:"destination"`
	Active      bool      `json:"active" db:"active"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// Limits bounds amounts accepted by one money-moving operation.
type Limits struct {
	Min int64 `json:"min_minor"`
	Max int64 `json:"max_minor"`
}

// Check validates amount against the limits. A zero bound is unbounded.
func (l Limits) Check(amount int64) error {
	if amount <= 0 {
		return Invalid("amount must be positive")
	}
	if l.Min > 0 && amount < l.Min {
		return Invalid("amount %d below minimum %d", amount, l.Min)
	}
	if l.Max > 0 && amount > l.Max {
		return Invalid("amount %d above maximum %d", amount, l.Max)
	}
	return nil
}

// AuditEvent is an immutable internal record of a privileged action.
type AuditEvent struct {
	ID        ID             `json:"id" db:"id"`
	Type      AuditEventType `json:"type" db:"type"`
	ActorID   ID             `json:"actor_id,omitempty" db:"actor_id"`
	ActorRole string         `json:"actor_role,omitempty" db:"actor_role"`
	IPAddress string         `json:"ip_address,omitempty" db:"ip_address"`
	TargetID  ID             `json:"target_id,omitempty" db:"target_id"`
	Message   string         `json:"message,omitempty" db:"message"`

	// Metadata is optional JSON (JSONB in Postgres).
	Metadata  string    `json:"metadata,omitempty" db:"metadata"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type AuditEventType string

const (
	AuditWalletAdjusted     AuditEventType = "wallet_adjusted"
	AuditWithdrawalApproved AuditEventType = "withdrawal_approved"
	AuditWithdrawalRejected AuditEventType = "withdrawal_rejected"
	AuditMethodChanged      AuditEventType = "withdrawal_method_changed"
)

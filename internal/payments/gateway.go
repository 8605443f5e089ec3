package payments

import (
	"context"
	"errors"
)

// MethodMpesa is the payment-method kind served by the STK push gateway.
const MethodMpesa = "mpesa"

// MpesaCurrency is the only currency STK push charges in.
const MpesaCurrency = "KES"

type GatewayState string

const (
	StatePending   GatewayState = "pending"
	StateSucceeded GatewayState = "succeeded"
	StateFailed    GatewayState = "failed"
)

type InitiateResult struct {
	// GatewayRequestID is the correlation id echoed by callbacks (CheckoutRequestID).
	GatewayRequestID  string
	MerchantRequestID string
	CustomerMessage   string
}

type QueryResult struct {
	State      GatewayState
	ResultCode string
	ResultDesc string
	ReceiptRef string
}

// Gateway is the mobile-money provider. Implementations must honor ctx deadlines.
type Gateway interface {
	InitiatePayment(ctx context.Context, amountMinor int64, phone, callbackURL, accountRef string) (InitiateResult, error)
	QueryPayment(ctx context.Context, gatewayRequestID string) (QueryResult, error)
}

var errNoGateway = errors.New("no payment gateway configured")

// Unavailable stands in when no provider is configured; every call fails.
type Unavailable struct{}

func (Unavailable) InitiatePayment(context.Context, int64, string, string, string) (InitiateResult, error) {
	return InitiateResult{}, errNoGateway
}

func (Unavailable) QueryPayment(context.Context, string) (QueryResult, error) {
	return QueryResult{}, errNoGateway
}

// Callback is a parsed asynchronous payment confirmation.
type Callback struct {
	GatewayRequestID string
	ResultCode       int
	ResultDesc       string
	ReceiptRef       string
	// AmountMinor is the confirmed amount, 0 when the gateway did not report one.
	AmountMinor int64
	Phone       string
}

func (c Callback) Succeeded() bool { return c.ResultCode == 0 }

// Outcome is how a callback was applied.
type Outcome string

const (
	OutcomeCredited Outcome = "credited"
	OutcomeFailed   Outcome = "failed"
	OutcomeReplay   Outcome = "replay"
	OutcomeUnknown  Outcome = "unknown"
)

package mpesa

import (
	"encoding/json"
	"fmt"
	"strings"

	"djtips-platform/internal/payments"

	"github.com/shopspring/decimal"
)

type stkCallbackEnvelope struct {
	Body struct {
		StkCallback struct {
			MerchantRequestID string `json:"MerchantRequestID"`
			CheckoutRequestID string `json:"CheckoutRequestID"`
			ResultCode        int    `json:"ResultCode"`
			ResultDesc        string `json:"ResultDesc"`
			CallbackMetadata  *struct {
				Item []struct {
					Name  string          `json:"Name"`
					Value json.RawMessage `json:"Value"`
				} `json:"Item"`
			} `json:"CallbackMetadata"`
		} `json:"stkCallback"`
	} `json:"Body"`
}

// ParseCallback decodes the STK push result posted to the callback URL.
// Metadata items are only present on success.
func ParseCallback(payload []byte) (payments.Callback, error) {
	var env stkCallbackEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return payments.Callback{}, fmt.Errorf("mpesa callback: %w", err)
	}
	cb := env.Body.StkCallback
	if cb.CheckoutRequestID == "" {
		return payments.Callback{}, fmt.Errorf("mpesa callback: missing CheckoutRequestID")
	}

	out := payments.Callback{
		GatewayRequestID: cb.CheckoutRequestID,
		ResultCode:       cb.ResultCode,
		ResultDesc:       cb.ResultDesc,
	}
	if cb.CallbackMetadata == nil {
		return out, nil
	}
	for _, it := range cb.CallbackMetadata.Item {
		raw := strings.Trim(string(it.Value), `" `)
		switch it.Name {
		case "Amount":
			amt, err := decimal.NewFromString(raw)
			if err != nil {
				return payments.Callback{}, fmt.Errorf("mpesa callback: amount %q: %w", raw, err)
			}
			out.AmountMinor = ToMinor(amt)
		case "MpesaReceiptNumber":
			out.ReceiptRef = raw
		case "PhoneNumber":
			out.Phone = raw
		}
	}
	return out, nil
}

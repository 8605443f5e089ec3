package mpesa

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"djtips-platform/internal/domain"
	"djtips-platform/internal/payments"
)

type daraja struct {
	tokenCalls atomic.Int32
	lastPush   stkPushRequest
	query      func(w http.ResponseWriter)
}

func (d *daraja) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/v1/generate", func(w http.ResponseWriter, r *http.Request) {
		key, secret, ok := r.BasicAuth()
		if !ok || key != "key" || secret != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		d.tokenCalls.Add(1)
		_ = json.NewEncoder(w).Encode(map[string]string{"access_token": "tok", "expires_in": "3599"})
	})
	mux.HandleFunc("/mpesa/stkpush/v1/processrequest", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&d.lastPush); err != nil {
			t.Errorf("decode push: %v", err)
		}
		_ = json.NewEncoder(w).Encode(stkPushResponse{
			MerchantRequestID: "29115-34620561-1",
			CheckoutRequestID: "ws_CO_191220191020363925",
			ResponseCode:      "0",
			CustomerMessage:   "Success. Request accepted for processing",
		})
	})
	mux.HandleFunc("/mpesa/stkpushquery/v1/query", func(w http.ResponseWriter, r *http.Request) {
		d.query(w)
	})
	return mux
}

func newTestClient(t *testing.T) (*Client, *daraja) {
	t.Helper()
	d := &daraja{}
	srv := httptest.NewServer(d.handler(t))
	t.Cleanup(srv.Close)
	at := time.Date(2026, 5, 2, 7, 30, 15, 0, time.UTC)
	c := New(Config{
		BaseURL:        srv.URL,
		ConsumerKey:    "key",
		ConsumerSecret: "secret",
		PassKey:        "pass",
		ShortCode:      "174379",
	}, WithHTTPClient(srv.Client()), WithClock(func() time.Time { return at }))
	return c, d
}

func TestInitiatePayment(t *testing.T) {
	c, d := newTestClient(t)
	ctx := context.Background()

	res, err := c.InitiatePayment(ctx, 15000, "254712345678", "https://cb.example/webhooks/mpesa/stk/t", "0192f3a4-5b6c-7d8e")
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if res.GatewayRequestID != "ws_CO_191220191020363925" {
		t.Fatalf("unexpected result %+v", res)
	}

	p := d.lastPush
	if p.Amount != 150 || p.PhoneNumber != "254712345678" || p.PartyA != p.PhoneNumber || p.PartyB != "174379" {
		t.Fatalf("unexpected push %+v", p)
	}
	if p.Timestamp != "20260502103015" {
		t.Fatalf("expected EAT timestamp, got %s", p.Timestamp)
	}
	want := base64.StdEncoding.EncodeToString([]byte("174379" + "pass" + "20260502103015"))
	if p.Password != want {
		t.Fatalf("unexpected password %s", p.Password)
	}
	if len(p.AccountReference) != 12 {
		t.Fatalf("account reference not capped: %q", p.AccountReference)
	}

	if _, err := c.InitiatePayment(ctx, 10000, "254712345678", "", "x"); err != nil {
		t.Fatalf("second initiate: %v", err)
	}
	if n := d.tokenCalls.Load(); n != 1 {
		t.Fatalf("expected cached token, got %d token calls", n)
	}
}

func TestInitiatePayment_RejectsFractionalShillings(t *testing.T) {
	c, d := newTestClient(t)
	_, err := c.InitiatePayment(context.Background(), 15050, "254712345678", "", "x")
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	if d.tokenCalls.Load() != 0 {
		t.Fatalf("no request expected")
	}
}

func TestQueryPayment(t *testing.T) {
	c, d := newTestClient(t)
	ctx := context.Background()

	cases := []struct {
		name  string
		reply func(w http.ResponseWriter)
		want  payments.GatewayState
	}{
		{"processing", func(w http.ResponseWriter) {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"requestId":"1","errorCode":"500.001.1001","errorMessage":"The transaction is being processed"}`))
		}, payments.StatePending},
		{"succeeded", func(w http.ResponseWriter) {
			_, _ = w.Write([]byte(`{"ResponseCode":"0","ResultCode":"0","ResultDesc":"The service request is processed successfully."}`))
		}, payments.StateSucceeded},
		{"cancelled", func(w http.ResponseWriter) {
			_, _ = w.Write([]byte(`{"ResponseCode":"0","ResultCode":1032,"ResultDesc":"Request cancelled by user"}`))
		}, payments.StateFailed},
		{"wrong pin", func(w http.ResponseWriter) {
			_, _ = w.Write([]byte(`{"ResponseCode":"0","ResultCode":"2001","ResultDesc":"The initiator information is invalid."}`))
		}, payments.StateFailed},
		{"still processing code", func(w http.ResponseWriter) {
			_, _ = w.Write([]byte(`{"ResponseCode":"0","ResultCode":"4999","ResultDesc":"The transaction is still under processing"}`))
		}, payments.StatePending},
		{"subscriber locked", func(w http.ResponseWriter) {
			_, _ = w.Write([]byte(`{"ResponseCode":"0","ResultCode":1001,"ResultDesc":"Unable to lock subscriber, a transaction is already in process for the current subscriber"}`))
		}, payments.StatePending},
		{"unknown code", func(w http.ResponseWriter) {
			_, _ = w.Write([]byte(`{"ResponseCode":"0","ResultCode":"9999","ResultDesc":"Error"}`))
		}, payments.StatePending},
		{"no result yet", func(w http.ResponseWriter) {
			_, _ = w.Write([]byte(`{"ResponseCode":"0","ResultDesc":"Accepted"}`))
		}, payments.StatePending},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d.query = tc.reply
			got, err := c.QueryPayment(ctx, "ws_CO_1")
			if err != nil {
				t.Fatalf("query: %v", err)
			}
			if got.State != tc.want {
				t.Fatalf("expected %s, got %+v", tc.want, got)
			}
		})
	}

	d.query = func(w http.ResponseWriter) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"requestId":"2","errorCode":"400.002.02","errorMessage":"Bad Request - Invalid CheckoutRequestID"}`))
	}
	if _, err := c.QueryPayment(ctx, "bogus"); err == nil {
		t.Fatalf("expected error")
	}
}

func TestAmountConversion(t *testing.T) {
	if v, err := ToShillings(100); err != nil || v != 1 {
		t.Fatalf("ToShillings(100) = %d, %v", v, err)
	}
	if _, err := ToShillings(0); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected ErrValidation for zero")
	}
}

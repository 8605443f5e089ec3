// Package mpesa is the Safaricom Daraja STK push adapter for payments.Gateway.
package mpesa

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"djtips-platform/internal/domain"
	"djtips-platform/internal/payments"

	"github.com/patrickmn/go-cache"
	"github.com/shopspring/decimal"
)

const (
	SandboxURL    = "https://sandbox.safaricom.co.ke"
	ProductionURL = "https://api.safaricom.co.ke"

	// errorCode returned by the query endpoint while the customer has not answered the prompt.
	codeStillProcessing = "500.001.1001"

	tokenKey = "access_token"
)

// Daraja timestamps are East Africa Time.
var eat = time.FixedZone("EAT", 3*60*60)

type Config struct {
	BaseURL        string
	ConsumerKey    string
	ConsumerSecret string
	PassKey        string
	ShortCode      string
	// TransactionDesc is shown on the customer's prompt.
	TransactionDesc string
	Timeout         time.Duration
}

// Client talks to Daraja. The OAuth token is cached until shortly before it expires.
type Client struct {
	cfg   Config
	http  *http.Client
	cache *cache.Cache
	clock func() time.Time
}

type Option func(*Client)

func WithHTTPClient(h *http.Client) Option { return func(c *Client) { c.http = h } }

func WithClock(clock func() time.Time) Option { return func(c *Client) { c.clock = clock } }

func New(cfg Config, opts ...Option) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = SandboxURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.TransactionDesc == "" {
		cfg.TransactionDesc = "Wallet top-up"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	c := &Client{
		cfg:   cfg,
		http:  &http.Client{Timeout: cfg.Timeout},
		cache: cache.New(cache.NoExpiration, 10*time.Minute),
		clock: time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

var _ payments.Gateway = (*Client)(nil)

// apiError is Daraja's error envelope.
type apiError struct {
	RequestID    string `json:"requestId"`
	ErrorCode    string `json:"errorCode"`
	ErrorMessage string `json:"errorMessage"`
}

func (e *apiError) Error() string {
	return fmt.Sprintf("mpesa: %s: %s", e.ErrorCode, e.ErrorMessage)
}

func (c *Client) token(ctx context.Context) (string, error) {
	if v, ok := c.cache.Get(tokenKey); ok {
		return v.(string), nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/oauth/v1/generate?grant_type=client_credentials", nil)
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(c.cfg.ConsumerKey, c.cfg.ConsumerSecret)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("mpesa token: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("mpesa token: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var res struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   string `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return "", fmt.Errorf("mpesa token: decode: %w", err)
	}
	if res.AccessToken == "" {
		return "", errors.New("mpesa token: empty access token")
	}

	ttl := 50 * time.Minute
	if secs, err := strconv.Atoi(res.ExpiresIn); err == nil && secs > 120 {
		ttl = time.Duration(secs-60) * time.Second
	}
	c.cache.Set(tokenKey, res.AccessToken, ttl)
	return res.AccessToken, nil
}

// password derives the per-request STK password from shortcode, passkey and timestamp.
func (c *Client) password(timestamp string) string {
	return base64.StdEncoding.EncodeToString([]byte(c.cfg.ShortCode + c.cfg.PassKey + timestamp))
}

func (c *Client) post(ctx context.Context, path string, in, out any) error {
	tok, err := c.token(ctx)
	if err != nil {
		return err
	}
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+tok)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("mpesa %s: %w", path, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("mpesa %s: read: %w", path, err)
	}

	if resp.StatusCode != http.StatusOK {
		if resp.StatusCode == http.StatusUnauthorized {
			c.cache.Delete(tokenKey)
		}
		var ae apiError
		if json.Unmarshal(raw, &ae) == nil && ae.ErrorCode != "" {
			return &ae
		}
		return fmt.Errorf("mpesa %s: status %d", path, resp.StatusCode)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("mpesa %s: decode: %w", path, err)
	}
	return nil
}

type stkPushRequest struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	TransactionType   string `json:"TransactionType"`
	Amount            int64  `json:"Amount"`
	PartyA            string `json:"PartyA"`
	PartyB            string `json:"PartyB"`
	PhoneNumber       string `json:"PhoneNumber"`
	CallBackURL       string `json:"CallBackURL"`
	AccountReference  string `json:"AccountReference"`
	TransactionDesc   string `json:"TransactionDesc"`
}

type stkPushResponse struct {
	MerchantRequestID   string `json:"MerchantRequestID"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	CustomerMessage     string `json:"CustomerMessage"`
}

// InitiatePayment sends an STK push prompt to phone (2547XXXXXXXX).
func (c *Client) InitiatePayment(ctx context.Context, amountMinor int64, phone, callbackURL, accountRef string) (payments.InitiateResult, error) {
	shillings, err := ToShillings(amountMinor)
	if err != nil {
		return payments.InitiateResult{}, err
	}
	ts := c.clock().In(eat).Format("20060102150405")
	// AccountReference is capped at 12 characters by Daraja.
	if len(accountRef) > 12 {
		accountRef = accountRef[:12]
	}

	var res stkPushResponse
	err = c.post(ctx, "/mpesa/stkpush/v1/processrequest", stkPushRequest{
		BusinessShortCode: c.cfg.ShortCode,
		Password:          c.password(ts),
		Timestamp:         ts,
		TransactionType:   "CustomerPayBillOnline",
		Amount:            shillings,
		PartyA:            phone,
		PartyB:            c.cfg.ShortCode,
		PhoneNumber:       phone,
		CallBackURL:       callbackURL,
		AccountReference:  accountRef,
		TransactionDesc:   c.cfg.TransactionDesc,
	}, &res)
	if err != nil {
		return payments.InitiateResult{}, err
	}
	if res.ResponseCode != "0" {
		return payments.InitiateResult{}, fmt.Errorf("mpesa stk push rejected: %s %s", res.ResponseCode, res.ResponseDescription)
	}
	return payments.InitiateResult{
		GatewayRequestID:  res.CheckoutRequestID,
		MerchantRequestID: res.MerchantRequestID,
		CustomerMessage:   res.CustomerMessage,
	}, nil
}

type stkQueryRequest struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	CheckoutRequestID string `json:"CheckoutRequestID"`
}

type stkQueryResponse struct {
	ResponseCode      string          `json:"ResponseCode"`
	CheckoutRequestID string          `json:"CheckoutRequestID"`
	ResultCode        json.RawMessage `json:"ResultCode"`
	ResultDesc        string          `json:"ResultDesc"`
}

// finalFailureCodes are STK query result codes after which the push can no
// longer succeed. Anything else non-zero (4999 still processing, 1001 subscriber
// locked, 9999 generic) is reported as pending and asked again later.
var finalFailureCodes = map[string]bool{
	"1":    true, // insufficient balance
	"1019": true, // transaction expired
	"1025": true, // push could not be sent
	"1032": true, // cancelled by user
	"1037": true, // phone unreachable
	"2001": true, // wrong PIN
}

// QueryPayment asks Daraja for the state of an STK push.
func (c *Client) QueryPayment(ctx context.Context, checkoutRequestID string) (payments.QueryResult, error) {
	ts := c.clock().In(eat).Format("20060102150405")
	var res stkQueryResponse
	err := c.post(ctx, "/mpesa/stkpushquery/v1/query", stkQueryRequest{
		BusinessShortCode: c.cfg.ShortCode,
		Password:          c.password(ts),
		Timestamp:         ts,
		CheckoutRequestID: checkoutRequestID,
	}, &res)
	var ae *apiError
	if errors.As(err, &ae) && ae.ErrorCode == codeStillProcessing {
		return payments.QueryResult{State: payments.StatePending, ResultDesc: ae.ErrorMessage}, nil
	}
	if err != nil {
		return payments.QueryResult{}, err
	}

	code := strings.Trim(string(res.ResultCode), `" `)
	out := payments.QueryResult{ResultCode: code, ResultDesc: res.ResultDesc}
	switch {
	case code == "0":
		out.State = payments.StateSucceeded
	case finalFailureCodes[code]:
		out.State = payments.StateFailed
	default:
		out.State = payments.StatePending
	}
	return out, nil
}

// ToShillings converts minor units to the whole-shilling amount STK push accepts.
func ToShillings(amountMinor int64) (int64, error) {
	d := decimal.New(amountMinor, -2)
	if !d.IsInteger() {
		return 0, domain.Invalid("M-Pesa amounts must be whole shillings, got %s", d.StringFixed(2))
	}
	if !d.IsPositive() {
		return 0, domain.Invalid("amount must be positive")
	}
	return d.IntPart(), nil
}

// ToMinor converts a KES amount as reported by Daraja to minor units.
func ToMinor(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}

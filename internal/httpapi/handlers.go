package httpapi

import (
	"crypto/subtle"
	"net/http"
	"strconv"
	"time"

	"djtips-platform/internal/audit"
	"djtips-platform/internal/auth"
	"djtips-platform/internal/catalog"
	"djtips-platform/internal/domain"
	"djtips-platform/internal/payments"
	"djtips-platform/internal/rbac"
	"djtips-platform/internal/refdata"
	"djtips-platform/internal/reporting"
	"djtips-platform/internal/requests"
	"djtips-platform/internal/store"
	"djtips-platform/internal/wallet"
	"djtips-platform/internal/withdrawals"

	"github.com/gin-gonic/gin"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
type Handlers struct {
	Auth        *auth.Manager
	Wallet      *wallet.Service
	Requests    *requests.Service
	Withdrawals *withdrawals.Processor
	Payments    *payments.Reconciler
	Refdata     *refdata.Service
	Reporting   *reporting.Service
	Audit       *audit.Service
	Catalog     catalog.Catalog // optional
	Store       store.Store

	// CallbackToken is the secret path segment of the gateway webhook.
	CallbackToken string
	// ParseCallback decodes a gateway webhook body.
	ParseCallback func(body []byte) (payments.Callback, error)

	// DevLogin enables the credential-less token endpoint (non-production only).
	DevLogin bool
	Now      func() time.Time
}

func (h Handlers) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

// ClientIP attaches the resolved client address for audit records.
func ClientIP() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request = c.Request.WithContext(audit.WithClientIP(c.Request.Context(), c.ClientIP()))
		c.Next()
	}
}

func Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// --- Auth ---

type loginRequest struct {
	UserID string `json:"user_id" binding:"required"`
	Role   string `json:"role" binding:"required"`
}

// Login issues a JWT token pair.
//
// NOTE: development-only. Identity comes from an upstream provider in production.
func (h Handlers) Login(c *gin.Context) {
	if !h.DevLogin || h.Auth == nil {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "user_id and role required"})
		return
	}
	id, err := domain.ParseID(req.UserID)
	if err != nil {
		writeError(c, err)
		return
	}
	if !rbac.IsKnownRole(req.Role) {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "unknown role"})
		return
	}
	pair, err := h.Auth.IssuePair(h.now(), id, req.Role)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": pair.AccessToken, "refresh_token": pair.RefreshToken})
}

func (h Handlers) Me(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, p)
}

// Settings exposes the read-only reference data clients validate against.
func (h Handlers) Settings(c *gin.Context) {
	s := h.Refdata.Settings()
	c.JSON(http.StatusOK, gin.H{
		"currency":             s.Currency,
		"supported_currencies": s.SupportedCurrencies,
		"tip_limits":           s.TipLimits,
		"withdrawal_limits":    s.WithdrawalLimits,
		"topup_limits":         s.TopupLimits,
		"payment_methods":      s.PaymentMethods,
	})
}

// --- helpers ---

func principal(c *gin.Context) (auth.Principal, bool) {
	p, err := auth.Resolve(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return auth.Principal{}, false
	}
	return p, true
}

func pathID(c *gin.Context, name string) (domain.ID, bool) {
	id, err := domain.ParseID(c.Param(name))
	if err != nil {
		writeError(c, err)
		return "", false
	}
	return id, true
}

func listLimit(c *gin.Context) int {
	n, err := strconv.Atoi(c.Query("limit"))
	if err != nil || n <= 0 {
		return defaultListLimit
	}
	if n > maxListLimit {
		return maxListLimit
	}
	return n
}

func bindJSON(c *gin.Context, into any) bool {
	if err := c.ShouldBindJSON(into); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return false
	}
	return true
}

func tokenMatches(got, want string) bool {
	if want == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

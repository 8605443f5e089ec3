package httpapi

import (
	"net/http"
	"time"

	"djtips-platform/internal/domain"
	"djtips-platform/internal/reporting"
	"djtips-platform/internal/wallet"

	"github.com/gin-gonic/gin"
)

func (h Handlers) GetBalance(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	bal, err := h.Wallet.GetBalance(c.Request.Context(), p.ID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, bal)
}

func (h Handlers) ListTransactions(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	txs, err := h.Wallet.History(c.Request.Context(), p.ID, listLimit(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transactions": txs})
}

// Statement aggregates the caller's ledger over ?from=&to= (RFC 3339).
// Admins may pass ?owner_id= to inspect another wallet.
func (h Handlers) Statement(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	owner := p.ID
	if raw := c.Query("owner_id"); raw != "" {
		id, err := domain.ParseID(raw)
		if err != nil {
			writeError(c, err)
			return
		}
		owner = id
	}
	from, err1 := time.Parse(time.RFC3339, c.Query("from"))
	to, err2 := time.Parse(time.RFC3339, c.Query("to"))
	if err1 != nil || err2 != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "from and to must be RFC 3339 timestamps"})
		return
	}
	st, err := h.Reporting.Statement(c.Request.Context(), p, reporting.StatementRequest{
		OwnerID: owner,
		Range:   reporting.TimeRange{From: from, To: to},
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

// --- Admin ---

type adjustRequest struct {
	OwnerID        string `json:"owner_id" binding:"required"`
	DeltaMinor     int64  `json:"delta_minor"`
	Reason         string `json:"reason" binding:"required"`
	IdempotencyKey string `json:"idempotency_key" binding:"required"`
}

// AdminAdjust corrects a balance through an audited adjustment entry.
func (h Handlers) AdminAdjust(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	var req adjustRequest
	if !bindJSON(c, &req) {
		return
	}
	owner, err := domain.ParseID(req.OwnerID)
	if err != nil {
		writeError(c, err)
		return
	}
	res, err := h.Wallet.AdminAdjust(c.Request.Context(), p, wallet.AdjustRequest{
		OwnerID:        owner,
		DeltaMinor:     req.DeltaMinor,
		Reason:         req.Reason,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h Handlers) Reconcile(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	owner, ok := pathID(c, "owner_id")
	if !ok {
		return
	}
	rec, err := h.Reporting.Reconcile(c.Request.Context(), p, owner)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (h Handlers) AuditLog(c *gin.Context) {
	events, err := h.Audit.Recent(c.Request.Context(), h.Store, listLimit(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

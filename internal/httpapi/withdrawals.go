package httpapi

import (
	"net/http"

	"djtips-platform/internal/domain"

	"github.com/gin-gonic/gin"
)

// --- Withdrawal methods ---

type addMethodRequest struct {
	Kind        string `json:"kind" binding:"required"`
	Destination string `json:"destination" binding:"required"`
}

func (h Handlers) ListMethods(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	out, err := h.Refdata.ListMethods(c.Request.Context(), p.ID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"methods": out})
}

func (h Handlers) AddMethod(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	var req addMethodRequest
	if !bindJSON(c, &req) {
		return
	}
	m, err := h.Refdata.AddMethod(c.Request.Context(), p, req.Kind, req.Destination)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, m)
}

type setActiveRequest struct {
	Active *bool `json:"active" binding:"required"`
}

// SetMethodActive is admin-only and audited.
func (h Handlers) SetMethodActive(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req setActiveRequest
	if !bindJSON(c, &req) {
		return
	}
	m, err := h.Refdata.SetMethodActive(c.Request.Context(), p, id, *req.Active)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, m)
}

// --- Withdrawals ---

type withdrawalRequest struct {
	AmountMinor int64  `json:"amount_minor" binding:"required"`
	MethodID    string `json:"method_id" binding:"required"`
}

// RequestWithdrawal holds funds until an admin decides.
func (h Handlers) RequestWithdrawal(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	var req withdrawalRequest
	if !bindJSON(c, &req) {
		return
	}
	method, err := domain.ParseID(req.MethodID)
	if err != nil {
		writeError(c, err)
		return
	}
	w, err := h.Withdrawals.Request(c.Request.Context(), p.ID, req.AmountMinor, method)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, w)
}

func (h Handlers) GetWithdrawal(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	w, err := h.Withdrawals.Get(c.Request.Context(), p, id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, w)
}

func (h Handlers) ListWithdrawals(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	out, err := h.Withdrawals.ListForOwner(c.Request.Context(), p.ID, listLimit(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"withdrawals": out})
}

func (h Handlers) PendingWithdrawals(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	out, err := h.Withdrawals.ListPending(c.Request.Context(), p, listLimit(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"withdrawals": out})
}

func (h Handlers) ApproveWithdrawal(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	w, err := h.Withdrawals.Approve(c.Request.Context(), p, id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, w)
}

type rejectWithdrawalRequest struct {
	Reason string `json:"reason"`
}

func (h Handlers) RejectWithdrawal(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	// the body is optional; a reason is recorded when given
	var req rejectWithdrawalRequest
	if c.Request.ContentLength != 0 && !bindJSON(c, &req) {
		return
	}
	w, err := h.Withdrawals.Reject(c.Request.Context(), p, id, req.Reason)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, w)
}

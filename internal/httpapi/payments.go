package httpapi

import (
	"io"
	"net/http"
	"strings"

	"djtips-platform/pkg/logger"

	"github.com/gin-gonic/gin"
)

const maxCallbackBody = 64 << 10

type topupRequest struct {
	AmountMinor int64  `json:"amount_minor" binding:"required"`
	Phone       string `json:"phone" binding:"required"`
}

// Topup pushes a payment prompt to the caller's phone.
func (h Handlers) Topup(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	var req topupRequest
	if !bindJSON(c, &req) {
		return
	}
	pp, err := h.Payments.Initiate(c.Request.Context(), p.ID, req.AmountMinor, req.Phone)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, pp)
}

func (h Handlers) ListPayments(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	out, err := h.Payments.List(c.Request.Context(), p.ID, listLimit(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"payments": out})
}

// QueryPayment returns the payment, settling it from the gateway if still pending.
func (h Handlers) QueryPayment(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	pp, err := h.Payments.Query(c.Request.Context(), p, strings.TrimSpace(c.Param("gateway_id")))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, pp)
}

func (h Handlers) CancelPayment(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	pp, err := h.Payments.Cancel(c.Request.Context(), p, strings.TrimSpace(c.Param("gateway_id")))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, pp)
}

// MpesaCallback receives STK results. It always acknowledges: the gateway
// retries anything else, and every delivery is safe to apply again.
func (h Handlers) MpesaCallback(c *gin.Context) {
	log := logger.From(c.Request.Context())
	ack := gin.H{"ResultCode": 0, "ResultDesc": "Accepted"}

	if !tokenMatches(c.Param("token"), h.CallbackToken) {
		log.WarnContext(c.Request.Context(), "mpesa callback with bad token", "ip", c.ClientIP())
		c.JSON(http.StatusOK, ack)
		return
	}
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxCallbackBody))
	if err != nil {
		log.WarnContext(c.Request.Context(), "mpesa callback read failed", "error", err)
		c.JSON(http.StatusOK, ack)
		return
	}
	cb, err := h.ParseCallback(body)
	if err != nil {
		log.WarnContext(c.Request.Context(), "mpesa callback parse failed", "error", err)
		c.JSON(http.StatusOK, ack)
		return
	}
	outcome, err := h.Payments.OnCallback(c.Request.Context(), cb)
	if err != nil {
		log.ErrorContext(c.Request.Context(), "mpesa callback not applied",
			"gateway_request_id", cb.GatewayRequestID, "outcome", outcome, "error", err)
		c.JSON(http.StatusOK, ack)
		return
	}
	log.InfoContext(c.Request.Context(), "mpesa callback applied",
		"gateway_request_id", cb.GatewayRequestID, "outcome", outcome)
	c.JSON(http.StatusOK, ack)
}

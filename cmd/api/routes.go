package main

import (
	"net/http"

	"djtips-platform/internal/httpapi"
	"djtips-platform/internal/rbac"

	"github.com/gin-gonic/gin"
)

type routeDeps struct {
	authMW  gin.HandlerFunc
	limitMW gin.HandlerFunc
	metrics http.Handler
}

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, h httpapi.Handlers, d routeDeps) {
	// public
	r.GET("/healthz", httpapi.Health)
	if d.metrics != nil {
		r.GET("/metrics", gin.WrapH(d.metrics))
	}

	// Gateway webhooks (public). Authenticated by the secret path token.
	r.POST("/webhooks/mpesa/stk/:token", h.MpesaCallback)

	v1 := r.Group("/v1")
	v1.POST("/auth/login", h.Login)
	v1.GET("/settings", h.Settings)

	// protected API group
	api := v1.Group("")
	api.Use(d.authMW)
	api.Use(rbac.RequireAnyRole(rbac.RoleUser, rbac.RoleDJ))
	{
		api.GET("/me", h.Me)
		api.GET("/catalog/search", h.SearchCatalog)

		// WALLET routes
		api.GET("/wallet", h.GetBalance)
		api.GET("/wallet/transactions", h.ListTransactions)
		api.GET("/wallet/statement", h.Statement)

		// PAYMENTS routes (top-ups)
		pay := api.Group("/payments")
		{
			pay.GET("", h.ListPayments)
			pay.POST("/topup", d.limitMW, h.Topup)
			pay.GET("/:gateway_id", h.QueryPayment)
			pay.POST("/:gateway_id/cancel", h.CancelPayment)
		}

		// SONG REQUEST routes (requester side)
		reqs := api.Group("/requests")
		{
			reqs.POST("", d.limitMW, h.CreateSongRequest)
			reqs.GET("", h.ListMyRequests)
			reqs.GET("/:id", h.GetSongRequest)
			reqs.POST("/:id/cancel", h.CancelSongRequest)
		}

		// DJ routes
		dj := api.Group("/dj")
		dj.Use(rbac.RequireAnyRole(rbac.RoleDJ))
		{
			dj.GET("/requests", h.ListQueue)
			dj.GET("/summary", h.QueueSummary)
			dj.POST("/requests/:id/accept", h.AcceptSongRequest)
			dj.POST("/requests/:id/reject", h.RejectSongRequest)

			dj.GET("/methods", h.ListMethods)
			dj.POST("/methods", h.AddMethod)

			dj.GET("/withdrawals", h.ListWithdrawals)
			dj.POST("/withdrawals", d.limitMW, h.RequestWithdrawal)
			dj.GET("/withdrawals/:id", h.GetWithdrawal)
		}

		// ADMIN routes
		admin := api.Group("/admin")
		admin.Use(rbac.RequireAdmin())
		{
			admin.POST("/wallets/adjust", h.AdminAdjust)
			admin.GET("/wallets/:owner_id/reconcile", h.Reconcile)
			admin.GET("/withdrawals", h.PendingWithdrawals)
			admin.POST("/withdrawals/:id/approve", h.ApproveWithdrawal)
			admin.POST("/withdrawals/:id/reject", h.RejectWithdrawal)
			admin.PUT("/methods/:id/active", h.SetMethodActive)
			admin.GET("/requests/:id", h.GetSongRequest)
			admin.POST("/requests/:id/reject", h.RejectSongRequest)
			admin.GET("/audit", h.AuditLog)
		}
	}
}

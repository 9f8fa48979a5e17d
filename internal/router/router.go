package router

import (
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"vault-backend/internal/app"
	"vault-backend/internal/handlers"
	"vault-backend/internal/middleware"
)

// adminOperator is the address admin routes act as: admin.address, or the
// vault's initial admin when unset.
func adminOperator(c *app.ServiceContainer) common.Address {
	if addr := c.Config.Admin.Address; addr != "" {
		return common.HexToAddress(addr)
	}
	return common.HexToAddress(c.Config.Vault.Admin)
}

// SetupRouter builds the HTTP API over the container's services.
func SetupRouter(c *app.ServiceContainer) *gin.Engine {
	cfg := c.Config
	logger := c.Logger

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger(logger.WithField("component", "http")))
	r.Use(middleware.CORS(cfg.CORS, logger))

	if len(cfg.Admin.AllowedIPs) > 0 {
		logger.WithField("allowed_ips", cfg.Admin.AllowedIPs).Info("Admin API IP whitelist configured")
	} else {
		logger.Info("No admin.allowedIPs configured, using localhost-only mode")
	}
	localhostOnly := middleware.NewLocalhostOnly(logger, cfg.Admin.AllowedIPs)
	userAuth := middleware.NewAuthMiddleware(cfg.Auth.JWTSecret, logger)
	adminAuth := middleware.NewAdminAuthMiddleware(cfg.Admin.JWTSecret, logger)

	authHandler := handlers.NewAuthHandler(cfg.Auth, c.Clock, logger)
	adminAuthHandler := handlers.NewAdminAuthHandler(cfg.Admin, c.Clock, logger)
	vaultHandler := handlers.NewVaultHandler(c.VaultService, c.WithdrawalRepo, c.OperationRepo, c.SnapshotRepo, logger)
	ledgerHandler := handlers.NewLedgerHandler(c.VaultService, c.LedgerRepo, logger)
	adminVaultHandler := handlers.NewAdminVaultHandler(c.VaultService, adminOperator(c), c.ConversionRepo, c.OperationRepo, c.WithdrawalRepo, logger)
	wsHandler := handlers.NewWebSocketHandler(c.WebSocketPushService, cfg.Auth.JWTSecret, logger)
	healthHandler := handlers.NewHealthHandler(c.DB, c.NATSClient, c.VaultService)

	// ============ Health & Metrics ============
	r.GET("/health", healthHandler.HealthCheckHandler)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// ============ WebSocket ============
	r.GET("/ws/events", wsHandler.HandleWebSocket)

	api := r.Group("/api")

	// ============ Auth ============
	api.GET("/auth/nonce", authHandler.GenerateNonceHandler)
	api.POST("/auth/login", authHandler.LoginHandler)
	api.POST("/admin/login", localhostOnly.Restrict(), adminAuthHandler.AdminLoginHandler)

	// ============ Vault (public) ============
	api.GET("/vault", vaultHandler.GetVaultHandler)
	api.GET("/vault/convert", vaultHandler.ConvertHandler)
	api.GET("/vault/snapshots", vaultHandler.SnapshotsHandler)
	api.GET("/vault/snapshots/latest", vaultHandler.LatestSnapshotHandler)
	api.GET("/vault/withdrawals/:id", vaultHandler.GetWithdrawalHandler)

	// ============ User (JWT) ============
	user := api.Group("", userAuth.RequireAuth())
	{
		user.POST("/vault/deposits", vaultHandler.DepositHandler)
		user.POST("/vault/withdrawals", vaultHandler.RequestWithdrawalHandler)
		user.POST("/vault/withdrawals/:id/complete", vaultHandler.CompleteWithdrawalHandler)
		user.POST("/vault/withdrawals/:id/cancel", vaultHandler.CancelWithdrawalHandler)
		user.POST("/vault/emergency-withdrawals", vaultHandler.EmergencyWithdrawHandler)

		user.GET("/my/withdrawals", vaultHandler.MyWithdrawalsHandler)
		user.GET("/my/operations", vaultHandler.MyOperationsHandler)
		user.GET("/my/balances", vaultHandler.MyBalancesHandler)

		user.POST("/ledger/approve", ledgerHandler.ApproveHandler)
		user.POST("/ledger/transfer", ledgerHandler.TransferHandler)
	}

	// ============ Admin (IP whitelist + admin JWT) ============
	admin := api.Group("/admin", localhostOnly.Restrict(), adminAuth.RequireAdminAuth())
	{
		admin.PATCH("/vault/config", adminVaultHandler.UpdateConfigHandler)
		admin.POST("/vault/halt", adminVaultHandler.HaltHandler)
		admin.POST("/vault/resume", adminVaultHandler.ResumeHandler)
		admin.POST("/vault/capabilities", adminVaultHandler.CapabilitiesHandler)
		admin.PUT("/vault/idle-policy", adminVaultHandler.SetIdlePolicyHandler)
		admin.POST("/vault/idle-conversions", adminVaultHandler.ExecuteIdleConversionHandler)
		admin.GET("/vault/idle-conversions", adminVaultHandler.ConversionsHandler)
		admin.GET("/vault/idle-conversions/quote", adminVaultHandler.QuoteIdleConversionHandler)
		admin.GET("/vault/operations", adminVaultHandler.OperationsHandler)
		admin.GET("/vault/operations/count", adminVaultHandler.OperationCountHandler)
		admin.GET("/vault/withdrawals", adminVaultHandler.WithdrawalsHandler)
		admin.POST("/ledger/mint", ledgerHandler.MintHandler)
		admin.GET("/ledger/balances/:holder", ledgerHandler.JournaledBalancesHandler)
		admin.GET("/ledger/holders", ledgerHandler.HoldersHandler)
		admin.GET("/ledger/supplies", ledgerHandler.SuppliesHandler)
	}

	r.NoRoute(func(ctx *gin.Context) {
		ctx.JSON(http.StatusNotFound, gin.H{
			"success": false,
			"error":   "Endpoint not found",
			"code":    "NOT_FOUND",
			"path":    ctx.Request.URL.Path,
		})
	})

	logger.WithFields(logrus.Fields{
		"routes": len(r.Routes()),
		"faucet": cfg.Ledger.FaucetEnabled,
	}).Info("router ready")
	return r
}

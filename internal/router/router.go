package router

import (
	"log/slog"
	"net/http"

	"smb-ledger/internal/audit"
	"smb-ledger/internal/backup"
	"smb-ledger/internal/config"
	"smb-ledger/internal/csrf"
	"smb-ledger/internal/handler"
	"smb-ledger/internal/metrics"
	"smb-ledger/internal/middleware"
	"smb-ledger/internal/ratelimit"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"
)

// Deps are the components the router wires into handlers and middleware.
type Deps struct {
	Config   *config.Config
	DB       *gorm.DB
	Logger   *slog.Logger
	Gate     *middleware.Gate
	CSRF     *csrf.Service
	Audit    *audit.Log
	Mirror   *audit.Mirror
	Limits   ratelimit.Store
	Backups  *backup.Service
	Metrics  *metrics.Metrics
	Gatherer prometheus.Gatherer
}

// SetupRouter builds the gin engine. Every /api route passes the general
// rate limiter and the session loader; mutating routes behind RequireAuth
// also pass CSRF protection.
func SetupRouter(d Deps) *gin.Engine {
	cfg := d.Config
	if cfg.Server.Mode != "" {
		gin.SetMode(cfg.Server.Mode)
	}
	r := gin.New()
	r.Use(
		middleware.RequestLogger(d.Logger),
		gin.Recovery(),
		middleware.SecurityHeaders(cfg.Server.Production()),
	)

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if d.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{})))
	}

	general := middleware.GeneralLimiter(cfg.RateLimit.Window, cfg.RateLimit.MaxRequests)
	login := middleware.LoginLimiter(cfg.RateLimit.Window, cfg.RateLimit.LoginMax)

	api := r.Group("/api",
		middleware.RateLimit(d.Limits, general, d.Audit, d.Metrics),
		d.Gate.LoadSession(),
		middleware.ProvideCSRFToken(d.Gate.Sessions, d.CSRF),
	)

	// ====== auth (CSRF exempt) ======
	authHandler := handler.NewAuthHandler(d.DB, d.Gate, d.CSRF, d.Audit, d.Metrics, cfg.Security.BcryptCost)
	auth := api.Group("/auth")
	auth.POST("/login", middleware.RateLimit(d.Limits, login, d.Audit, d.Metrics), authHandler.Login)
	auth.POST("/register", middleware.RateLimit(d.Limits, login, d.Audit, d.Metrics), authHandler.Register)
	auth.POST("/logout", d.Gate.OptionalAuth(), authHandler.Logout)
	auth.POST("/refresh", authHandler.Refresh)

	// ====== authenticated ======
	protected := api.Group("",
		d.Gate.RequireAuth(),
		middleware.CSRFProtection(d.CSRF, d.Audit, d.Metrics),
	)
	protected.GET("/auth/me", authHandler.Me)
	protected.PUT("/auth/profile", authHandler.UpdateProfile)

	accountHandler := handler.NewAccountHandler(d.DB, cfg.Upload.Dir)
	accounts := protected.Group("/accounts", middleware.MutationAudit(d.Audit, "accounts"))
	accounts.GET("", accountHandler.List)
	accounts.GET("/stats", accountHandler.Stats)
	accounts.GET("/:id", accountHandler.Get)
	accounts.POST("", accountHandler.Create)
	accounts.PUT("/:id", accountHandler.Update)
	accounts.DELETE("/:id", accountHandler.Delete)
	accounts.POST("/:id/attachment", middleware.ValidateUpload(cfg.Upload, d.Audit), accountHandler.UploadAttachment)

	invoiceHandler := handler.NewInvoiceHandler(d.DB)
	invoices := protected.Group("/invoices", middleware.MutationAudit(d.Audit, "invoices"))
	invoices.GET("", invoiceHandler.List)
	invoices.GET("/:id", invoiceHandler.Get)
	invoices.POST("", invoiceHandler.Create)
	invoices.PUT("/:id", invoiceHandler.Update)
	invoices.DELETE("/:id", invoiceHandler.Delete)

	contactHandler := handler.NewContactHandler(d.DB, cfg.Security.EncryptionKey)
	contacts := protected.Group("/contacts", middleware.MutationAudit(d.Audit, "contacts"))
	contacts.GET("", contactHandler.List)
	contacts.GET("/:id", contactHandler.Get)
	contacts.POST("", contactHandler.Create)
	contacts.PUT("/:id", contactHandler.Update)
	contacts.DELETE("/:id", contactHandler.Delete)

	cashFlowHandler := handler.NewCashFlowHandler(d.DB)
	cashFlow := protected.Group("/cash-flow", middleware.MutationAudit(d.Audit, "cash_flow"))
	cashFlow.GET("", cashFlowHandler.List)
	cashFlow.GET("/summary", cashFlowHandler.Summary)
	cashFlow.GET("/export/csv", cashFlowHandler.ExportCSV)
	cashFlow.GET("/export/xlsx", cashFlowHandler.ExportXLSX)
	cashFlow.POST("", cashFlowHandler.Create)
	cashFlow.DELETE("/:id", cashFlowHandler.Delete)

	reconHandler := handler.NewReconciliationHandler(d.DB)
	recons := protected.Group("/reconciliations", middleware.MutationAudit(d.Audit, "reconciliations"))
	recons.GET("", reconHandler.List)
	recons.GET("/:id", reconHandler.Get)
	recons.POST("", reconHandler.Create)
	recons.PUT("/:id", reconHandler.Update)
	recons.DELETE("/:id", reconHandler.Delete)

	dashboardHandler := handler.NewDashboardHandler(d.DB)
	protected.GET("/dashboard/stats", dashboardHandler.Stats)

	// ====== admin ======
	admin := protected.Group("/admin", d.Gate.RequireAdmin())

	adminHandler := handler.NewAdminHandler(d.DB, d.Gate.Sessions, d.Gate.Tokens, d.Audit, d.Backups, cfg.Security.BcryptCost)
	admin.GET("/stats", adminHandler.Stats)
	admin.GET("/users", adminHandler.ListUsers)
	admin.POST("/users", adminHandler.CreateUser)
	admin.PUT("/users/:id", adminHandler.UpdateUser)
	admin.DELETE("/users/:id", adminHandler.DeleteUser)

	auditHandler := handler.NewAuditHandler(d.Audit, d.Mirror)
	admin.GET("/audit-logs", auditHandler.List)
	admin.GET("/audit-logs/verify", auditHandler.Verify)
	admin.GET("/audit-logs/archive", auditHandler.Archive)

	if d.Backups != nil {
		backupHandler := handler.NewBackupHandler(d.Backups)
		admin.GET("/backups", backupHandler.List)
		admin.POST("/backups", backupHandler.Create)
	}

	return r
}

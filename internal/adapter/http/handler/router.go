package handler

import (
	"refunds-service/internal/adapter/http/middleware"
	redisStore "refunds-service/internal/adapter/storage/redis"
	"refunds-service/internal/core/ports"
	"refunds-service/internal/gateway"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// RouterDeps holds all dependencies needed to set up routes.
type RouterDeps struct {
	AuthSvc        ports.AuthService
	RefundSvc      ports.RefundService
	BankAccountSvc ports.BankAccountService
	ParameterSvc   ports.ParameterService
	ReportSvc      ports.ReportService
	ReconcileSvc   ports.ReconciliationService
	Gateways       *gateway.Registry
	TokenSvc       ports.TokenService
	RateLimitStore *redisStore.RateLimitStore // nil = rate limiting disabled
	HealthCheckers []ports.HealthChecker
	AuditSvc       ports.AuditService // nil = audit logging disabled
	MaxBodyBytes   int64              // webhook payload cap
	Logger         zerolog.Logger
}

// SetupRouter initialises the Gin engine with all routes and middleware.
func SetupRouter(deps RouterDeps) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery(deps.Logger))
	r.Use(middleware.RequestLogger(deps.Logger))

	// Audit logging (after response)
	if deps.AuditSvc != nil {
		r.Use(middleware.AuditLog(deps.AuditSvc))
	}

	// Health check (deep, verifies PostgreSQL + Redis)
	r.GET("/health", HealthCheck(deps.HealthCheckers...))

	// Swagger documentation
	swagger := r.Group("/swagger")
	{
		swagger.GET("", SwaggerUI)
		swagger.GET("/spec", SwaggerSpec)
	}

	// Gateway webhooks. Deliberately outside the portal envelope, body cap,
	// and rate limiting: the dispatcher enforces its own byte limit and each
	// gateway gets answers in its own dialect.
	webhookHandler := NewWebhookHandler(deps.Gateways, deps.ReconcileSvc, deps.MaxBodyBytes, deps.Logger)
	r.POST("/webhooks/:gateway", webhookHandler.Handle)

	// Rate limit rules
	rules := middleware.DefaultRateLimitRules()

	// Helper: return rate limiter middleware if store is available, else noop.
	rl := func(group string) gin.HandlerFunc {
		if deps.RateLimitStore == nil {
			return func(c *gin.Context) { c.Next() }
		}
		rule, ok := rules[group]
		if !ok {
			return func(c *gin.Context) { c.Next() }
		}
		return middleware.RateLimiter(deps.RateLimitStore, group, rule, deps.Logger)
	}

	// API v1 routes: the portal surface. A 1 MB body cap covers every
	// endpoint under the envelope.
	v1 := r.Group("/api/v1", middleware.MaxBodySize(1<<20))

	// --- Public routes (no auth) ---
	authHandler := NewAuthHandler(deps.AuthSvc)
	auth := v1.Group("/auth")
	{
		auth.POST("/register", rl("auth_register"), authHandler.Register)
		auth.POST("/login", rl("auth_login"), authHandler.Login)
	}

	// --- JWT-authenticated routes (operator portal) ---
	// JWTAuth runs before the limiter so limits key by operator, not IP.
	jwtAuth := middleware.JWTAuth(deps.TokenSvc, deps.Logger)

	refundHandler := NewRefundHandler(deps.RefundSvc)
	refunds := v1.Group("/refunds", jwtAuth)
	{
		refunds.POST("", rl("refunds_write"), refundHandler.Create)
		refunds.GET("", rl("refunds_read"), refundHandler.List)
		refunds.GET("/:id", rl("refunds_read"), refundHandler.Get)
		refunds.PATCH("/:id", rl("refunds_write"), refundHandler.Update)
		refunds.POST("/:id/submit", rl("refunds_write"), refundHandler.Submit)
		refunds.POST("/:id/approve", rl("refunds_write"), refundHandler.Approve)
		refunds.POST("/:id/reject", rl("refunds_write"), refundHandler.Reject)
		refunds.POST("/:id/cancel", rl("refunds_write"), refundHandler.Cancel)
		refunds.POST("/:id/dispatch", rl("refunds_write"), refundHandler.Dispatch)
	}

	accountHandler := NewBankAccountHandler(deps.BankAccountSvc)
	accounts := v1.Group("/bank-accounts", jwtAuth)
	{
		accounts.POST("", rl("accounts"), accountHandler.Create)
		accounts.GET("", rl("accounts"), accountHandler.List)
		accounts.GET("/:id", rl("accounts"), accountHandler.Get)
		accounts.PATCH("/:id", rl("accounts"), accountHandler.Update)
	}

	paramHandler := NewParameterHandler(deps.ParameterSvc)
	parameters := v1.Group("/parameters", jwtAuth)
	{
		parameters.GET("/:scope", rl("parameters"), paramHandler.ListByScope)
		parameters.GET("/:scope/:key", rl("parameters"), paramHandler.Get)
		parameters.PUT("/:scope/:key", rl("parameters"), paramHandler.Set)
		parameters.DELETE("/:scope/:key", rl("parameters"), paramHandler.Delete)
	}

	reportHandler := NewReportHandler(deps.ReportSvc)
	reports := v1.Group("/reports", jwtAuth)
	{
		reports.GET("/refunds", rl("reports"), reportHandler.RefundSummary)
		reports.GET("/anomalies", rl("reports"), reportHandler.ListAnomalies)
	}

	return r
}

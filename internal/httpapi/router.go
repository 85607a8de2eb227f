// Package httpapi exposes the process's inbound HTTP surface: the
// O-Dengi payment webhook, a health endpoint, and a manual pipeline
// trigger for operators, wired the way the teacher's distribution_service
// main.go sets up its gin.Engine (§6, §9).
package httpapi

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/tulparexpress/autopost-bot/internal/apierr"
	"github.com/tulparexpress/autopost-bot/internal/payment"
	"github.com/tulparexpress/autopost-bot/internal/repository"
	"github.com/tulparexpress/autopost-bot/internal/scheduler"
)

// PipelineTrigger is the narrow slice of *scheduler.Scheduler the
// router depends on for the manual-run and health endpoints.
type PipelineTrigger interface {
	TriggerManual(ctx context.Context, categoryHint string) bool
	State() scheduler.State
}

// HealthChecker reports whether the database connection is alive.
type HealthChecker func() error

// Router holds the dependencies the registered handlers close over.
type Router struct {
	gateway       *payment.Gateway
	invoices      *repository.InvoiceRepository
	notifier      payment.UserNotifier
	adminChatIDs  []string
	webhookStrict bool
	scheduler     PipelineTrigger
	dbHealth      HealthChecker
	adminToken    string
	logger        *zap.Logger
}

// New builds the gin engine. adminToken, when non-empty, gates the
// manual-trigger endpoint behind a static bearer token (§9: no
// exposed unauthenticated pipeline trigger). logger may be nil, in
// which case requests go unlogged (as in tests).
func New(
	gateway *payment.Gateway,
	invoices *repository.InvoiceRepository,
	notifier payment.UserNotifier,
	adminChatIDs []string,
	webhookStrict bool,
	scheduler PipelineTrigger,
	dbHealth HealthChecker,
	adminToken string,
	logger *zap.Logger,
) *gin.Engine {
	r := &Router{
		gateway:       gateway,
		invoices:      invoices,
		notifier:      notifier,
		adminChatIDs:  adminChatIDs,
		webhookStrict: webhookStrict,
		scheduler:     scheduler,
		dbHealth:      dbHealth,
		adminToken:    adminToken,
		logger:        logger,
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(r.requestLogger())

	engine.GET("/health", r.health)

	v1 := engine.Group("/api/v1")
	{
		v1.POST("/payment/webhook", r.paymentWebhook)

		admin := v1.Group("/admin")
		admin.Use(r.requireAdminToken)
		{
			admin.POST("/pipeline/trigger", r.triggerPipeline)
		}
	}

	return engine
}

// requestLogger logs method/path/status/duration/client IP/user agent
// for every request, following order_service's loggingMiddleware.
func (r *Router) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		if r.logger == nil {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()

		r.logger.Info("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
			zap.String("user_agent", c.Request.UserAgent()),
		)
	}
}

func (r *Router) requireAdminToken(c *gin.Context) {
	if r.adminToken == "" {
		c.Next()
		return
	}
	if c.GetHeader("Authorization") != "Bearer "+r.adminToken {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Next()
}

// health reports database reachability and the scheduler's current
// state, the way the teacher's controllers expose /health.
func (r *Router) health(c *gin.Context) {
	status := "healthy"
	dbStatus := "ok"
	if r.dbHealth != nil {
		if err := r.dbHealth(); err != nil {
			status = "degraded"
			dbStatus = err.Error()
		}
	}

	resp := gin.H{
		"status":    status,
		"timestamp": time.Now().UTC(),
		"database":  dbStatus,
	}
	if r.scheduler != nil {
		state := r.scheduler.State()
		resp["scheduler"] = gin.H{
			"running":      state.Running,
			"next_run_at":  state.NextRunAt,
			"posting_time": state.PostingTime,
			"timezone":     state.Timezone,
		}
	}

	code := http.StatusOK
	if status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, resp)
}

// triggerPipeline runs a pipeline invocation on demand, through the
// scheduler's single-instance gate (§4.1).
func (r *Router) triggerPipeline(c *gin.Context) {
	var body struct {
		CategoryHint string `json:"category_hint"`
	}
	_ = c.ShouldBindJSON(&body)

	ok := r.scheduler.TriggerManual(c.Request.Context(), body.CategoryHint)
	if !ok {
		c.JSON(http.StatusConflict, gin.H{"triggered": false, "reason": "a pipeline run is already in flight"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"triggered": true})
}

// paymentWebhook verifies and applies an inbound O-Dengi callback
// (§5, §9). It always reads the raw body itself, since signature
// verification needs the exact bytes on the wire rather than a
// re-marshalled struct.
func (r *Router) paymentWebhook(c *gin.Context) {
	raw, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read request body"})
		return
	}

	cb, err := r.gateway.ParseCallback(raw, r.webhookStrict)
	if err != nil {
		if _, ok := err.(*apierr.SignatureInvalid); ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
			return
		}
		if r.logger != nil {
			r.logger.Error("httpapi: payment webhook parse failed", zap.Error(err))
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed callback"})
		return
	}

	if cb.Status != payment.StatusPaid {
		c.JSON(http.StatusOK, gin.H{"acknowledged": true})
		return
	}

	applied, err := payment.Finalise(c.Request.Context(), r.invoices, cb, r.notifier, r.adminChatIDs)
	if err != nil {
		if _, ok := err.(*apierr.BusinessRule); ok {
			c.JSON(http.StatusOK, gin.H{"acknowledged": true, "warning": err.Error()})
			return
		}
		if r.logger != nil {
			r.logger.Error("httpapi: payment webhook finalise failed", zap.Error(err))
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to finalise invoice"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"acknowledged": true, "applied": applied})
}

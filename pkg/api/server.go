// Package api exposes the HTTP surface: the SSE chat endpoint, the report
// endpoints, tool introspection, prompt templates, the trade-controls stub,
// and health.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/finsight-ai/finsight/pkg/models"
	"github.com/finsight-ai/finsight/pkg/obs"
	"github.com/finsight-ai/finsight/pkg/reports"
	"github.com/finsight-ai/finsight/pkg/stream"
	"github.com/finsight-ai/finsight/pkg/trade"
	"github.com/finsight-ai/finsight/pkg/version"
)

// tradeSecretHeader carries the shared secret on trade submissions.
const tradeSecretHeader = "X-Trade-Secret"

// ChatDriver runs the chat path of a turn against a stream sink.
type ChatDriver interface {
	RunChat(ctx context.Context, state *models.ConversationState, sink stream.Sink)
}

// ReportRunner is the report orchestration surface the handlers use.
type ReportRunner interface {
	Run(ctx context.Context, reportType string, payload reports.Payload, opts reports.RunOptions) (*reports.RunResult, error)
	Followup(ctx context.Context, reportType, ownerKey, threadID, question string, refreshData bool) (*reports.RunResult, error)
}

// TradeGate is the trade-controls surface.
type TradeGate interface {
	Submit(ctx context.Context, req trade.SubmitRequest, providedSecret string) (*trade.Receipt, error)
}

// Server wires the handlers onto a gin engine.
type Server struct {
	driver  ChatDriver
	runner  ReportRunner
	store   reports.ThreadStore
	gate    TradeGate
	ring    *obs.Ring
	pool    *pgxpool.Pool
	origins []string
	logger  *slog.Logger

	engine *gin.Engine
	http   *http.Server
}

// Options carries the server dependencies. Pool, Ring, Store, and Gate may be
// nil; the corresponding endpoints then degrade or return 503.
type Options struct {
	Driver         ChatDriver
	Reports        ReportRunner
	Store          reports.ThreadStore
	Gate           TradeGate
	Ring           *obs.Ring
	Pool           *pgxpool.Pool
	AllowedOrigins []string
	Logger         *slog.Logger
}

// NewServer builds the router.
func NewServer(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		driver:  opts.Driver,
		runner:  opts.Reports,
		store:   opts.Store,
		gate:    opts.Gate,
		ring:    opts.Ring,
		pool:    opts.Pool,
		origins: opts.AllowedOrigins,
		logger:  logger.With("component", "api"),
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery(), s.requestLog(), s.cors(), securityHeaders())

	engine.GET("/health", s.health)

	apiGroup := engine.Group("/api")
	apiGroup.POST("/chat", s.chat)

	apiGroup.POST("/reports/:type", s.runReport)
	apiGroup.POST("/reports/:type/followup", s.reportFollowup)
	apiGroup.GET("/reports/types", s.reportTypes)
	apiGroup.GET("/reports/:type/prompt", s.reportPrompt)
	apiGroup.GET("/reports/templates", s.listTemplates)
	apiGroup.GET("/reports/templates/:type", s.getTemplate)
	apiGroup.PUT("/reports/templates/:type", s.putTemplate)
	apiGroup.DELETE("/reports/templates/:type", s.deleteTemplate)

	apiGroup.GET("/tools/contracts", s.toolContracts)
	apiGroup.GET("/tools/contracts/:tool", s.toolContract)

	apiGroup.POST("/trade/orders", s.submitOrder)
	apiGroup.GET("/providers/status", s.providerStatus)

	s.engine = engine
	return s
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves until the listener fails.
func (s *Server) Run(addr string) error {
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("http server listening", "addr", addr, "version", version.Version)
	return s.http.ListenAndServe()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

func (s *Server) requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Info("request",
			"method", c.Request.Method, "path", c.FullPath(),
			"status", c.Writer.Status(), "duration_ms", time.Since(start).Milliseconds())
	}
}

// cors allows the configured origins; "*" allows any.
func (s *Server) cors() gin.HandlerFunc {
	allowAll := len(s.origins) == 0
	allowed := map[string]bool{}
	for _, o := range s.origins {
		if o == "*" {
			allowAll = true
		}
		allowed[o] = true
	}
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin != "" && (allowAll || allowed[origin]) {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization, "+tradeSecretHeader)
			c.Header("Vary", "Origin")
		}
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "no-referrer")
		c.Next()
	}
}

package cloud

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/roach88/tillpos/internal/logging"
	"github.com/roach88/tillpos/internal/syncwire"
)

const (
	tenantKey      = "tenant_id"
	adminKeyHeader = "X-Admin-Key"
	maxPushBody    = 8 << 20
)

// Server is the cloud HTTP API.
type Server struct {
	ledger   *Ledger
	tenants  *Tenants
	issuer   *TokenIssuer
	adminKey string
	logger   *logrus.Logger
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithAdminKey enables the back-office routes, guarded by key.
func WithAdminKey(key string) ServerOption {
	return func(s *Server) { s.adminKey = key }
}

func WithServerLogger(l *logrus.Logger) ServerOption {
	return func(s *Server) { s.logger = l }
}

// NewServer wires the API over a ledger and tenant registry.
func NewServer(ledger *Ledger, tenants *Tenants, issuer *TokenIssuer, opts ...ServerOption) *Server {
	s := &Server{ledger: ledger, tenants: tenants, issuer: issuer, logger: logging.Discard()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler builds the gin router.
func (s *Server) Handler() http.Handler {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLog())

	r.GET("/healthz", s.health)
	r.POST(syncwire.TokenPath, s.token)
	r.POST(syncwire.PushPath, s.requireTenant(), s.push)

	admin := r.Group("/api/v1/admin", s.requireAdmin())
	admin.POST("/tenants", s.createTenant)
	admin.GET("/tenants/:id/summary", s.summary)
	return r
}

func (s *Server) health(c *gin.Context) {
	sqlDB, err := s.ledger.DB().DB()
	if err == nil {
		err = sqlDB.PingContext(c.Request.Context())
	}
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) token(c *gin.Context) {
	var req syncwire.TokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, syncwire.CodeInvalidBatch, err.Error())
		return
	}
	if err := s.tenants.Authenticate(c.Request.Context(), req.TenantID, req.APIKey); err != nil {
		if errors.Is(err, ErrBadCredentials) {
			writeError(c, http.StatusUnauthorized, syncwire.CodeUnauthorized, "invalid tenant credentials")
			return
		}
		logging.LogError(s.logger, "cloud", "token", "authenticate tenant", req.TenantID, err)
		writeError(c, http.StatusInternalServerError, syncwire.CodeInternal, "authentication failed")
		return
	}
	tok, exp, err := s.issuer.Issue(req.TenantID)
	if err != nil {
		logging.LogError(s.logger, "cloud", "token", "issue token", req.TenantID, err)
		writeError(c, http.StatusInternalServerError, syncwire.CodeInternal, "token could not be issued")
		return
	}
	c.JSON(http.StatusOK, syncwire.TokenResponse{Token: tok, ExpiresAt: exp})
}

func (s *Server) push(c *gin.Context) {
	tenantID := c.GetString(tenantKey)

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxPushBody)
	var req syncwire.PushRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, syncwire.CodeInvalidBatch, err.Error())
		return
	}

	n, err := s.ledger.ApplyBatch(c.Request.Context(), tenantID, req.Items)
	if err != nil {
		be := asBatchError(err)
		writeError(c, statusFor(be.Code), be.Code, be.Message)
		return
	}
	c.JSON(http.StatusOK, syncwire.PushResponse{Success: true, ProcessedCount: n})
}

type createTenantRequest struct {
	ID   string `json:"id" binding:"required"`
	Name string `json:"name" binding:"required"`
}

type createTenantResponse struct {
	Tenant Tenant `json:"tenant"`
	APIKey string `json:"api_key"`
}

func (s *Server) createTenant(c *gin.Context) {
	var req createTenantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	tenant, key, err := s.tenants.Create(c.Request.Context(), req.ID, req.Name)
	if errors.Is(err, ErrTenantExists) {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		logging.LogError(s.logger, "cloud", "createTenant", "create tenant", req.ID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "tenant could not be created"})
		return
	}
	c.JSON(http.StatusCreated, createTenantResponse{Tenant: tenant, APIKey: key})
}

func (s *Server) summary(c *gin.Context) {
	id := c.Param("id")
	if _, err := s.tenants.Get(c.Request.Context(), id); err != nil {
		if errors.Is(err, ErrTenantNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	sum, err := s.ledger.Summary(c.Request.Context(), id)
	if err != nil {
		logging.LogError(s.logger, "cloud", "summary", "tenant summary", id, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "summary unavailable"})
		return
	}
	c.JSON(http.StatusOK, sum)
}

// requireTenant verifies the bearer token and stores the tenant in the
// gin context.
func (s *Server) requireTenant() gin.HandlerFunc {
	return func(c *gin.Context) {
		auth := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(auth, "Bearer ")
		if !ok || token == "" {
			writeError(c, http.StatusUnauthorized, syncwire.CodeUnauthorized, "missing bearer token")
			c.Abort()
			return
		}
		tenantID, err := s.issuer.Verify(token)
		if err != nil {
			writeError(c, http.StatusUnauthorized, syncwire.CodeUnauthorized, "invalid or expired token")
			c.Abort()
			return
		}
		c.Set(tenantKey, tenantID)
		c.Next()
	}
}

func (s *Server) requireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader(adminKeyHeader)
		if s.adminKey == "" || subtle.ConstantTimeCompare([]byte(key), []byte(s.adminKey)) != 1 {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			c.Abort()
			return
		}
		c.Next()
	}
}

func (s *Server) requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.WithFields(logrus.Fields{
			"method":  c.Request.Method,
			"path":    c.FullPath(),
			"status":  c.Writer.Status(),
			"latency": time.Since(start).String(),
			"tenant":  c.GetString(tenantKey),
		}).Debug("request")
	}
}

func writeError(c *gin.Context, status int, code, msg string) {
	c.JSON(status, syncwire.PushResponse{Error: &syncwire.ErrorBody{Code: code, Message: msg}})
}

func statusFor(code string) int {
	switch code {
	case syncwire.CodeInvalidBatch, syncwire.CodeInvalidItem:
		return http.StatusBadRequest
	case syncwire.CodeUnauthorized:
		return http.StatusUnauthorized
	case syncwire.CodeTenantMismatch:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

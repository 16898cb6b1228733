package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"BatchLedger/internal/observability"
	"BatchLedger/internal/query"
)

// HTTPServer exposes the read API and the admin command endpoints.
// Reads go to the query service; admin commands are published to NATS
// and take effect only once the core applies them, so the HTTP layer
// never mutates state directly.
type HTTPServer struct {
	engine  *gin.Engine
	srv     *http.Server
	queries *query.Service
	js      jetstream.JetStream
	health  *observability.HealthChecker
	metrics *observability.Metrics
	log     zerolog.Logger
}

func NewHTTPServer(
	addr string,
	queries *query.Service,
	js jetstream.JetStream,
	health *observability.HealthChecker,
	metrics *observability.Metrics,
	log zerolog.Logger,
) *HTTPServer {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	s := &HTTPServer{
		engine:  engine,
		queries: queries,
		js:      js,
		health:  health,
		metrics: metrics,
		log:     log,
	}
	s.routes()

	s.srv = &http.Server{
		Addr:         addr,
		Handler:      engine,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return s
}

func (s *HTTPServer) routes() {
	s.engine.GET("/healthz", gin.WrapF(s.health.LivenessHandler))
	s.engine.GET("/readyz", gin.WrapF(s.health.ReadinessHandler))
	s.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := s.engine.Group("/v1")
	{
		v1.GET("/users/:id/balance", s.instrument("balance", s.getBalance))
		v1.GET("/users/:id/positions", s.instrument("positions", s.getPositions))
		v1.GET("/users/:id/stats", s.instrument("stats", s.getUserStats))
		v1.GET("/users/:id/trades", s.instrument("trades", s.getTradeHistory))
		v1.GET("/users/:id/journal", s.instrument("journal", s.getJournalHistory))
		v1.GET("/batches", s.instrument("batches", s.listBatches))
		v1.GET("/batches/:id", s.instrument("batch", s.getBatch))
		v1.GET("/events/:sequence", s.instrument("event", s.getEvent))
		v1.GET("/integrity", s.instrument("integrity", s.verifyIntegrity))

		admin := v1.Group("/admin")
		{
			admin.POST("/pause", s.instrument("admin_pause", s.postPause))
			admin.POST("/relayers", s.instrument("admin_relayers", s.postRelayerUpdate))
			admin.POST("/transfer", s.instrument("admin_transfer", s.postAdminTransfer))
		}
	}
}

// Run serves until the context is cancelled.
func (s *HTTPServer) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", s.srv.Addr).Msg("http server listening")
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (s *HTTPServer) instrument(endpoint string, handler gin.HandlerFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		handler(c)
		if s.metrics != nil {
			status := strconv.Itoa(c.Writer.Status())
			s.metrics.QueryRequests.WithLabelValues(endpoint, status).Inc()
			s.metrics.QueryDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
		}
	}
}

func (s *HTTPServer) fail(c *gin.Context, endpoint string, err error) {
	if errors.Is(err, query.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	if s.metrics != nil {
		s.metrics.QueryErrors.WithLabelValues(endpoint, "internal").Inc()
	}
	s.log.Error().Str("endpoint", endpoint).Err(err).Msg("query failed")
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}

func userParam(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return uuid.Nil, false
	}
	return id, true
}

func pagination(c *gin.Context) (*int64, int) {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}
	var before *int64
	if raw := c.Query("before"); raw != "" {
		if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
			before = &n
		}
	}
	return before, limit
}

func (s *HTTPServer) getBalance(c *gin.Context) {
	userID, ok := userParam(c)
	if !ok {
		return
	}
	resp, err := s.queries.GetBalance(c.Request.Context(), userID)
	if err != nil {
		s.fail(c, "balance", err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *HTTPServer) getPositions(c *gin.Context) {
	userID, ok := userParam(c)
	if !ok {
		return
	}
	resp, err := s.queries.GetPositions(c.Request.Context(), userID)
	if err != nil {
		s.fail(c, "positions", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"positions": resp})
}

func (s *HTTPServer) getUserStats(c *gin.Context) {
	userID, ok := userParam(c)
	if !ok {
		return
	}
	resp, err := s.queries.GetUserStats(c.Request.Context(), userID)
	if err != nil {
		s.fail(c, "stats", err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *HTTPServer) getTradeHistory(c *gin.Context) {
	userID, ok := userParam(c)
	if !ok {
		return
	}
	before, limit := pagination(c)
	resp, err := s.queries.GetTradeHistory(c.Request.Context(), userID, before, limit)
	if err != nil {
		s.fail(c, "trades", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"trades": resp})
}

func (s *HTTPServer) getJournalHistory(c *gin.Context) {
	userID, ok := userParam(c)
	if !ok {
		return
	}
	before, limit := pagination(c)
	resp, err := s.queries.GetJournalHistory(c.Request.Context(), userID, before, limit)
	if err != nil {
		s.fail(c, "journal", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"journal": resp})
}

func (s *HTTPServer) listBatches(c *gin.Context) {
	_, limit := pagination(c)
	resp, err := s.queries.ListBatches(c.Request.Context(), c.Query("status"), limit)
	if err != nil {
		s.fail(c, "batches", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"batches": resp})
}

func (s *HTTPServer) getBatch(c *gin.Context) {
	batchID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid batch id"})
		return
	}
	resp, err := s.queries.GetBatch(c.Request.Context(), batchID)
	if err != nil {
		s.fail(c, "batch", err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *HTTPServer) getEvent(c *gin.Context) {
	sequence, err := strconv.ParseInt(c.Param("sequence"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid sequence"})
		return
	}
	resp, err := s.queries.GetEvent(c.Request.Context(), sequence)
	if err != nil {
		s.fail(c, "event", err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *HTTPServer) verifyIntegrity(c *gin.Context) {
	resp, err := s.queries.VerifyIntegrity(c.Request.Context())
	if err != nil {
		s.fail(c, "integrity", err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// --- admin commands ---
//
// Each handler assigns a request id, stamps the submission time and
// publishes to the admin stream. 202 means accepted for ordering, not
// applied.

type pauseRequest struct {
	Paused   bool   `json:"paused"`
	Admin    string `json:"admin" binding:"required"`
	AdminSeq int64  `json:"admin_seq" binding:"required"`
}

func (s *HTTPServer) postPause(c *gin.Context) {
	var req pauseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	requestID := uuid.New()
	s.publishAdmin(c, "ledger.admin.pause.cmd", gin.H{
		"request_id":   requestID.String(),
		"paused":       req.Paused,
		"admin":        req.Admin,
		"admin_seq":    req.AdminSeq,
		"timestamp_us": time.Now().UnixMicro(),
	}, requestID)
}

type relayerUpdateRequest struct {
	Action             string `json:"action" binding:"required"`
	Relayer            string `json:"relayer"`
	RequiredSignatures uint8  `json:"required_signatures"`
	Admin              string `json:"admin" binding:"required"`
	AdminSeq           int64  `json:"admin_seq" binding:"required"`
}

func (s *HTTPServer) postRelayerUpdate(c *gin.Context) {
	var req relayerUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	switch req.Action {
	case "add", "remove", "set_required":
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "action must be add, remove or set_required"})
		return
	}

	requestID := uuid.New()
	s.publishAdmin(c, "ledger.admin.relayers.cmd", gin.H{
		"request_id":          requestID.String(),
		"action":              req.Action,
		"relayer":             req.Relayer,
		"required_signatures": req.RequiredSignatures,
		"admin":               req.Admin,
		"admin_seq":           req.AdminSeq,
		"timestamp_us":        time.Now().UnixMicro(),
	}, requestID)
}

type adminTransferRequest struct {
	NewAdmin string `json:"new_admin" binding:"required"`
	Admin    string `json:"admin" binding:"required"`
	AdminSeq int64  `json:"admin_seq" binding:"required"`
}

func (s *HTTPServer) postAdminTransfer(c *gin.Context) {
	var req adminTransferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	requestID := uuid.New()
	s.publishAdmin(c, "ledger.admin.transfer.cmd", gin.H{
		"request_id":   requestID.String(),
		"new_admin":    req.NewAdmin,
		"admin":        req.Admin,
		"admin_seq":    req.AdminSeq,
		"timestamp_us": time.Now().UnixMicro(),
	}, requestID)
}

func (s *HTTPServer) publishAdmin(c *gin.Context, subject string, payload gin.H, requestID uuid.UUID) {
	data, err := json.Marshal(payload)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "encode command"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	if _, err := s.js.Publish(ctx, subject, data); err != nil {
		s.log.Error().Str("subject", subject).Err(err).Msg("admin publish failed")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "command queue unavailable"})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"request_id": requestID.String(), "status": "accepted"})
}

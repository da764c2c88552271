// Package api serves the pool engine over HTTP with gin.
package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"shieldedpool/internal/merkle"
	"shieldedpool/internal/metrics"
	"shieldedpool/internal/pool"
	"shieldedpool/internal/transactions/withdraw"
	"shieldedpool/internal/zerocash"
)

type Options struct {
	Logger  *zap.Logger
	Metrics *metrics.Metrics
	Health  *HealthChecker
	Limiter *ClientLimiter
	// RequestTimeout bounds each withdrawal, proving included.
	RequestTimeout time.Duration
}

type Server struct {
	engine  *pool.Engine
	log     *zap.Logger
	metrics *metrics.Metrics
	health  *HealthChecker
	limiter *ClientLimiter
	timeout time.Duration
}

func NewServer(engine *pool.Engine, opts Options) *Server {
	s := &Server{
		engine:  engine,
		log:     opts.Logger,
		metrics: opts.Metrics,
		health:  opts.Health,
		limiter: opts.Limiter,
		timeout: opts.RequestTimeout,
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	if s.health == nil {
		s.health = NewHealthChecker("dev")
	}
	if s.limiter == nil {
		s.limiter = NewClientLimiter(0, 0)
	}
	if s.timeout <= 0 {
		s.timeout = 3 * time.Minute
	}
	s.health.Register("pools", s.checkPools)
	return s
}

func (s *Server) checkPools(context.Context) error {
	stats := s.engine.Pools()
	if len(stats) == 0 {
		return errors.New("no pools registered")
	}
	for _, st := range stats {
		if st.State != pool.StateOperational.String() {
			return errors.Errorf("pool %s is %s", st.Token, st.State)
		}
		if st.Mode == withdraw.ModeSimulated {
			return DegradedError{Reason: "pool " + st.Token + " runs simulated proofs"}
		}
	}
	return nil
}

// Router builds the gin engine.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())

	r.GET("/health", s.handleHealth)
	if s.metrics != nil {
		r.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	}

	r.GET("/pools", s.handlePools)
	r.GET("/pools/:token/stats", s.handleStats)
	r.POST("/notes/verify", s.handleVerifyNote)

	limited := r.Group("/", s.rateLimit())
	limited.POST("/pools/:token/deposit", s.handleDeposit)
	limited.POST("/pools/:token/withdraw", s.handleWithdraw)
	return r
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		if s.metrics != nil {
			s.metrics.HTTPRequests.WithLabelValues(route, strconv.Itoa(status)).Inc()
		}
		s.log.Debug("http request",
			zap.String("method", c.Request.Method),
			zap.String("route", route),
			zap.Int("status", status),
			zap.Duration("took", time.Since(start)),
			zap.String("client", c.ClientIP()),
		)
	}
}

func (s *Server) rateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.limiter.Allow(c.ClientIP()) {
			if s.metrics != nil {
				s.metrics.HTTPRateLimited.Inc()
			}
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}

// statusFor maps domain errors to HTTP codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, pool.ErrUnknownPool):
		return http.StatusNotFound
	case errors.Is(err, pool.ErrInputValidation),
		errors.Is(err, zerocash.ErrInvalidNoteFormat),
		errors.Is(err, zerocash.ErrNoteIntegrity),
		errors.Is(err, withdraw.ErrWitnessGeneration):
		return http.StatusBadRequest
	case errors.Is(err, pool.ErrNullifierSpent), errors.Is(err, pool.ErrWithdrawalInProgress):
		return http.StatusConflict
	case errors.Is(err, merkle.ErrTreeFull):
		return http.StatusInsufficientStorage
	case errors.Is(err, pool.ErrNotReady), errors.Is(err, pool.ErrArtifactUnavailable),
		errors.Is(err, withdraw.ErrMissingArtifacts):
		return http.StatusServiceUnavailable
	case errors.Is(err, withdraw.ErrVerificationFailure):
		return http.StatusUnprocessableEntity
	case errors.Is(err, pool.ErrSubmission):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func (s *Server) fail(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.log.Error("request failed", zap.String("route", c.FullPath()), zap.Error(err))
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func (s *Server) handleHealth(c *gin.Context) {
	h := s.health.CheckHealth(c.Request.Context())
	status := http.StatusOK
	if h.Status == Unhealthy {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, h)
}

func (s *Server) handlePools(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"pools": s.engine.Pools()})
}

func (s *Server) handleStats(c *gin.Context) {
	st, err := s.engine.PoolStats(c.Param("token"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

type depositRequest struct {
	Amount string `json:"amount" binding:"required"`
}

type depositResponse struct {
	Note       string `json:"note"`
	Commitment string `json:"commitment"`
	LeafIndex  uint64 `json:"leafIndex"`
}

func (s *Server) handleDeposit(c *gin.Context) {
	var req depositRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid amount", "details": err.Error()})
		return
	}
	encoded, note, err := s.engine.Deposit(c.Request.Context(), c.Param("token"), amount)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, depositResponse{
		Note:       encoded,
		Commitment: note.Commitment.Hex(),
		LeafIndex:  *note.LeafIndex,
	})
}

type withdrawRequest struct {
	Note      string `json:"note" binding:"required"`
	Recipient string `json:"recipient" binding:"required"`
	Relayer   string `json:"relayer"`
	Fee       string `json:"fee"`
	Refund    string `json:"refund"`
}

type withdrawResponse struct {
	RequestID     string `json:"requestId"`
	TxID          string `json:"txId"`
	NullifierHash string `json:"nullifierHash"`
	Proof         string `json:"proof"`
	Mode          string `json:"mode"`
	Verified      bool   `json:"verified"`
}

func parseAddress(name, s string) (common.Address, error) {
	if s == "" {
		return common.Address{}, nil
	}
	if !common.IsHexAddress(s) {
		return common.Address{}, errors.Wrapf(pool.ErrInputValidation, "%s %q is not an address", name, s)
	}
	return common.HexToAddress(s), nil
}

func parseAmount(name, s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, errors.Wrapf(pool.ErrInputValidation, "%s: %v", name, err)
	}
	return d, nil
}

func (s *Server) handleWithdraw(c *gin.Context) {
	var body withdrawRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
		return
	}
	req := pool.WithdrawRequest{EncodedNote: body.Note}
	var err error
	if req.Recipient, err = parseAddress("recipient", body.Recipient); err != nil {
		s.fail(c, err)
		return
	}
	if req.Relayer, err = parseAddress("relayer", body.Relayer); err != nil {
		s.fail(c, err)
		return
	}
	if req.Fee, err = parseAmount("fee", body.Fee); err != nil {
		s.fail(c, err)
		return
	}
	if req.Refund, err = parseAmount("refund", body.Refund); err != nil {
		s.fail(c, err)
		return
	}

	p, err := s.engine.Pool(c.Param("token"))
	if err != nil {
		s.fail(c, err)
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), s.timeout)
	defer cancel()
	res, err := p.Withdraw(ctx, req)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, withdrawResponse{
		RequestID:     res.RequestID,
		TxID:          res.TxID,
		NullifierHash: res.NullifierHash.Hex(),
		Proof:         hexutil.Encode(res.SerializedProof),
		Mode:          res.Mode,
		Verified:      res.Verified,
	})
}

type verifyNoteRequest struct {
	Note string `json:"note" binding:"required"`
}

func (s *Server) handleVerifyNote(c *gin.Context) {
	var req verifyNoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
		return
	}
	ok, err := s.engine.VerifyNote(req.Note)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"valid": ok})
}

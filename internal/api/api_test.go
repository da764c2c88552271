package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"shieldedpool/internal/metrics"
	"shieldedpool/internal/pool"
	"shieldedpool/internal/poseidon"
	"shieldedpool/internal/zerocash"
)

const recipient = "0x1111111111111111111111111111111111111111"

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestServer(t *testing.T, limiter *ClientLimiter) (http.Handler, *metrics.Metrics) {
	t.Helper()
	h := poseidon.NewNative()
	m := metrics.New(prometheus.NewRegistry())
	chain := &pool.LedgerSubmitter{Ledger: zerocash.NewLedger()}
	p, err := pool.New(pool.Config{
		Token:          "ETH",
		Depth:          4,
		MinDeposit:     decimal.RequireFromString("0.1"),
		MaxDeposit:     decimal.NewFromInt(10),
		AllowSimulated: true,
	}, pool.Deps{
		Hasher:    h,
		Scheme:    zerocash.NewDeterministicScheme(h, []byte(t.Name())),
		Submitter: chain,
		Recorder:  m,
		Observer:  m,
	})
	require.NoError(t, err)
	e := pool.NewEngine(nil)
	require.NoError(t, e.AddPool(p))
	require.NoError(t, e.Initialize(context.Background()))
	chain.Roots = e
	chain.Verifiers = e

	s := NewServer(e, Options{Metrics: m, Limiter: limiter})
	return s.Router(), m
}

func do(t *testing.T, h http.Handler, method, path string, body interface{}) (int, map[string]interface{}) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	h.ServeHTTP(rec, req)
	out := map[string]interface{}{}
	_ = json.Unmarshal(rec.Body.Bytes(), &out)
	return rec.Code, out
}

func TestDepositWithdrawFlow(t *testing.T) {
	h, _ := newTestServer(t, nil)

	code, dep := do(t, h, http.MethodPost, "/pools/ETH/deposit", gin.H{"amount": "1.5"})
	require.Equal(t, http.StatusOK, code, dep)
	note := dep["note"].(string)
	require.Equal(t, 0.0, dep["leafIndex"])

	code, v := do(t, h, http.MethodPost, "/notes/verify", gin.H{"note": note})
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, true, v["valid"])

	code, w := do(t, h, http.MethodPost, "/pools/ETH/withdraw", gin.H{
		"note": note, "recipient": recipient, "fee": "0.1",
	})
	require.Equal(t, http.StatusOK, code, w)
	require.Equal(t, "simulated", w["mode"])
	require.NotEmpty(t, w["txId"])
	require.Len(t, w["proof"].(string), 2+2*448)

	code, w = do(t, h, http.MethodPost, "/pools/ETH/withdraw", gin.H{"note": note, "recipient": recipient})
	require.Equal(t, http.StatusConflict, code, w)

	code, st := do(t, h, http.MethodGet, "/pools/ETH/stats", nil)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, 1.0, st["leafCount"])
	require.Equal(t, 1.0, st["spentCount"])
}

func TestErrorMapping(t *testing.T) {
	h, _ := newTestServer(t, nil)
	_, dep := do(t, h, http.MethodPost, "/pools/ETH/deposit", gin.H{"amount": "1"})
	note := dep["note"].(string)

	cases := []struct {
		name, method, path string
		body               interface{}
		want               int
	}{
		{"unknown pool", http.MethodPost, "/pools/DAI/deposit", gin.H{"amount": "1"}, http.StatusNotFound},
		{"missing amount", http.MethodPost, "/pools/ETH/deposit", gin.H{}, http.StatusBadRequest},
		{"bad amount", http.MethodPost, "/pools/ETH/deposit", gin.H{"amount": "lots"}, http.StatusBadRequest},
		{"below minimum", http.MethodPost, "/pools/ETH/deposit", gin.H{"amount": "0.01"}, http.StatusBadRequest},
		{"bad note", http.MethodPost, "/pools/ETH/withdraw", gin.H{"note": "zcnote-v1-!!", "recipient": recipient}, http.StatusBadRequest},
		{"bad recipient", http.MethodPost, "/pools/ETH/withdraw", gin.H{"note": note, "recipient": "bob"}, http.StatusBadRequest},
		{"bad fee", http.MethodPost, "/pools/ETH/withdraw", gin.H{"note": note, "recipient": recipient, "fee": "x"}, http.StatusBadRequest},
		{"fee above amount", http.MethodPost, "/pools/ETH/withdraw", gin.H{"note": note, "recipient": recipient, "fee": "2"}, http.StatusBadRequest},
		{"stats unknown", http.MethodGet, "/pools/DAI/stats", nil, http.StatusNotFound},
		{"verify garbage", http.MethodPost, "/notes/verify", gin.H{"note": "garbage"}, http.StatusBadRequest},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			code, body := do(t, h, c.method, c.path, c.body)
			require.Equal(t, c.want, code, body)
			require.NotEmpty(t, body["error"])
		})
	}
}

func TestStatusFor(t *testing.T) {
	require.Equal(t, http.StatusConflict, statusFor(errors.Wrap(pool.ErrNullifierSpent, "x")))
	require.Equal(t, http.StatusBadGateway, statusFor(errors.Wrap(pool.ErrSubmission, "x")))
	require.Equal(t, http.StatusServiceUnavailable, statusFor(pool.ErrArtifactUnavailable))
	require.Equal(t, http.StatusGatewayTimeout, statusFor(context.DeadlineExceeded))
	require.Equal(t, http.StatusInternalServerError, statusFor(errors.New("boom")))
}

func TestHealthAndMetrics(t *testing.T) {
	h, _ := newTestServer(t, nil)
	code, body := do(t, h, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, string(Degraded), body["status"])

	_, _ = do(t, h, http.MethodPost, "/pools/ETH/deposit", gin.H{"amount": "1"})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `shieldedpool_deposits_total{token="ETH"} 1`)
	require.Contains(t, rec.Body.String(), `shieldedpool_simulated_mode{token="ETH"} 1`)

	code, list := do(t, h, http.MethodGet, "/pools", nil)
	require.Equal(t, http.StatusOK, code)
	require.Len(t, list["pools"], 1)
}

func TestRateLimit(t *testing.T) {
	h, _ := newTestServer(t, NewClientLimiter(0.001, 2))
	for i := 0; i < 2; i++ {
		code, _ := do(t, h, http.MethodPost, "/pools/ETH/deposit", gin.H{"amount": "1"})
		require.Equal(t, http.StatusOK, code)
	}
	code, _ := do(t, h, http.MethodPost, "/pools/ETH/deposit", gin.H{"amount": "1"})
	require.Equal(t, http.StatusTooManyRequests, code)

	code, _ = do(t, h, http.MethodGet, "/pools/ETH/stats", nil)
	require.Equal(t, http.StatusOK, code, "reads are not limited")

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Contains(t, rec.Body.String(), "shieldedpool_http_rate_limited_total 1")
}

func TestClientLimiter(t *testing.T) {
	now := time.Unix(1000, 0)
	cl := NewClientLimiter(1, 1)
	cl.now = func() time.Time { return now }

	require.True(t, cl.Allow("a"))
	require.False(t, cl.Allow("a"))
	require.True(t, cl.Allow("b"))

	now = now.Add(time.Second)
	require.True(t, cl.Allow("a"))

	cl.Reset("a")
	require.True(t, cl.Allow("a"))

	now = now.Add(time.Hour)
	require.True(t, cl.Allow("c"))
	require.Equal(t, 1, cl.Len())

	unlimited := NewClientLimiter(0, 0)
	for i := 0; i < 100; i++ {
		require.True(t, unlimited.Allow("x"))
	}
}

func TestHealthChecker(t *testing.T) {
	hc := NewHealthChecker("v1")
	hc.Register("db", func(context.Context) error { return nil })
	require.Equal(t, Healthy, hc.CheckHealth(context.Background()).Status)

	hc.Register("relay", func(context.Context) error { return DegradedError{Reason: "slow"} })
	require.Equal(t, Degraded, hc.CheckHealth(context.Background()).Status)

	hc.Register("artifacts", func(context.Context) error { return errors.New("missing") })
	h := hc.CheckHealth(context.Background())
	require.Equal(t, Unhealthy, h.Status)
	require.Len(t, h.Components, 3)
	require.Equal(t, "artifacts", h.Components[0].Name)
}

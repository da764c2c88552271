package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"shieldedpool/internal/pool"
	"shieldedpool/internal/transactions/withdraw"
)

var (
	_ pool.Recorder     = (*Metrics)(nil)
	_ withdraw.Observer = (*Metrics)(nil)
)

func TestRecorder(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.Deposit("ETH")
	m.Deposit("ETH")
	m.Withdrawal("ETH", "ok")
	m.Withdrawal("ETH", "double_spend")
	m.TreeSize("ETH", 7)
	m.ProverMode("ETH", withdraw.ModeSimulated)
	m.ProverMode("DAI", withdraw.ModeGroth16)

	require.Equal(t, 2.0, testutil.ToFloat64(m.Deposits.WithLabelValues("ETH")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.Withdrawals.WithLabelValues("ETH", "double_spend")))
	require.Equal(t, 7.0, testutil.ToFloat64(m.TreeLeaves.WithLabelValues("ETH")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.SimulatedMode.WithLabelValues("ETH")))
	require.Equal(t, 0.0, testutil.ToFloat64(m.SimulatedMode.WithLabelValues("DAI")))
}

func TestObserver(t *testing.T) {
	m := New(nil)
	m.ObserveProve(withdraw.ModeGroth16, time.Second, nil)
	m.ObserveProve(withdraw.ModeGroth16, time.Second, errors.New("boom"))
	m.ObserveVerify(withdraw.ModeGroth16, time.Millisecond, false, nil)

	require.Equal(t, 1, testutil.CollectAndCount(m.ProveDuration))
	require.Equal(t, 1.0, testutil.ToFloat64(m.ProofFailures.WithLabelValues("prove", withdraw.ModeGroth16)))
	require.Equal(t, 1, testutil.CollectAndCount(m.VerifyDuration))
}

func TestHandler(t *testing.T) {
	m := New(nil)
	m.Deposit("ETH")
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	require.Contains(t, string(body), `shieldedpool_deposits_total{token="ETH"} 1`)
}

package metrics

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lidofinance/csm-rewards/distribution"
	"github.com/lidofinance/csm-rewards/rewards"
)

func TestObserveTree(t *testing.T) {
	m := NewCheck()
	tree, err := rewards.New([]rewards.Reward{rewards.NewReward(1, 100), rewards.NewReward(2, 50)})
	require.NoError(t, err)

	m.ObserveTree(RoundCurrent, tree)
	assert.Equal(t, 150.0, testutil.ToFloat64(m.totalShares.WithLabelValues(RoundCurrent)))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.operators.WithLabelValues(RoundCurrent)))
}

func TestObserveReport(t *testing.T) {
	m := NewCheck()
	m.ObserveReport(&distribution.Report{Violations: []distribution.Violation{
		{Kind: distribution.ErrOperatorDropped, OperatorID: 1},
		{Kind: distribution.ErrOperatorDropped, OperatorID: 2},
		{Kind: distribution.ErrSharesDecreased, OperatorID: 3},
	}})

	assert.Equal(t, 2.0, testutil.ToFloat64(m.violations.WithLabelValues("operator_dropped")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.violations.WithLabelValues("shares_decreased")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.violations.WithLabelValues("distribution_mismatch")))
}

func TestFinishAndTextfile(t *testing.T) {
	m := NewCheck()
	m.Finish(true, time.Unix(1_700_000_000, 0))

	path := filepath.Join(t.TempDir(), "csm.prom")
	require.NoError(t, m.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	s := string(data)
	assert.Contains(t, s, "csm_check_success 1\n")
	assert.Contains(t, s, "csm_check_last_run_timestamp_seconds 1.7e+09\n")
	assert.Contains(t, s, `csm_check_violations{kind="shares_decreased"} 0`)

	m.Finish(false, time.Unix(1_700_000_000, 0))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.success))
}

func TestViolationKind(t *testing.T) {
	v := distribution.Violation{Kind: distribution.ErrDistributionMismatch}
	assert.Equal(t, "distribution_mismatch", ViolationKind(v))
	assert.Equal(t, "other", ViolationKind(errors.New("x")))
}

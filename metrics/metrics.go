// Package metrics records the outcome of distribution checks as Prometheus
// gauges. The check runs as a one-shot job, so the metrics are written to a
// node_exporter textfile rather than served.
package metrics

import (
	"errors"
	"math/big"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/lidofinance/csm-rewards/distribution"
	"github.com/lidofinance/csm-rewards/rewards"
)

// Namespace prefixes every metric name.
const Namespace = "csm"

// Round labels.
const (
	RoundCurrent  = "current"
	RoundPrevious = "previous"
)

var violationKinds = map[error]string{
	distribution.ErrDistributionMismatch: "distribution_mismatch",
	distribution.ErrOperatorDropped:      "operator_dropped",
	distribution.ErrSharesDecreased:      "shares_decreased",
}

// Check holds the gauges of a single check run on a private registry.
type Check struct {
	registry    *prometheus.Registry
	success     prometheus.Gauge
	violations  *prometheus.GaugeVec
	totalShares *prometheus.GaugeVec
	operators   *prometheus.GaugeVec
	lastRun     prometheus.Gauge
}

// NewCheck creates and registers the check gauges.
func NewCheck() *Check {
	m := &Check{
		registry: prometheus.NewRegistry(),
		success: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace, Subsystem: "check", Name: "success",
			Help: "1 if the last distribution check passed, 0 otherwise.",
		}),
		violations: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: Namespace, Subsystem: "check", Name: "violations",
			Help: "Number of violations found by the last check, by kind.",
		}, []string{"kind"}),
		totalShares: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: Namespace, Subsystem: "tree", Name: "total_shares",
			Help: "Sum of cumulative fee shares in the reward tree.",
		}, []string{"round"}),
		operators: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: Namespace, Subsystem: "tree", Name: "operators",
			Help: "Number of node operators in the reward tree.",
		}, []string{"round"}),
		lastRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace, Subsystem: "check", Name: "last_run_timestamp_seconds",
			Help: "Unix time of the last check run.",
		}),
	}
	m.registry.MustRegister(m.success, m.violations, m.totalShares, m.operators, m.lastRun)
	for _, kind := range violationKinds {
		m.violations.WithLabelValues(kind).Set(0)
	}
	return m
}

// Registry exposes the private registry.
func (m *Check) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveTree records the size of a round's tree.
func (m *Check) ObserveTree(round string, t *rewards.Tree) {
	total, _ := new(big.Float).SetInt(t.TotalShares().ToBig()).Float64()
	m.totalShares.WithLabelValues(round).Set(total)
	m.operators.WithLabelValues(round).Set(float64(t.Operators()))
}

// ObserveReport counts the report's violations by kind.
func (m *Check) ObserveReport(r *distribution.Report) {
	counts := make(map[string]int, len(violationKinds))
	for _, v := range r.Violations {
		counts[ViolationKind(v)]++
	}
	for _, kind := range violationKinds {
		m.violations.WithLabelValues(kind).Set(float64(counts[kind]))
	}
}

// Finish records the outcome of the run.
func (m *Check) Finish(ok bool, at time.Time) {
	if ok {
		m.success.Set(1)
	} else {
		m.success.Set(0)
	}
	m.lastRun.Set(float64(at.Unix()))
}

// WriteTextfile writes all gauges in the text exposition format. The file is
// replaced atomically.
func (m *Check) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.registry)
}

// ViolationKind returns the label for err, or "other".
func ViolationKind(err error) string {
	for kind, label := range violationKinds {
		if errors.Is(err, kind) {
			return label
		}
	}
	return "other"
}

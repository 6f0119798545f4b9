package metrics

import (
	"math/big"

	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"cpamm/internal/amm"
)

const namespace = "cpamm"

// Metrics holds the journal replay counters and pool gauges.
type Metrics struct {
	OpsTotal    *prometheus.CounterVec
	Rejections  *prometheus.CounterVec
	Events      *prometheus.CounterVec
	SwapVolume  *prometheus.CounterVec
	Reserves    *prometheus.GaugeVec
	TotalShares *prometheus.GaugeVec
	AppliedOps  prometheus.Gauge
}

// New registers the collectors on reg. A nil reg uses a private registry so
// repeated construction in tests does not collide.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)

	return &Metrics{
		OpsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "journal",
				Name:      "operations_total",
				Help:      "Journal operations processed by kind and outcome",
			},
			[]string{"op", "status"},
		),
		Rejections: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "journal",
				Name:      "rejections_total",
				Help:      "Rejected journal operations by error code",
			},
			[]string{"op", "code"},
		),
		Events: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "pool",
				Name:      "events_total",
				Help:      "Pool events emitted",
			},
			[]string{"pool", "event"},
		),
		SwapVolume: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "pool",
				Name:      "swap_volume_total",
				Help:      "Swap input volume in base units",
			},
			[]string{"pool", "asset"},
		),
		Reserves: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "pool",
				Name:      "reserves",
				Help:      "Current pool reserves in base units",
			},
			[]string{"pool", "asset"},
		),
		TotalShares: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "pool",
				Name:      "total_shares",
				Help:      "Outstanding liquidity shares",
			},
			[]string{"pool"},
		),
		AppliedOps: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "journal",
				Name:      "applied_operations",
				Help:      "Journal operations consumed including rejected ones",
			},
		),
	}
}

// ObserveOperation counts a processed journal operation. An empty code means
// the pool accepted it.
func (m *Metrics) ObserveOperation(op, code string) {
	if m == nil {
		return
	}
	if code == "" {
		m.OpsTotal.WithLabelValues(op, "applied").Inc()
		return
	}
	m.OpsTotal.WithLabelValues(op, "rejected").Inc()
	m.Rejections.WithLabelValues(op, code).Inc()
}

func (m *Metrics) ObserveEvent(pool string, ev amm.Event) {
	if m == nil {
		return
	}
	m.Events.WithLabelValues(pool, ev.EventName()).Inc()
	if swap, ok := ev.(amm.Swap); ok {
		m.SwapVolume.WithLabelValues(pool, swap.AssetIn.String()).Add(Float(swap.AmountIn))
	}
}

// ObservePool publishes the committed books after a batch.
func (m *Metrics) ObservePool(pool string, st amm.State, appliedOps uint64) {
	if m == nil {
		return
	}
	m.Reserves.WithLabelValues(pool, amm.AssetA.String()).Set(Float(st.ReserveA))
	m.Reserves.WithLabelValues(pool, amm.AssetB.String()).Set(Float(st.ReserveB))
	m.TotalShares.WithLabelValues(pool).Set(Float(st.TotalShares))
	m.AppliedOps.Set(float64(appliedOps))
}

// Float converts a base-unit amount for a gauge. Precision loss above 2^53 is accepted.
func Float(v *uint256.Int) float64 {
	if v == nil {
		return 0
	}
	f, _ := new(big.Float).SetInt(v.ToBig()).Float64()
	return f
}

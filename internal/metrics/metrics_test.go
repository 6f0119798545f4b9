package metrics

import (
	"context"
	"testing"

	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"cpamm/internal/amm"
)

func TestMetricsRegisterOnPrivateRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.OpsTotal.WithLabelValues("swap_a_for_b", "applied").Inc()
	m.OpsTotal.WithLabelValues("swap_a_for_b", "applied").Inc()
	m.Reserves.WithLabelValues("0xpool", "A").Set(Float(uint256.NewInt(1500)))

	require.Equal(t, 2.0, testutil.ToFloat64(m.OpsTotal.WithLabelValues("swap_a_for_b", "applied")))
	require.Equal(t, 1500.0, testutil.ToFloat64(m.Reserves.WithLabelValues("0xpool", "A")))

	// A second set on a fresh registry must not panic on duplicate registration.
	require.NotPanics(t, func() { New(nil) })
}

func TestObserveHelpers(t *testing.T) {
	m := New(nil)
	m.ObserveOperation("swap_a_for_b", "")
	m.ObserveOperation("swap_a_for_b", "insufficient_liquidity")
	m.ObserveEvent("0xpool", amm.Swap{AssetIn: amm.AssetB, AmountIn: uint256.NewInt(25)})
	m.ObservePool("0xpool", amm.State{
		ReserveA:    uint256.NewInt(100),
		ReserveB:    uint256.NewInt(200),
		TotalShares: uint256.NewInt(141),
	}, 7)

	require.Equal(t, 1.0, testutil.ToFloat64(m.OpsTotal.WithLabelValues("swap_a_for_b", "rejected")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.Rejections.WithLabelValues("swap_a_for_b", "insufficient_liquidity")))
	require.Equal(t, 25.0, testutil.ToFloat64(m.SwapVolume.WithLabelValues("0xpool", "B")))
	require.Equal(t, 141.0, testutil.ToFloat64(m.TotalShares.WithLabelValues("0xpool")))
	require.Equal(t, 7.0, testutil.ToFloat64(m.AppliedOps))

	var disabled *Metrics
	require.NotPanics(t, func() { disabled.ObserveOperation("mint", "") })
}

func TestFloat(t *testing.T) {
	require.Equal(t, 0.0, Float(nil))
	require.Equal(t, 42.0, Float(uint256.NewInt(42)))
	require.InDelta(t, 1.157920892373162e77, Float(new(uint256.Int).SetAllOne()), 1e62)
}

func TestDisabledServer(t *testing.T) {
	s := NewServer("", nil)
	require.Nil(t, s)
	require.NoError(t, s.Start())
	require.NoError(t, s.Stop(context.Background()))
}

package model

import "time"

// PoolWindowMetrics stores aggregated metrics for a pool window.
type PoolWindowMetrics struct {
	PoolAddress     string
	WindowSizeSecs  int64
	WindowStart     time.Time
	WindowEnd       time.Time
	SwapCount       uint64
	LiquidityEvents uint64
	VolumeA         string
	VolumeB         string
	FeeA            string
	FeeB            string
	ReserveA        *string
	ReserveB        *string
	Price           *string
	FeeRateA        *string
	FeeRateB        *string
	APR             *string
	FeeMethod       string
}

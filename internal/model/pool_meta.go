package model

// PoolMeta captures the immutable pool configuration attached to events.
type PoolMeta struct {
	AssetA         string `json:"asset_a"`
	AssetB         string `json:"asset_b"`
	FeeNumerator   uint64 `json:"fee_numerator"`
	FeeDenominator uint64 `json:"fee_denominator"`
}

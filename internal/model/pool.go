package model

// Pool is the pool registration record for storage.
type Pool struct {
	Address        string `json:"address"`
	AssetA         string `json:"asset_a"`
	AssetB         string `json:"asset_b"`
	FeeNumerator   uint64 `json:"fee_numerator"`
	FeeDenominator uint64 `json:"fee_denominator"`
	PriceScale     string `json:"price_scale"`
	FirstSeenSeq   uint64 `json:"first_seen_seq"`
}

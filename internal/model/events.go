package model

// LiquidityAddedData is the decoded LiquidityAdded payload.
type LiquidityAddedData struct {
	Provider    string `json:"provider"`
	AmountA     string `json:"amount_a"`
	AmountB     string `json:"amount_b"`
	TotalShares string `json:"total_shares"`
}

// LiquidityRemovedData is the decoded LiquidityRemoved payload.
type LiquidityRemovedData struct {
	Provider    string `json:"provider"`
	AmountA     string `json:"amount_a"`
	AmountB     string `json:"amount_b"`
	TotalShares string `json:"total_shares"`
}

// SwapData is the decoded Swap payload. AssetIn is "A" or "B".
type SwapData struct {
	Trader    string `json:"trader"`
	AssetIn   string `json:"asset_in"`
	AmountIn  string `json:"amount_in"`
	AmountOut string `json:"amount_out"`
}

package model

// Operation kinds accepted in an operation journal.
const (
	OpMint            = "mint"
	OpApprove         = "approve"
	OpAddLiquidity    = "add_liquidity"
	OpRemoveLiquidity = "remove_liquidity"
	OpSwapAForB       = "swap_a_for_b"
	OpSwapBForA       = "swap_b_for_a"
)

// Operation is one line of an operation journal.
//
// Asset is "A", "B" or a hex address and is only read by mint and approve.
// Amount carries the mint or approve amount, the shares to remove, or the
// swap input; AmountA and AmountB carry a deposit.
type Operation struct {
	Op        string `json:"op"`
	Actor     string `json:"actor"`
	Asset     string `json:"asset,omitempty"`
	Spender   string `json:"spender,omitempty"`
	Amount    string `json:"amount,omitempty"`
	AmountA   string `json:"amount_a,omitempty"`
	AmountB   string `json:"amount_b,omitempty"`
	Timestamp uint64 `json:"ts,omitempty"`
}

// OperationError records a rejected journal operation.
type OperationError struct {
	OpIndex uint64 `json:"op_index"`
	Op      string `json:"op"`
	Actor   string `json:"actor,omitempty"`
	Code    string `json:"code"`
	Error   string `json:"error"`
}

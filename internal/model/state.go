package model

// PoolState is the persisted form of a pool's books.
type PoolState struct {
	Address     string         `json:"address"`
	ReserveA    string         `json:"reserve_a"`
	ReserveB    string         `json:"reserve_b"`
	TotalShares string         `json:"total_shares"`
	Seq         uint64         `json:"seq"`
	Shares      []ShareBalance `json:"shares"`
}

type ShareBalance struct {
	Provider string `json:"provider"`
	Shares   string `json:"shares"`
}

// LedgerState is the persisted form of the in-memory asset ledger.
type LedgerState struct {
	Balances   []LedgerBalance   `json:"balances"`
	Allowances []LedgerAllowance `json:"allowances,omitempty"`
}

type LedgerBalance struct {
	Asset  string `json:"asset"`
	Owner  string `json:"owner"`
	Amount string `json:"amount"`
}

type LedgerAllowance struct {
	Asset   string `json:"asset"`
	Owner   string `json:"owner"`
	Spender string `json:"spender"`
	Amount  string `json:"amount"`
}

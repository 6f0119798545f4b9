package model

// TokenMeta is the ERC20 metadata of a pool asset. Decimals scale window
// amounts; zero leaves them in base units.
type TokenMeta struct {
	Address  string `json:"address"`
	Decimals uint8  `json:"decimals"`
	Symbol   string `json:"symbol"`
	Name     string `json:"name"`
}

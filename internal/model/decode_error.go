package model

// DecodeError records a decode failure for a log line.
type DecodeError struct {
	Address string `json:"address"`
	Seq     uint64 `json:"seq"`
	OpIndex uint64 `json:"op_index"`
	Topic0  string `json:"topic0"`
	Error   string `json:"error"`
}

package model

// LogRecord is the EVM-style encoding of a pool event for storage.
type LogRecord struct {
	Address    string   `json:"address"`
	Seq        uint64   `json:"seq"`
	OpIndex    uint64   `json:"op_index"`
	Topics     []string `json:"topics"`
	Data       string   `json:"data"`
	Timestamp  uint64   `json:"timestamp"`
	IngestedAt string   `json:"ingested_at"`
}

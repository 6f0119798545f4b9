package model

// TypedEvent is a decoded pool event enriched with pool metadata.
type TypedEvent struct {
	Address   string      `json:"address"`
	Seq       uint64      `json:"seq"`
	OpIndex   uint64      `json:"op_index"`
	EventName string      `json:"event_name"`
	Timestamp uint64      `json:"timestamp"`
	Decoded   interface{} `json:"decoded"`
	PoolMeta  PoolMeta    `json:"pool_meta"`
	Raw       *RawLogRef  `json:"raw,omitempty"`
}

// RawLogRef keeps a minimal raw reference for traceability.
type RawLogRef struct {
	Topic0 string `json:"topic0"`
	Data   string `json:"data"`
}

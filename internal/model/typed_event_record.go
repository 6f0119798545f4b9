package model

import "encoding/json"

// TypedEventRecord is the JSON representation read back for aggregation.
type TypedEventRecord struct {
	Address   string          `json:"address"`
	Seq       uint64          `json:"seq"`
	OpIndex   uint64          `json:"op_index"`
	EventName string          `json:"event_name"`
	Timestamp uint64          `json:"timestamp"`
	Decoded   json.RawMessage `json:"decoded"`
	PoolMeta  PoolMeta        `json:"pool_meta"`
	Raw       *RawLogRef      `json:"raw,omitempty"`
}

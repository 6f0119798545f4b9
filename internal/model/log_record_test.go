package model

import (
	"encoding/json"
	"reflect"
	"testing"
)

func TestLogRecordJSONFieldNames(t *testing.T) {
	original := LogRecord{
		Address:    "0x9999999999999999999999999999999999999999",
		Seq:        3,
		OpIndex:    12,
		Topics:     []string{"0xaaa", "0xbbb"},
		Data:       "0xdeadbeef",
		Timestamp:  1700000000,
		IngestedAt: "2024-01-01T00:00:00Z",
	}

	b, err := json.Marshal(original)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	var fields map[string]interface{}
	if err := json.Unmarshal(b, &fields); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	for _, key := range []string{"address", "seq", "op_index", "topics", "data", "timestamp", "ingested_at"} {
		if _, ok := fields[key]; !ok {
			t.Fatalf("missing field %q in %s", key, b)
		}
	}

	var decoded LogRecord
	if err := json.Unmarshal(b, &decoded); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if !reflect.DeepEqual(original, decoded) {
		t.Fatalf("decoded mismatch: %+v != %+v", original, decoded)
	}
}

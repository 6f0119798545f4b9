package dex

import (
	"go.uber.org/zap"

	"cpamm/internal/model"
)

// Decoder defines a log decoder.
type Decoder interface {
	CanDecode(topic0 string) bool
	Decode(log model.LogRecord, ctx DecodeContext) (*model.TypedEvent, error)
}

// DecodeContext provides shared dependencies for decoders.
type DecodeContext struct {
	PoolMetaCache *PoolMetaCache
	Logger        *zap.Logger
}

package storage

import (
	"context"

	"cpamm/internal/model"
)

// Storage defines a sink for encoded pool event logs.
type Storage interface {
	PutLogBatch(ctx context.Context, logs []model.LogRecord) error
}

// ErrorSink records journal operations the pool rejected.
type ErrorSink interface {
	PutOperationErrors(ctx context.Context, errs []model.OperationError) error
}

// Multi fans a batch out to every sink in order and stops at the first error.
type Multi []Storage

func (m Multi) PutLogBatch(ctx context.Context, logs []model.LogRecord) error {
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.PutLogBatch(ctx, logs); err != nil {
			return err
		}
	}
	return nil
}

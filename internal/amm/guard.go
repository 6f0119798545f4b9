package amm

import "context"

type guardKey struct{}

// guardFrame links the pools whose operations are in progress on a call path.
type guardFrame struct {
	pool   *Pool
	parent *guardFrame
}

func activeOn(ctx context.Context, p *Pool) bool {
	frame, _ := ctx.Value(guardKey{}).(*guardFrame)
	for ; frame != nil; frame = frame.parent {
		if frame.pool == p {
			return true
		}
	}
	return false
}

// enter serialises mutating operations on p. The returned context marks p as
// busy; a collaborator that calls back into p with it gets ErrReentrantCall
// instead of deadlocking.
func (p *Pool) enter(ctx context.Context) (context.Context, func(), error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if activeOn(ctx, p) {
		return nil, nil, ErrReentrantCall
	}
	p.opMu.Lock()
	parent, _ := ctx.Value(guardKey{}).(*guardFrame)
	return context.WithValue(ctx, guardKey{}, &guardFrame{pool: p, parent: parent}), p.opMu.Unlock, nil
}

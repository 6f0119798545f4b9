package amm

import "errors"

// Rejected-operation errors. A pool operation that returns one of these has not
// changed any pool or ledger state, except ErrTransferFailed when its message
// reports a failed compensation: the legs that could not be reversed stay
// executed and a withdrawal is then committed.
var (
	ErrInvalidConfiguration        = errors.New("invalid configuration")
	ErrInvalidAmount               = errors.New("invalid amount")
	ErrInvalidAccount              = errors.New("invalid account")
	ErrRatioMismatch               = errors.New("ratio mismatch")
	ErrInsufficientSharesMinted    = errors.New("insufficient shares minted")
	ErrInsufficientShares          = errors.New("insufficient shares owned")
	ErrInsufficientLiquidity       = errors.New("insufficient liquidity")
	ErrInsufficientOutputLiquidity = errors.New("insufficient output liquidity")
	ErrInsufficientOutputAmount    = errors.New("insufficient output amount")
	ErrOverflow                    = errors.New("arithmetic overflow")
	ErrTransferFailed              = errors.New("asset transfer failed")
	ErrReentrantCall               = errors.New("reentrant call")
	ErrInvalidState                = errors.New("invalid pool state")
)

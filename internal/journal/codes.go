package journal

import (
	"context"
	"errors"

	"cpamm/internal/amm"
	"cpamm/internal/ledger"
)

// Checked in order; ErrTransferFailed wraps ledger errors and must win.
var errorCodes = []struct {
	err  error
	code string
}{
	{ErrInvalidOperation, "invalid_operation"},
	{amm.ErrInvalidAmount, "invalid_amount"},
	{amm.ErrRatioMismatch, "ratio_mismatch"},
	{amm.ErrInsufficientSharesMinted, "insufficient_shares_minted"},
	{amm.ErrInsufficientShares, "insufficient_shares"},
	{amm.ErrInsufficientLiquidity, "insufficient_liquidity"},
	{amm.ErrInsufficientOutputLiquidity, "insufficient_output_liquidity"},
	{amm.ErrInsufficientOutputAmount, "insufficient_output_amount"},
	{amm.ErrOverflow, "overflow"},
	{amm.ErrTransferFailed, "transfer_failed"},
	{amm.ErrReentrantCall, "reentrant_call"},
	{amm.ErrInvalidAccount, "invalid_account"},
	{ledger.ErrInvalidAddress, "invalid_address"},
	{ledger.ErrSupplyOverflow, "supply_overflow"},
	{ledger.ErrInsufficientBalance, "insufficient_balance"},
	{ledger.ErrInsufficientAllowance, "insufficient_allowance"},
}

// ErrorCode maps a rejected operation error to a stable code. Unknown errors
// yield "".
func ErrorCode(err error) string {
	for _, c := range errorCodes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return ""
}

// fatal reports errors that abort the replay instead of rejecting one
// operation.
func fatal(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || ErrorCode(err) == ""
}

// Package instruction implements the hypertree's L7 layer: opcode
// decoding and a dispatch table wiring pkg/market and pkg/globalacct
// together, per spec.md §6.1.
package instruction

import "errors"

// Opcode is the single leading byte of every instruction (spec.md
// §6.1).
type Opcode uint8

const (
	OpCreateMarket Opcode = iota
	OpClaimSeat
	OpDeposit
	OpWithdraw
	OpSwap
	OpExpand
	OpBatchUpdate
	OpGlobalCreate
	OpGlobalAddTrader
	OpGlobalDeposit
	OpGlobalWithdraw
	OpGlobalEvict
	OpGlobalClean
	OpSwapV2
)

var ErrShortBuffer = errors.New("instruction: payload shorter than its fixed fields")

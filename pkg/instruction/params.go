package instruction

import (
	"hypertree/pkg/codec"
	"hypertree/pkg/region"
)

// Option<BlockIndex> parameters (spec.md §6.1) are wire-encoded as a
// plain u32: region.NilIndex already is the glossary's NIL sentinel,
// so "absent" needs no separate presence byte.

func decodeHint(b []byte) region.BlockIndex {
	return region.BlockIndex(codec.GetUint32(b))
}

func encodeHint(b []byte, idx region.BlockIndex) {
	codec.PutUint32(b, uint32(idx))
}

// DepositParams decodes opcode 2 (`{amount: u64, seat_hint:
// Option<BlockIndex>}`). IsBase records which vault the host routed
// the transfer through (spec.md §6.1 models this as an account input,
// not a wire field; the decoder folds it in since this engine has no
// raw account list to inspect).
type DepositParams struct {
	Amount   uint64
	SeatHint region.BlockIndex
	IsBase   bool
}

const depositParamsSize = 8 + 4 + 1

func DecodeDepositParams(b []byte) (DepositParams, error) {
	if len(b) < depositParamsSize {
		return DepositParams{}, ErrShortBuffer
	}
	return DepositParams{
		Amount:   codec.GetUint64(b[0:]),
		SeatHint: decodeHint(b[8:]),
		IsBase:   b[12] != 0,
	}, nil
}

// WithdrawParams decodes opcode 3, same shape as Deposit.
type WithdrawParams = DepositParams

func DecodeWithdrawParams(b []byte) (WithdrawParams, error) { return DecodeDepositParams(b) }

// SwapParams decodes opcode 4 (`{in_atoms: u64, out_atoms: u64,
// is_base_in: bool, is_exact_in: bool}`).
type SwapParams struct {
	InAtoms   uint64
	OutAtoms  uint64
	IsBaseIn  bool
	IsExactIn bool
}

const swapParamsSize = 8 + 8 + 1 + 1

func DecodeSwapParams(b []byte) (SwapParams, error) {
	if len(b) < swapParamsSize {
		return SwapParams{}, ErrShortBuffer
	}
	return SwapParams{
		InAtoms:   codec.GetUint64(b[0:]),
		OutAtoms:  codec.GetUint64(b[8:]),
		IsBaseIn:  b[16] != 0,
		IsExactIn: b[17] != 0,
	}, nil
}

// ExpandParams decodes opcode 5 (`append one block of free space`,
// generalized to n blocks so a single instruction can grant more than
// one at a time).
type ExpandParams struct {
	Blocks uint32
}

func DecodeExpandParams(b []byte) (ExpandParams, error) {
	if len(b) < 4 {
		return ExpandParams{}, ErrShortBuffer
	}
	return ExpandParams{Blocks: codec.GetUint32(b[0:])}, nil
}

// PlaceOrderParams decodes spec.md §6.1's `PlaceOrder` shape:
// `{base_atoms: u64, price_mantissa: u32, price_exponent: i8,
// is_bid: bool, last_valid_slot: u32, order_type: u8,
// reverse_spread_bps: u16}`.
type PlaceOrderParams struct {
	BaseAtoms        uint64
	PriceMantissa    uint32
	PriceExponent    int8
	IsBid            bool
	LastValidSlot    uint32
	OrderType        uint8
	ReverseSpreadBps uint16
}

const placeOrderParamsSize = 8 + 4 + 1 + 1 + 4 + 1 + 2

func DecodePlaceOrderParams(b []byte) (PlaceOrderParams, error) {
	if len(b) < placeOrderParamsSize {
		return PlaceOrderParams{}, ErrShortBuffer
	}
	return PlaceOrderParams{
		BaseAtoms:        codec.GetUint64(b[0:]),
		PriceMantissa:    codec.GetUint32(b[8:]),
		PriceExponent:    int8(b[12]),
		IsBid:            b[13] != 0,
		LastValidSlot:    codec.GetUint32(b[14:]),
		OrderType:        b[18],
		ReverseSpreadBps: codec.GetUint16(b[19:]),
	}, nil
}

func encodePlaceOrderParams(b []byte, p PlaceOrderParams) {
	codec.PutUint64(b[0:], p.BaseAtoms)
	codec.PutUint32(b[8:], p.PriceMantissa)
	b[12] = byte(p.PriceExponent)
	if p.IsBid {
		b[13] = 1
	}
	codec.PutUint32(b[14:], p.LastValidSlot)
	b[18] = p.OrderType
	codec.PutUint16(b[19:], p.ReverseSpreadBps)
}

// EncodePlaceOrderParams is the BatchUpdate encoder's counterpart to
// DecodePlaceOrderParams, exported for callers building instruction
// payloads (tests, client SDK equivalents).
func EncodePlaceOrderParams(p PlaceOrderParams) []byte {
	b := make([]byte, placeOrderParamsSize)
	encodePlaceOrderParams(b, p)
	return b
}

// CancelParams decodes one entry of BatchUpdate's cancel vector:
// `{order_seq: u64, hint: Option<BlockIndex>}` — no side field; the
// hint (or, failing that, a scan of both book sides) resolves it.
type CancelParams struct {
	OrderSeq uint64
	Hint     region.BlockIndex
}

const cancelParamsSize = 8 + 4

func decodeCancelParams(b []byte) (CancelParams, error) {
	if len(b) < cancelParamsSize {
		return CancelParams{}, ErrShortBuffer
	}
	return CancelParams{
		OrderSeq: codec.GetUint64(b[0:]),
		Hint:     decodeHint(b[8:]),
	}, nil
}

func encodeCancelParams(b []byte, c CancelParams) {
	codec.PutUint64(b[0:], c.OrderSeq)
	encodeHint(b[8:], c.Hint)
}

// BatchUpdateParams decodes opcode 6: `{seat_hint: Option<BlockIndex>,
// cancels: Vec<CancelParams>, orders: Vec<PlaceOrder>}`, both vectors
// length-prefixed by a u32 element count.
type BatchUpdateParams struct {
	SeatHint region.BlockIndex
	Cancels  []CancelParams
	Orders   []PlaceOrderParams
}

func DecodeBatchUpdateParams(b []byte) (BatchUpdateParams, error) {
	if len(b) < 4 {
		return BatchUpdateParams{}, ErrShortBuffer
	}
	p := BatchUpdateParams{SeatHint: decodeHint(b[0:])}
	off := 4

	n, off2, err := readCount(b, off)
	if err != nil {
		return BatchUpdateParams{}, err
	}
	off = off2
	p.Cancels = make([]CancelParams, 0, n)
	for i := uint32(0); i < n; i++ {
		if len(b) < off+cancelParamsSize {
			return BatchUpdateParams{}, ErrShortBuffer
		}
		c, err := decodeCancelParams(b[off:])
		if err != nil {
			return BatchUpdateParams{}, err
		}
		p.Cancels = append(p.Cancels, c)
		off += cancelParamsSize
	}

	n, off2, err = readCount(b, off)
	if err != nil {
		return BatchUpdateParams{}, err
	}
	off = off2
	p.Orders = make([]PlaceOrderParams, 0, n)
	for i := uint32(0); i < n; i++ {
		if len(b) < off+placeOrderParamsSize {
			return BatchUpdateParams{}, ErrShortBuffer
		}
		o, err := DecodePlaceOrderParams(b[off:])
		if err != nil {
			return BatchUpdateParams{}, err
		}
		p.Orders = append(p.Orders, o)
		off += placeOrderParamsSize
	}

	return p, nil
}

// EncodeBatchUpdateParams is DecodeBatchUpdateParams's inverse,
// exported for tests and client-side payload construction.
func EncodeBatchUpdateParams(p BatchUpdateParams) []byte {
	size := 4 + 4 + len(p.Cancels)*cancelParamsSize + 4 + len(p.Orders)*placeOrderParamsSize
	b := make([]byte, size)
	encodeHint(b[0:], p.SeatHint)
	off := 4
	codec.PutUint32(b[off:], uint32(len(p.Cancels)))
	off += 4
	for _, c := range p.Cancels {
		encodeCancelParams(b[off:], c)
		off += cancelParamsSize
	}
	codec.PutUint32(b[off:], uint32(len(p.Orders)))
	off += 4
	for _, o := range p.Orders {
		encodePlaceOrderParams(b[off:], o)
		off += placeOrderParamsSize
	}
	return b
}

func readCount(b []byte, off int) (uint32, int, error) {
	if len(b) < off+4 {
		return 0, 0, ErrShortBuffer
	}
	return codec.GetUint32(b[off:]), off + 4, nil
}

// AmountParams decodes the single-field global opcodes (GlobalDeposit,
// GlobalWithdraw: `{amount: u64}`).
type AmountParams struct {
	Amount uint64
}

func DecodeAmountParams(b []byte) (AmountParams, error) {
	if len(b) < 8 {
		return AmountParams{}, ErrShortBuffer
	}
	return AmountParams{Amount: codec.GetUint64(b[0:])}, nil
}

// GlobalCreateParams decodes opcode 7: the mint identity and bounded
// membership capacity for a new global account.
type GlobalCreateParams struct {
	Mint     [32]byte
	Capacity uint32
}

func DecodeGlobalCreateParams(b []byte) (GlobalCreateParams, error) {
	if len(b) < 36 {
		return GlobalCreateParams{}, ErrShortBuffer
	}
	var p GlobalCreateParams
	copy(p.Mint[:], b[0:32])
	p.Capacity = codec.GetUint32(b[32:])
	return p, nil
}

// GlobalCleanParams decodes opcode 12: the targeted Global order's
// OrderSeq plus an optional block-index hint, same shape as
// CancelParams.
type GlobalCleanParams = CancelParams

func DecodeGlobalCleanParams(b []byte) (GlobalCleanParams, error) { return decodeCancelParams(b) }


package market

import "hypertree/pkg/region"

// MintID stands in for the host chain's mint/token identifier; opaque
// to the engine beyond equality and the byte identity spec.md §6.2
// requires for persistence.
type MintID [32]byte

// Header holds the fixed, little-endian-persisted fields described in
// spec.md §3.2 MarketHeader. It is deliberately a plain Go struct
// rather than a byte-offset view: the engine operates on it in
// memory and a thin codec (not included here, since spec.md explicitly
// scopes the host's account-byte boundary out of the core) would
// flatten it to the 256-byte on-disk layout.
type Header struct {
	Discriminant uint8

	BaseMint, QuoteMint   MintID
	BaseVault, QuoteVault MintID
	BaseVaultBump         uint8
	QuoteVaultBump        uint8
	BaseDecimals          uint8
	QuoteDecimals         uint8

	NextOrderSeq OrderSeq

	BidsRoot, AsksRoot, SeatsRoot region.BlockIndex
	BidsBest, AsksBest            region.BlockIndex
	FreeListHead                  region.BlockIndex

	CumulativeQuoteVolume uint64
}

// NewHeader returns a header for a freshly created market, with all
// tree roots nil (spec.md §6.1 CreateMarket).
func NewHeader(baseMint, quoteMint, baseVault, quoteVault MintID, baseDecimals, quoteDecimals uint8) Header {
	return Header{
		Discriminant:   1,
		BaseMint:       baseMint,
		QuoteMint:      quoteMint,
		BaseVault:      baseVault,
		QuoteVault:     quoteVault,
		BaseDecimals:   baseDecimals,
		QuoteDecimals:  quoteDecimals,
		NextOrderSeq:   0,
		BidsRoot:       region.NilIndex,
		AsksRoot:       region.NilIndex,
		SeatsRoot:      region.NilIndex,
		BidsBest:       region.NilIndex,
		AsksBest:       region.NilIndex,
		FreeListHead:   region.NilIndex,
	}
}

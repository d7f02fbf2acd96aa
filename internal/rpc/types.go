package rpc

import "hypertree/pkg/codec"

type GetMarketRequest struct{}

type GetMarketResponse struct {
	BaseMint      [32]byte
	QuoteMint     [32]byte
	BaseDecimals  uint8
	QuoteDecimals uint8
	BestBidPrice  codec.Price
	BestAskPrice  codec.Price
	HasBid        bool
	HasAsk        bool
}

type GetOrderRequest struct {
	Seq uint64
}

type GetOrderResponse struct {
	Found     bool
	Side      uint8
	BaseAtoms uint64
	Price     codec.Price
	OrderType uint8
}

type StreamFillsRequest struct{}

type FillEvent struct {
	TakerSeq   uint64
	MakerSeq   uint64
	MakerSide  uint8
	BaseAtoms  uint64
	QuoteAtoms uint64
	MakerPrice codec.Price
}

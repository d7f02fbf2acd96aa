package rpc

import (
	"context"
	"sync"

	"hypertree/internal/telemetry"
	"hypertree/pkg/market"

	"google.golang.org/grpc"
)

// QueryServer answers read-only questions about one market: its
// header, one order's resting state, and a live tap of its fills.
// It never mutates the market — placing and cancelling orders is the
// instruction-dispatch layer's job (pkg/instruction), not this
// service's.
type QueryServer struct {
	mu     sync.RWMutex
	market *market.Market
	log    *telemetry.Logger

	subMu sync.Mutex
	subs  map[chan FillEvent]struct{}
}

func NewQueryServer(m *market.Market) *QueryServer {
	return &QueryServer{
		market: m,
		log:    telemetry.New("rpc"),
		subs:   make(map[chan FillEvent]struct{}),
	}
}

// Publish fans fills out to every active StreamFills subscriber. The
// match loop (pkg/market) has no gRPC dependency of its own; a caller
// holding the Fills that Place returns passes them here. cmd/engine
// does not call Publish, so StreamFills carries only fills published
// by some other caller.
func (s *QueryServer) Publish(fills []market.Fill) {
	if len(fills) == 0 {
		return
	}
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, f := range fills {
		ev := FillEvent{
			TakerSeq:   uint64(f.TakerSeq),
			MakerSeq:   uint64(f.MakerSeq),
			MakerSide:  uint8(f.MakerSide),
			BaseAtoms:  f.BaseAtoms,
			QuoteAtoms: f.QuoteAtoms,
			MakerPrice: f.MakerPrice,
		}
		for ch := range s.subs {
			select {
			case ch <- ev:
			default:
				s.log.Printf("dropping fill for slow subscriber")
			}
		}
	}
}

func (s *QueryServer) GetMarket(ctx context.Context, req *GetMarketRequest) (*GetMarketResponse, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	h := s.market.Header
	resp := &GetMarketResponse{
		BaseMint:      h.BaseMint,
		QuoteMint:     h.QuoteMint,
		BaseDecimals:  h.BaseDecimals,
		QuoteDecimals: h.QuoteDecimals,
	}

	if bid := s.market.BestBid(); !bid.IsNil() {
		resp.HasBid = true
		resp.BestBidPrice = s.market.Order(bid).Price
	}
	if ask := s.market.BestAsk(); !ask.IsNil() {
		resp.HasAsk = true
		resp.BestAskPrice = s.market.Order(ask).Price
	}
	return resp, nil
}

func (s *QueryServer) GetOrder(ctx context.Context, req *GetOrderRequest) (*GetOrderResponse, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	side, idx, err := s.market.FindOrderAnySide(market.OrderSeq(req.Seq))
	if err != nil {
		return &GetOrderResponse{Found: false}, nil
	}
	o := s.market.Order(idx)
	return &GetOrderResponse{
		Found:     true,
		Side:      uint8(side),
		BaseAtoms: o.BaseAtoms,
		Price:     o.Price,
		OrderType: uint8(o.Type),
	}, nil
}

// StreamFills is a hand-rolled server-streaming RPC: every fill
// Publish receives while this stream is open is forwarded, in order,
// until the client disconnects.
func (s *QueryServer) StreamFills(req *StreamFillsRequest, stream grpc.ServerStream) error {
	ch := make(chan FillEvent, 256)
	s.subMu.Lock()
	s.subs[ch] = struct{}{}
	s.subMu.Unlock()
	defer func() {
		s.subMu.Lock()
		delete(s.subs, ch)
		s.subMu.Unlock()
	}()

	ctx := stream.Context()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-ch:
			if err := stream.SendMsg(&ev); err != nil {
				return err
			}
		}
	}
}

func handleGetMarket(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(GetMarketRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(*QueryServer).GetMarket(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/hypertree.Query/GetMarket"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(*QueryServer).GetMarket(ctx, req.(*GetMarketRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func handleGetOrder(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(GetOrderRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(*QueryServer).GetOrder(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/hypertree.Query/GetOrder"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(*QueryServer).GetOrder(ctx, req.(*GetOrderRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func handleStreamFills(srv any, stream grpc.ServerStream) error {
	req := new(StreamFillsRequest)
	if err := stream.RecvMsg(req); err != nil {
		return err
	}
	return srv.(*QueryServer).StreamFills(req, stream)
}

// ServiceDesc is the hand-written stand-in for the code protoc-gen-go
// would otherwise emit from a .proto file.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: "hypertree.Query",
	HandlerType: (*QueryServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetMarket", Handler: handleGetMarket},
		{MethodName: "GetOrder", Handler: handleGetOrder},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "StreamFills", Handler: handleStreamFills, ServerStreams: true},
	},
	Metadata: "internal/rpc/server.go",
}

// RegisterQueryServer wires a QueryServer into a *grpc.Server, the
// hand-written equivalent of a generated RegisterXServer function.
func RegisterQueryServer(s *grpc.Server, srv *QueryServer) {
	s.RegisterService(&ServiceDesc, srv)
}

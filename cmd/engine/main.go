// Command engine wires the hypertree market, its instruction dispatch
// table, the settlement outbox and its broadcaster, the trade-tape
// publisher, and the read-only query service into one running process
// — the same shape as the teacher's cmd/server/main.go, generalized
// from one order book to the hypertree's market + global-account pair.
package main

import (
	"context"
	"errors"
	"log"
	"net"
	"os"
	"strings"
	"time"

	"hypertree/internal/broadcast"
	"hypertree/internal/checkpoint"
	"hypertree/internal/feed"
	"hypertree/internal/outbox"
	"hypertree/internal/rpc"
	"hypertree/internal/telemetry"
	"hypertree/pkg/instruction"
	"hypertree/pkg/market"

	"google.golang.org/grpc"
)

func main() {
	logger := telemetry.New("engine")

	brokers := kafkaBrokers()

	ob, err := outbox.Open("./data/outbox")
	if err != nil {
		log.Fatalf("outbox init failed: %v", err)
	}
	defer ob.Close()

	bc, err := broadcast.New(ob, brokers, "hypertree.settlement")
	if err != nil {
		log.Fatalf("broadcaster init failed: %v", err)
	}
	defer bc.Close()

	tape := feed.NewPublisher(brokers, "hypertree.trades")
	defer tape.Close()

	ckptDir := "./data/checkpoint"
	ckptReader := &checkpoint.Reader{Dir: ckptDir}
	ckptWriter := &checkpoint.Writer{Dir: ckptDir}

	var disp *instruction.Dispatcher
	if m, err := ckptReader.Load(); err == nil {
		logger.Printf("restored market from checkpoint at %s", ckptDir)
		disp = &instruction.Dispatcher{Market: m}
	} else if errors.Is(err, os.ErrNotExist) {
		header := market.NewHeader(
			market.MintID{}, market.MintID{}, market.MintID{}, market.MintID{},
			6, 6,
		)
		disp = instruction.NewDispatcher(header, 1<<12)
	} else {
		log.Fatalf("checkpoint load failed: %v", err)
	}

	queries := rpc.NewQueryServer(disp.Market)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bc.Start(ctx)

	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := ckptWriter.Write(disp.Market); err != nil {
					logger.Printf("checkpoint write failed: %v", err)
				}
			}
		}
	}()

	lis, err := net.Listen("tcp", ":50061")
	if err != nil {
		log.Fatalf("listen failed: %v", err)
	}

	grpcSrv := grpc.NewServer()
	rpc.RegisterQueryServer(grpcSrv, queries)

	logger.Printf("hypertree engine running on :50061")

	if err := grpcSrv.Serve(lis); err != nil {
		log.Fatalf("gRPC server exited: %v", err)
	}
}

func kafkaBrokers() []string {
	if v := os.Getenv("HYPERTREE_KAFKA_BROKERS"); v != "" {
		return strings.Split(v, ",")
	}
	return []string{"localhost:9092"}
}

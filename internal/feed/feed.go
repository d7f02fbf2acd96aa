// Package feed publishes the trade tape — one message per match-loop
// fill — over kafka-go. Unlike internal/outbox's at-least-once,
// acked delivery, the tape is fire-and-forget: a dropped tape message
// never leaves settlement state inconsistent, so it doesn't warrant a
// durable queue of its own.
package feed

import (
	"context"
	"encoding/binary"
	"time"

	"hypertree/pkg/codec"
	"hypertree/pkg/market"

	"github.com/segmentio/kafka-go"
)

type Publisher struct {
	writer *kafka.Writer
}

func NewPublisher(brokers []string, topic string) *Publisher {
	return &Publisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			RequiredAcks: kafka.RequireOne,
			Async:        true,
			BatchTimeout: 10 * time.Millisecond,
		},
	}
}

// Publish emits one tape message per fill, keyed by MakerSeq so
// consumers can partition per resting order.
func (p *Publisher) Publish(ctx context.Context, marketID [32]byte, fills []market.Fill) error {
	if len(fills) == 0 {
		return nil
	}
	msgs := make([]kafka.Message, 0, len(fills))
	for _, f := range fills {
		key := make([]byte, 8)
		binary.BigEndian.PutUint64(key, uint64(f.MakerSeq))
		msgs = append(msgs, kafka.Message{
			Key:   key,
			Value: encodeFill(marketID, f),
		})
	}
	return p.writer.WriteMessages(ctx, msgs...)
}

// encodeFill is a flat, fixed-layout wire record: market id, taker seq,
// maker seq, maker side, base atoms, quote atoms, maker price.
func encodeFill(marketID [32]byte, f market.Fill) []byte {
	b := make([]byte, 32+8+8+1+8+8+4+1)
	off := copy(b, marketID[:])
	codec.PutUint64(b[off:], uint64(f.TakerSeq))
	off += 8
	codec.PutUint64(b[off:], uint64(f.MakerSeq))
	off += 8
	b[off] = byte(f.MakerSide)
	off++
	codec.PutUint64(b[off:], f.BaseAtoms)
	off += 8
	codec.PutUint64(b[off:], f.QuoteAtoms)
	off += 8
	codec.PutUint32(b[off:], f.MakerPrice.Mantissa)
	off += 4
	b[off] = byte(f.MakerPrice.Exponent)
	return b
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}

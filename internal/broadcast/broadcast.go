// Package broadcast drains internal/outbox on a ticker and publishes
// each pending record to Kafka via sarama, exactly the replay loop the
// teacher's jobs/broadcaster package runs against its exit WAL.
package broadcast

import (
	"context"
	"time"

	"hypertree/internal/outbox"
	"hypertree/internal/telemetry"

	"github.com/IBM/sarama"
)

type Broadcaster struct {
	outbox   *outbox.Outbox
	producer sarama.SyncProducer
	topic    string
	log      *telemetry.Logger
}

func New(ob *outbox.Outbox, brokers []string, topic string) (*Broadcaster, error) {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 5

	producer, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, err
	}

	return &Broadcaster{
		outbox:   ob,
		producer: producer,
		topic:    topic,
		log:      telemetry.New("broadcaster"),
	}, nil
}

func (b *Broadcaster) Start(ctx context.Context) {
	b.log.Println("started")

	go func() {
		ticker := time.NewTicker(250 * time.Millisecond)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				b.replayOnce()
			}
		}
	}()
}

func (b *Broadcaster) replayOnce() {
	_ = b.outbox.ScanPending(func(rec outbox.Record) error {
		now := outbox.Now()
		if err := b.outbox.MarkSent(rec.Seq, rec.Retries+1, now); err != nil {
			return nil
		}

		msg := &sarama.ProducerMessage{
			Topic: b.topic,
			Key:   sarama.StringEncoder(keyForKind(rec.Kind)),
			Value: sarama.ByteEncoder(rec.Payload),
		}

		if _, _, err := b.producer.SendMessage(msg); err != nil {
			b.log.Printf("send failed for seq=%d: %v", rec.Seq, err)
			return nil // retry on the next tick
		}

		if err := b.outbox.MarkAcked(rec.Seq, now); err != nil {
			b.log.Printf("mark acked failed for seq=%d: %v", rec.Seq, err)
			return nil
		}
		return nil
	})
}

func keyForKind(k outbox.Kind) string {
	if k == outbox.KindWithdrawal {
		return "withdrawal"
	}
	return "global_fill"
}

func (b *Broadcaster) Close() error {
	return b.producer.Close()
}

package adapter

import (
	"context"
	"encoding/json"
	"fmt"

	"checkoutcore/internal/pkg/mq"
	"checkoutcore/internal/service/checkout/domain"

	"github.com/segmentio/kafka-go"
)

// EventKafkaAdapter 把订单事件写入 Kafka，以订单号作为分区键。
type EventKafkaAdapter struct {
	writer *kafka.Writer
}

func NewEventKafkaAdapter(writer *kafka.Writer) *EventKafkaAdapter {
	return &EventKafkaAdapter{writer: writer}
}

func (a *EventKafkaAdapter) Publish(ctx context.Context, event *domain.OrderEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal order event: %w", err)
	}
	return mq.ProduceMessage(ctx, a.writer, []byte(event.OrderID), payload)
}

func (a *EventKafkaAdapter) Close() error {
	return a.writer.Close()
}

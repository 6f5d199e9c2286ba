// Package events публикует события жизненного цикла заявок.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// Типы событий
const (
	ApplicationCreated         = "application.created"
	ApplicationStatusChanged   = "application.status_changed"
	ApplicationPaymentRecorded = "application.payment_recorded"
	InstallmentPaid            = "payment_plan.installment_paid"
	InstallmentFailed          = "payment_plan.installment_failed"
	PaymentPlanCompleted       = "payment_plan.completed"
)

// Event описывает одно событие по заявке
type Event struct {
	Type          string                 `json:"type"`
	ApplicationID string                 `json:"applicationId"`
	Payload       map[string]interface{} `json:"payload,omitempty"`
	OccurredAt    time.Time              `json:"occurredAt"`
}

// Publisher отправляет события потребителям
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
	Close() error
}

// NopPublisher отбрасывает события, когда брокер не настроен
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }
func (NopPublisher) Close() error                         { return nil }

// KafkaPublisher пишет события в топик Kafka
type KafkaPublisher struct {
	writer *kafka.Writer
}

// NewPublisher возвращает Kafka-издателя или NopPublisher без брокеров
func NewPublisher(brokers []string, topic string) Publisher {
	if len(brokers) == 0 {
		return NopPublisher{}
	}
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Topic:                  topic,
			Balancer:               &kafka.Hash{},
			AllowAutoTopicCreation: true,
			RequiredAcks:           kafka.RequireAll,
			MaxAttempts:            3,
			WriteTimeout:           10 * time.Second,
		},
	}
}

// Publish отправляет событие; ключ сообщения - id заявки, чтобы сохранить порядок
func (p *KafkaPublisher) Publish(ctx context.Context, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(ev.ApplicationID),
		Value: data,
		Time:  ev.OccurredAt,
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("ошибка публикации события %s: %w", ev.Type, err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

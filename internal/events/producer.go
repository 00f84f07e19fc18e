package events

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/IBM/sarama"
	"github.com/sirupsen/logrus"
)

const (
	OrderTransitionedTopic = "order.transitioned"
)

// OrderTransitionEvent is emitted once per accepted status transition. The
// notification worker consumes it to fan out role-specific messages.
type OrderTransitionEvent struct {
	OrderID      string    `json:"order_id"`
	UserID       string    `json:"user_id"`
	UserEmail    string    `json:"user_email"`
	RestaurantID string    `json:"restaurant_id"`
	FromStatus   string    `json:"from_status"`
	ToStatus     string    `json:"to_status"`
	TotalAmount  float64   `json:"total_amount"`
	EventTime    time.Time `json:"event_time"`
}

type KafkaProducer struct {
	producer sarama.SyncProducer
	logger   *logrus.Logger
}

func NewKafkaProducer(brokers string, logger *logrus.Logger) (*KafkaProducer, error) {
	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5
	config.Producer.Return.Successes = true
	config.Version = sarama.V2_6_0_0

	producer, err := sarama.NewSyncProducer(strings.Split(brokers, ","), config)
	if err != nil {
		return nil, err
	}

	return &KafkaProducer{
		producer: producer,
		logger:   logger,
	}, nil
}

func (p *KafkaProducer) PublishOrderTransitioned(event OrderTransitionEvent) error {
	event.EventTime = time.Now()

	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	msg := &sarama.ProducerMessage{
		Topic: OrderTransitionedTopic,
		Key:   sarama.StringEncoder(event.OrderID),
		Value: sarama.ByteEncoder(data),
	}

	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		p.logger.WithError(err).Error("Failed to send message to Kafka")
		return err
	}

	p.logger.WithFields(logrus.Fields{
		"topic":     OrderTransitionedTopic,
		"partition": partition,
		"offset":    offset,
		"order_id":  event.OrderID,
		"to_status": event.ToStatus,
	}).Info("Event published to Kafka")

	return nil
}

func (p *KafkaProducer) Close() error {
	return p.producer.Close()
}

package handler

import (
	"context"

	"encoding/json"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/astrv/library-rental/pkg/kafka"
)

type sendText func(ctx context.Context, text string) error

// Consumer drains the notification topic and delivers each message to
// the chat channel.
type Consumer struct {
	sendTextHandler sendText
	log             *zap.Logger
}

func NewConsumer(sendText sendText, log *zap.Logger) *Consumer {
	return &Consumer{
		sendTextHandler: sendText,
		log:             log.Named("consumer"),
	}
}

// Setup runs at the start of every session, including after each
// rebalance, so it must stay re-entrant.
func (consumer *Consumer) Setup(sarama.ConsumerGroupSession) error {
	return nil
}

// Cleanup is run at the end of a session, once all ConsumeClaim goroutines have exited.
func (consumer *Consumer) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

func (consumer *Consumer) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case message, ok := <-claim.Messages():
			if !ok {
				consumer.log.Warn("message channel was closed")
				return nil
			}
			var event kafka.EventNotify
			if err := json.Unmarshal(message.Value, &event); err != nil {
				consumer.log.Error("", zap.Error(err))
				session.MarkMessage(message, "")
				continue
			}

			// delivery is best-effort: a failed send is logged and the
			// message is still marked, never redelivered forever
			if err := consumer.sendTextHandler(context.Background(), event.Text); err != nil {
				consumer.log.Error("consumer.sendTextHandler", zap.Error(err))
			}

			consumer.log.Debug("Message claimed:", zap.String("value", string(message.Value)), zap.Time("timestamp", message.Timestamp), zap.String("topic", message.Topic))
			session.MarkMessage(message, "")
		case <-session.Context().Done():
			return nil
		}
	}
}

package notifier

import (
	"encoding/json"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/astrv/library-rental/pkg/kafka"
)

// Producer enqueues notification texts for asynchronous delivery.
// Failures are logged and swallowed: a lost chat message must never
// fail a borrow or return.
type Producer struct {
	producer sarama.SyncProducer
	log      *zap.Logger
}

func NewProducer(producer sarama.SyncProducer, log *zap.Logger) *Producer {
	return &Producer{
		producer: producer,
		log:      log.Named("notify"),
	}
}

func (p *Producer) Notify(text string) {
	data, err := json.Marshal(kafka.EventNotify{Text: text, At: time.Now().UTC()})
	if err != nil {
		p.log.Error("marshal notify event", zap.Error(err))
		return
	}
	msg := &sarama.ProducerMessage{Topic: kafka.NotifyTopic, Value: sarama.ByteEncoder(data)}
	if _, _, err := p.producer.SendMessage(msg); err != nil {
		p.log.Error("enqueue notify", zap.Error(err), zap.String("text", text))
	}
}

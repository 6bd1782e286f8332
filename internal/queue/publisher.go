package queue

import (
	"encoding/json"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/streadway/amqp"
	"go.uber.org/zap"
)

const sendLogQueue = "sms_send_logs"

// SendLogEvent mirrors one gateway attempt. The delivery-report service
// consumes these to correlate later webhook callbacks by MessageID.
type SendLogEvent struct {
	Phone     string    `json:"phone"`
	Message   string    `json:"message"`
	Status    string    `json:"status"`
	MessageID string    `json:"message_id,omitempty"`
	Response  string    `json:"response,omitempty"`
	SentAt    time.Time `json:"sent_at"`
}

type Publisher interface {
	PublishSendLog(e SendLogEvent) error
}

type AMQPPublisher struct {
	conn *amqp.Connection
	ch   *amqp.Channel
	log  *zap.Logger
}

// DialPublisher connects to the broker with exponential backoff (the
// broker often comes up after the worker in compose setups) and declares
// the durable send-log queue.
func DialPublisher(url string, log *zap.Logger) (*AMQPPublisher, error) {
	var conn *amqp.Connection

	operation := func() error {
		c, err := amqp.Dial(url)
		if err != nil {
			log.Warn("amqp dial failed, retrying", zap.Error(err))
			return err
		}
		conn = c
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxElapsedTime = 30 * time.Second

	if err := backoff.Retry(operation, b); err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}

	_, err = ch.QueueDeclare(
		sendLogQueue,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}

	return &AMQPPublisher{conn: conn, ch: ch, log: log}, nil
}

func (p *AMQPPublisher) PublishSendLog(e SendLogEvent) error {
	body, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return p.ch.Publish(
		"",
		sendLogQueue,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         body,
		},
	)
}

func (p *AMQPPublisher) Close() {
	if p.ch != nil {
		p.ch.Close()
	}
	if p.conn != nil {
		p.conn.Close()
	}
}

var _ Publisher = (*AMQPPublisher)(nil)

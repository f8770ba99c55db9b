package queue

import (
	"encoding/json"

	"github.com/rs/zerolog"
	"github.com/streadway/amqp"
)

// AMQPQueue is the RabbitMQ-backed Queue binding. The service carries a
// single dispatch topic, so all topics share one durable queue whose name
// comes from configuration; failed handlers get one redelivery before the
// job is dropped.
type AMQPQueue struct {
	conn *amqp.Connection
	ch   *amqp.Channel
	name string
	log  zerolog.Logger
}

func DialAMQP(url, queueName string, log zerolog.Logger) (*AMQPQueue, error) {
	if queueName == "" {
		queueName = TopicDispatch
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}
	return &AMQPQueue{conn: conn, ch: ch, name: queueName, log: log}, nil
}

func (q *AMQPQueue) declare() (amqp.Queue, error) {
	return q.ch.QueueDeclare(
		q.name,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,
	)
}

func (q *AMQPQueue) Publish(topic string, job Job) error {
	if _, err := q.declare(); err != nil {
		return err
	}
	body, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return q.ch.Publish(
		"",
		q.name,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         body,
		},
	)
}

func (q *AMQPQueue) Subscribe(topic string, handler func(Job) error) error {
	if _, err := q.declare(); err != nil {
		return err
	}
	msgs, err := q.ch.Consume(
		q.name,
		"",
		false, // manual ack
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return err
	}

	go func() {
		for d := range msgs {
			var job Job
			if err := json.Unmarshal(d.Body, &job); err != nil {
				q.log.Warn().Err(err).Msg("dropping malformed dispatch job")
				d.Ack(false)
				continue
			}
			if err := handler(job); err != nil {
				if !d.Redelivered {
					d.Nack(false, true)
					continue
				}
				q.log.Error().Str("campaign_id", job.CampaignID).Err(err).
					Msg("dispatch job failed after redelivery; dropping")
			}
			d.Ack(false)
		}
	}()
	return nil
}

func (q *AMQPQueue) Close() error {
	if err := q.ch.Close(); err != nil {
		q.conn.Close()
		return err
	}
	return q.conn.Close()
}

var _ Queue = (*AMQPQueue)(nil)

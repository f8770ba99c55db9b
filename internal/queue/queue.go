// Package queue carries campaign dispatch jobs between the scheduler and
// the dispatcher. The in-memory binding serves single-process deployments;
// the AMQP binding lets a separate worker process own dispatch.
package queue

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/bitpanel/notification-service/internal/model"
)

// TopicDispatch carries campaigns that have entered dispatching.
const TopicDispatch = "campaign_dispatch"

// Job identifies one campaign ready for dispatch.
type Job struct {
	CampaignID string         `json:"campaign_id"`
	Priority   model.Priority `json:"priority"`
}

type Queue interface {
	Publish(topic string, job Job) error
	Subscribe(topic string, handler func(Job) error) error
	Close() error
}

// InMemoryQueue delivers jobs to subscribers on their own goroutines with a
// bounded retry.
type InMemoryQueue struct {
	mu       sync.Mutex
	handlers map[string][]func(Job) error
	retries  int
}

func NewInMemoryQueue() *InMemoryQueue {
	return &InMemoryQueue{
		handlers: make(map[string][]func(Job) error),
		retries:  3,
	}
}

func (q *InMemoryQueue) Publish(topic string, job Job) error {
	q.mu.Lock()
	handlers := q.handlers[topic]
	q.mu.Unlock()

	if len(handlers) == 0 {
		return fmt.Errorf("no subscribers for topic %s", topic)
	}
	for _, handler := range handlers {
		go q.deliver(handler, job)
	}
	return nil
}

func (q *InMemoryQueue) deliver(handler func(Job) error, job Job) {
	for attempt := 0; ; attempt++ {
		if handler(job) == nil {
			return
		}
		if attempt >= q.retries {
			return
		}
		time.Sleep(time.Duration(attempt+1) * 500 * time.Millisecond)
	}
}

func (q *InMemoryQueue) Subscribe(topic string, handler func(Job) error) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[topic] = append(q.handlers[topic], handler)
	return nil
}

func (q *InMemoryQueue) Close() error { return nil }

var _ Queue = (*InMemoryQueue)(nil)

// DispatchPublisher adapts a Queue to the scheduler's hand-off point, so a
// fired campaign can be dispatched by whichever process consumes the topic.
type DispatchPublisher struct {
	Q   Queue
	Log zerolog.Logger
}

func (p *DispatchPublisher) Enqueue(campaignID string, priority model.Priority) {
	job := Job{CampaignID: campaignID, Priority: priority}
	if err := p.Q.Publish(TopicDispatch, job); err != nil {
		p.Log.Error().Str("campaign_id", campaignID).Err(err).Msg("dispatch publish failed")
	}
}

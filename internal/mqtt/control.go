package mqtt

import (
	"sync"

	paho "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/AaronLay10/StateSpace/internal/events"
)

// Interrupter stops a running job by id.
type Interrupter interface {
	Interrupt(id string) error
}

// ControlSubscriber turns messages on the interrupt topics into job
// interrupts.
type ControlSubscriber struct {
	client Subscriber
	topics Topics
	jobs   Interrupter
	log    *zap.SugaredLogger

	mu         sync.Mutex
	subscribed map[string]bool
}

// NewControlSubscriber creates a subscriber for jobs.
func NewControlSubscriber(client Subscriber, topics Topics, jobs Interrupter, log *zap.SugaredLogger) *ControlSubscriber {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &ControlSubscriber{
		client:     client,
		topics:     topics,
		jobs:       jobs,
		log:        log,
		subscribed: make(map[string]bool),
	}
}

// SubscribeAll subscribes to the interrupt topic of every job.
// It is idempotent: calling it again does not create duplicate subscriptions.
func (s *ControlSubscriber) SubscribeAll() error {
	return s.subscribe(s.topics.InterruptFilter())
}

// SubscribeJob subscribes to the interrupt topic of a single job.
func (s *ControlSubscriber) SubscribeJob(jobID string) error {
	return s.subscribe(s.topics.Interrupt(jobID))
}

func (s *ControlSubscriber) subscribe(topic string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.subscribed[topic] {
		return nil
	}
	if err := s.client.Subscribe(topic, s.handle); err != nil {
		return err
	}
	s.subscribed[topic] = true
	s.log.Debugw("mqtt subscribed", "topic", topic)
	return nil
}

// Resubscribe renews every tracked subscription. Register it with
// Client.OnConnect so control survives a broker restart.
func (s *ControlSubscriber) Resubscribe() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var first error
	for topic := range s.subscribed {
		if err := s.client.Subscribe(topic, s.handle); err != nil {
			s.log.Warnw("mqtt resubscribe failed", "topic", topic, "error", err)
			if first == nil {
				first = err
			}
		}
	}
	return first
}

func (s *ControlSubscriber) handle(_ paho.Client, msg paho.Message) {
	topic := msg.Topic()
	id, ok := s.topics.JobFromInterrupt(topic)
	if !ok {
		s.log.Warnw("mqtt control message on unexpected topic", "topic", topic)
		return
	}
	if err := s.jobs.Interrupt(id); err != nil {
		_, _ = events.Emit("warn", "control.rejected", "interrupt request rejected", map[string]interface{}{
			"job":   id,
			"topic": topic,
			"error": err.Error(),
		})
		return
	}
	_, _ = events.Emit("info", "control.interrupt", "interrupt requested over mqtt", map[string]interface{}{
		"job":   id,
		"topic": topic,
	})
}

// IsSubscribed returns true if topic is already subscribed.
func (s *ControlSubscriber) IsSubscribed(topic string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.subscribed[topic]
}

// SubscribedTopics returns all subscribed topics.
func (s *ControlSubscriber) SubscribedTopics() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	topics := make([]string, 0, len(s.subscribed))
	for t := range s.subscribed {
		topics = append(topics, t)
	}
	return topics
}

// ClearSubscriptions resets the tracking, e.g. after a reconnect.
func (s *ControlSubscriber) ClearSubscriptions() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribed = make(map[string]bool)
}

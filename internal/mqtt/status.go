package mqtt

import (
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"
)

// StatusPublisher periodically publishes a retained snapshot.
type StatusPublisher struct {
	pub      Publisher
	topic    string
	interval time.Duration
	snapshot func() interface{}
	log      *zap.SugaredLogger

	stopCh chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
}

// NewStatusPublisher creates a publisher that sends snapshot() every interval.
func NewStatusPublisher(pub Publisher, topics Topics, interval time.Duration, snapshot func() interface{}, log *zap.SugaredLogger) *StatusPublisher {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &StatusPublisher{
		pub:      pub,
		topic:    topics.Status(),
		interval: interval,
		snapshot: snapshot,
		log:      log,
		stopCh:   make(chan struct{}),
	}
}

// Start begins publishing. It publishes once immediately.
func (s *StatusPublisher) Start() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		s.Publish()
		for {
			select {
			case <-s.stopCh:
				return
			case <-ticker.C:
				s.Publish()
			}
		}
	}()
}

// Publish sends one snapshot now.
func (s *StatusPublisher) Publish() {
	payload, err := json.Marshal(s.snapshot())
	if err != nil {
		s.log.Errorw("status encode failed", "error", err)
		return
	}
	if err := s.pub.Publish(s.topic, payload, true); err != nil {
		s.log.Warnw("status publish failed", "topic", s.topic, "error", err)
	}
}

// Stop halts the loop and waits for it to exit.
func (s *StatusPublisher) Stop() {
	s.once.Do(func() { close(s.stopCh) })
	s.wg.Wait()
}

// Package notification provides the notification manager for broadcasting player events.
package notification

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	zlog "github.com/rs/zerolog/log"
)

// ErrStreamFull is returned by ChannelStream when the subscriber is not keeping up.
var ErrStreamFull = errors.New("notification stream is full")

const sendTimeout = 500 * time.Millisecond

// Notification is a player event as seen by subscribers.
type Notification struct {
	SequenceNo uint64
	Type       string // Event type, e.g. "track_started"
	TrackID    string
	Title      string
	Source     string
	Producer   string
	State      string // Player state after the event
	QueueLen   int
	Error      string
	Time       time.Time
}

// Stream represents a notification stream for a subscriber.
type Stream interface {
	Send(*Notification) error
}

// subscription represents a subscriber's subscription.
type subscription struct {
	id     string
	stream Stream
}

// Manager manages notification subscriptions and broadcasting.
type Manager struct {
	mu            sync.RWMutex
	subscriptions map[string]*subscription
	sequenceNo    uint64
	sequenceNoMu  sync.Mutex
}

// NewManager creates a new notification manager.
func NewManager() *Manager {
	return &Manager{
		subscriptions: make(map[string]*subscription),
	}
}

// Subscribe adds a new subscription and returns the subscription ID.
func (m *Manager) Subscribe(stream Stream) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := uuid.New().String()
	m.subscriptions[id] = &subscription{
		id:     id,
		stream: stream,
	}
	return id
}

// Unsubscribe removes a subscription.
func (m *Manager) Unsubscribe(subscriptionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.subscriptions, subscriptionID)
}

// Broadcast sends a notification to all subscribers.
// Each stream send is done in a goroutine with a timeout to prevent blocking.
func (m *Manager) Broadcast(notification *Notification) {
	m.sequenceNoMu.Lock()
	m.sequenceNo++
	notification.SequenceNo = m.sequenceNo
	m.sequenceNoMu.Unlock()

	m.mu.RLock()
	// Copy subscriptions to avoid holding lock during sends
	subs := make([]*subscription, 0, len(m.subscriptions))
	for _, sub := range m.subscriptions {
		subs = append(subs, sub)
	}
	m.mu.RUnlock()

	var wg sync.WaitGroup
	for _, sub := range subs {
		wg.Add(1)
		go func(s *subscription) {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
			defer cancel()

			done := make(chan error, 1)
			go func() {
				done <- s.stream.Send(notification)
			}()

			select {
			case err := <-done:
				if err != nil {
					zlog.Debug().Msgf("notification: send failed: subscription=%s seq=%d error=%v", s.id, notification.SequenceNo, err)
				}
			case <-ctx.Done():
				zlog.Debug().Msgf("notification: send timed out: subscription=%s seq=%d", s.id, notification.SequenceNo)
			}
		}(sub)
	}

	wg.Wait()
}

// SubscriberCount returns the number of active subscribers.
func (m *Manager) SubscriberCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subscriptions)
}

// Close closes the manager and removes all subscriptions.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscriptions = make(map[string]*subscription)
}

// ChannelStream delivers notifications to an in-process consumer.
type ChannelStream struct {
	ch chan *Notification
}

// NewChannelStream creates a stream buffering up to size notifications.
func NewChannelStream(size int) *ChannelStream {
	return &ChannelStream{ch: make(chan *Notification, size)}
}

// Send implements Stream without blocking.
func (s *ChannelStream) Send(n *Notification) error {
	select {
	case s.ch <- n:
		return nil
	default:
		return ErrStreamFull
	}
}

// C returns the receive side of the stream.
func (s *ChannelStream) C() <-chan *Notification {
	return s.ch
}

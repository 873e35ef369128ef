package notify

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"
)

var (
	ErrSubscriberNotFound = errors.New("subscriber not found")
	ErrSubscriberExists   = errors.New("subscriber already registered")
)

// Failure records one recipient a fan-out could not reach.
type Failure struct {
	SubscriberID string
	Err          error
}

func (f Failure) Error() string {
	return fmt.Sprintf("%s: %v", f.SubscriberID, f.Err)
}

func (f Failure) Unwrap() error {
	return f.Err
}

// Failures is the partial-failure report of SendMany.
type Failures []Failure

// Err joins all failures, or returns nil when every delivery succeeded.
func (fs Failures) Err() error {
	if len(fs) == 0 {
		return nil
	}
	errs := make([]error, len(fs))
	for i, f := range fs {
		errs[i] = f
	}
	return errors.Join(errs...)
}

// IDs returns the failed subscriber ids in report order.
func (fs Failures) IDs() []string {
	ids := make([]string, len(fs))
	for i, f := range fs {
		ids[i] = f.SubscriberID
	}
	return ids
}

// Broker routes messages to subscriber mailboxes.
type Broker struct {
	mailboxes map[string]*Mailbox
	capacity  int
	logger    zerolog.Logger
	mu        sync.RWMutex
}

// NewBroker creates a broker whose mailboxes hold capacity messages each.
func NewBroker(capacity int, logger zerolog.Logger) *Broker {
	if capacity <= 0 {
		capacity = DefaultMailboxCapacity
	}
	return &Broker{
		mailboxes: make(map[string]*Mailbox),
		capacity:  capacity,
		logger:    logger.With().Str("component", "notify").Logger(),
	}
}

// Register creates a mailbox for subscriberID.
func (b *Broker) Register(subscriberID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.mailboxes[subscriberID]; exists {
		return fmt.Errorf("%w: %s", ErrSubscriberExists, subscriberID)
	}
	b.mailboxes[subscriberID] = NewMailbox(subscriberID, b.capacity)
	subscribersGauge.Inc()

	b.logger.Debug().Str("subscriber_id", subscriberID).Int("subscribers", len(b.mailboxes)).Msg("subscriber registered")
	return nil
}

// Unregister removes and closes the subscriber's mailbox. Queued messages are
// dropped and a pending WaitNext returns ErrMailboxClosed.
func (b *Broker) Unregister(subscriberID string) error {
	b.mu.Lock()
	mb, exists := b.mailboxes[subscriberID]
	if exists {
		delete(b.mailboxes, subscriberID)
	}
	remaining := len(b.mailboxes)
	b.mu.Unlock()

	if !exists {
		return fmt.Errorf("%w: %s", ErrSubscriberNotFound, subscriberID)
	}
	mb.Close()
	subscribersGauge.Dec()

	b.logger.Debug().Str("subscriber_id", subscriberID).Int("subscribers", remaining).Int("dropped", mb.Len()).Msg("subscriber unregistered")
	return nil
}

// Send enqueues msg for one subscriber. It never retries.
func (b *Broker) Send(subscriberID string, msg Message) error {
	mb, err := b.lookup(subscriberID)
	if err == nil {
		err = mb.Send(msg)
		if err != nil {
			err = fmt.Errorf("send to %s: %w", subscriberID, err)
		}
	}
	if err != nil {
		deliveryFailedTotal.WithLabelValues(failureReason(err)).Inc()
		return err
	}
	deliveredTotal.Inc()
	return nil
}

// SendMany delivers msg to every subscriber independently. A failure for one
// recipient never prevents delivery to the others.
func (b *Broker) SendMany(subscriberIDs []string, msg Message) Failures {
	var failures Failures
	for _, id := range subscriberIDs {
		if err := b.Send(id, msg); err != nil {
			failures = append(failures, Failure{SubscriberID: id, Err: err})
		}
	}
	if len(failures) > 0 {
		b.logger.Debug().Strs("failed", failures.IDs()).Str("kind", string(msg.Kind)).Msg("partial delivery")
	}
	return failures
}

// WaitNext blocks until one message arrives for subscriberID and returns it.
// It fails immediately for unknown subscribers, and with ErrMailboxClosed if
// the subscriber is unregistered while waiting. There is no implicit timeout;
// cancel ctx to stop waiting.
func (b *Broker) WaitNext(ctx context.Context, subscriberID string) (Message, error) {
	mb, err := b.lookup(subscriberID)
	if err != nil {
		return Message{}, err
	}
	return mb.Receive(ctx)
}

// Registered reports whether subscriberID has a mailbox.
func (b *Broker) Registered(subscriberID string) bool {
	_, err := b.lookup(subscriberID)
	return err == nil
}

// Subscribers returns the registered ids in sorted order.
func (b *Broker) Subscribers() []string {
	b.mu.RLock()
	ids := make([]string, 0, len(b.mailboxes))
	for id := range b.mailboxes {
		ids = append(ids, id)
	}
	b.mu.RUnlock()

	sort.Strings(ids)
	return ids
}

// Count returns the number of registered subscribers.
func (b *Broker) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.mailboxes)
}

// Close unregisters every subscriber.
func (b *Broker) Close() {
	b.mu.Lock()
	mailboxes := b.mailboxes
	b.mailboxes = make(map[string]*Mailbox)
	b.mu.Unlock()

	for _, mb := range mailboxes {
		mb.Close()
		subscribersGauge.Dec()
	}
}

func (b *Broker) lookup(subscriberID string) (*Mailbox, error) {
	b.mu.RLock()
	mb, exists := b.mailboxes[subscriberID]
	b.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrSubscriberNotFound, subscriberID)
	}
	return mb, nil
}

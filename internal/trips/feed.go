package trips

import (
	"context"
	"sync"
	"time"
)

const (
	// CollectionReservations is the feed topic for reservation changes.
	CollectionReservations = "reservations"
	// CollectionPriceSamples is the feed topic root for price sample
	// changes; subscriptions are always scoped to one reservation.
	CollectionPriceSamples = "price_samples"
)

// FeedKind tags a feed message with the change variant.
type FeedKind string

const (
	FeedInserted FeedKind = "inserted"
	FeedUpdated  FeedKind = "updated"
	FeedDeleted  FeedKind = "deleted"
)

// FeedMessage describes one committed write. Exactly one of Reservation and
// PriceSample is set for inserts and updates; both are nil for deletes.
type FeedMessage struct {
	Collection    string
	Kind          FeedKind
	EntityID      string
	ReservationID string
	Reservation   *Reservation
	PriceSample   *PriceSample
	Timestamp     time.Time
}

// FeedTopic maps a collection and optional parent reservation onto the
// dispatcher topic key. Price sample topics are always parent-scoped.
func FeedTopic(collection, reservationID string) string {
	if collection == CollectionPriceSamples {
		return CollectionPriceSamples + "/" + reservationID
	}
	return collection
}

// FeedDispatcher fans committed writes out to per-topic subscribers. Delivery
// is best effort: a subscriber that cannot keep up misses messages instead of
// blocking the writer, and a full refetch is its recovery path.
type FeedDispatcher struct {
	mu          sync.RWMutex
	subscribers map[string]map[int64]*feedSubscriber
	nextID      int64
	bufferSize  int
}

type feedSubscriber struct {
	id     int64
	stream chan FeedMessage
}

// NewFeedDispatcher constructs an empty dispatcher.
func NewFeedDispatcher() *FeedDispatcher {
	return &FeedDispatcher{
		subscribers: make(map[string]map[int64]*feedSubscriber),
		bufferSize:  16,
	}
}

// Subscribe registers a subscriber for one topic. The returned cleanup
// unregisters it; cancelling the context does the same.
func (d *FeedDispatcher) Subscribe(ctx context.Context, topic string) (<-chan FeedMessage, func()) {
	if topic == "" {
		ch := make(chan FeedMessage)
		close(ch)
		return ch, func() {}
	}
	subscriber := &feedSubscriber{
		id:     d.nextSequence(),
		stream: make(chan FeedMessage, d.bufferSize),
	}
	d.registerSubscriber(topic, subscriber)
	cleanup := func() {
		d.unregisterSubscriber(topic, subscriber.id)
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return subscriber.stream, cleanup
}

// Publish delivers the message to every subscriber of its topic.
func (d *FeedDispatcher) Publish(message FeedMessage) {
	if message.Collection == "" || message.Kind == "" {
		return
	}
	topic := FeedTopic(message.Collection, message.ReservationID)
	d.mu.RLock()
	subscribers := d.subscribers[topic]
	if len(subscribers) == 0 {
		d.mu.RUnlock()
		return
	}
	copies := make([]*feedSubscriber, 0, len(subscribers))
	for _, subscriber := range subscribers {
		copies = append(copies, subscriber)
	}
	d.mu.RUnlock()
	for _, subscriber := range copies {
		select {
		case subscriber.stream <- message:
		default:
		}
	}
}

func (d *FeedDispatcher) nextSequence() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	return d.nextID
}

func (d *FeedDispatcher) registerSubscriber(topic string, subscriber *feedSubscriber) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.subscribers[topic]; !ok {
		d.subscribers[topic] = make(map[int64]*feedSubscriber)
	}
	d.subscribers[topic][subscriber.id] = subscriber
}

func (d *FeedDispatcher) unregisterSubscriber(topic string, subscriberID int64) {
	d.mu.Lock()
	subscribers := d.subscribers[topic]
	if subscribers != nil {
		delete(subscribers, subscriberID)
		if len(subscribers) == 0 {
			delete(d.subscribers, topic)
		}
	}
	d.mu.Unlock()
}

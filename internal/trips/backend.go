package trips

import (
	"context"
	"errors"
	"fmt"

	"github.com/MarcoPoloResearchLab/waypoint/internal/collection"
)

var (
	errMissingService = errors.New("trips: service is required")
	errMissingFeed    = errors.New("trips: feed dispatcher is required")
)

// ReservationBackend adapts the trips service and feed to the collection
// backend contract for the reservations collection.
type ReservationBackend struct {
	service *Service
	feed    *FeedDispatcher
}

// NewReservationBackend validates dependencies and constructs the adapter.
func NewReservationBackend(service *Service, feed *FeedDispatcher) (*ReservationBackend, error) {
	if service == nil {
		return nil, errMissingService
	}
	if feed == nil {
		return nil, errMissingFeed
	}
	return &ReservationBackend{service: service, feed: feed}, nil
}

// FetchAll loads all reservations, newest first.
func (b *ReservationBackend) FetchAll(ctx context.Context) ([]Reservation, error) {
	reservations, err := b.service.ListReservations(ctx)
	if err != nil {
		return nil, mapServiceError(err)
	}
	return reservations, nil
}

// Insert persists the draft under a confirmed identifier.
func (b *ReservationBackend) Insert(ctx context.Context, draft Reservation) (Reservation, error) {
	confirmed, err := b.service.CreateReservation(ctx, draft)
	if err != nil {
		return Reservation{}, mapServiceError(err)
	}
	return confirmed, nil
}

// Update applies a partial field update.
func (b *ReservationBackend) Update(ctx context.Context, id string, fields map[string]any) error {
	return mapServiceError(b.service.UpdateReservation(ctx, id, fields))
}

// Delete removes the reservation.
func (b *ReservationBackend) Delete(ctx context.Context, id string) error {
	return mapServiceError(b.service.DeleteReservation(ctx, id))
}

// Subscribe opens a change-event stream for the reservations collection. The
// returned stop function closes the stream.
func (b *ReservationBackend) Subscribe(ctx context.Context) (<-chan collection.ChangeEvent[Reservation], func(), error) {
	return subscribeFeed(ctx, b.feed, FeedTopic(CollectionReservations, ""), reservationEvent)
}

// PriceSampleBackend adapts the trips service and feed to the collection
// backend contract for one reservation's price samples.
type PriceSampleBackend struct {
	service       *Service
	feed          *FeedDispatcher
	reservationID string
}

// NewPriceSampleBackend constructs an adapter scoped to one reservation.
func NewPriceSampleBackend(service *Service, feed *FeedDispatcher, reservationID string) (*PriceSampleBackend, error) {
	if service == nil {
		return nil, errMissingService
	}
	if feed == nil {
		return nil, errMissingFeed
	}
	if reservationID == "" {
		return nil, fmt.Errorf("%w: reservation id is required", ErrInvalidPriceSample)
	}
	return &PriceSampleBackend{service: service, feed: feed, reservationID: reservationID}, nil
}

// FetchAll loads the reservation's samples, oldest first.
func (b *PriceSampleBackend) FetchAll(ctx context.Context) ([]PriceSample, error) {
	samples, err := b.service.ListPriceSamples(ctx, b.reservationID)
	if err != nil {
		return nil, mapServiceError(err)
	}
	return samples, nil
}

// Insert persists the draft sample under this backend's reservation.
func (b *PriceSampleBackend) Insert(ctx context.Context, draft PriceSample) (PriceSample, error) {
	draft.ReservationID = b.reservationID
	confirmed, err := b.service.CreatePriceSample(ctx, draft)
	if err != nil {
		return PriceSample{}, mapServiceError(err)
	}
	return confirmed, nil
}

// Update is not supported for price samples; observations are immutable.
func (b *PriceSampleBackend) Update(_ context.Context, id string, _ map[string]any) error {
	return fmt.Errorf("%w: price samples are immutable (%s)", collection.ErrValidation, id)
}

// Delete removes one sample.
func (b *PriceSampleBackend) Delete(ctx context.Context, id string) error {
	return mapServiceError(b.service.DeletePriceSample(ctx, id))
}

// Subscribe opens a change-event stream filtered to this reservation's
// samples; the dispatcher topic scoping means no client-side filtering is
// needed.
func (b *PriceSampleBackend) Subscribe(ctx context.Context) (<-chan collection.ChangeEvent[PriceSample], func(), error) {
	return subscribeFeed(ctx, b.feed, FeedTopic(CollectionPriceSamples, b.reservationID), priceSampleEvent)
}

// subscribeFeed bridges dispatcher messages into typed change events,
// closing the event channel once the subscription stops.
func subscribeFeed[E collection.Entity[E]](
	ctx context.Context,
	feed *FeedDispatcher,
	topic string,
	convert func(FeedMessage) collection.ChangeEvent[E],
) (<-chan collection.ChangeEvent[E], func(), error) {
	subCtx, cancel := context.WithCancel(ctx)
	messages, cleanup := feed.Subscribe(subCtx, topic)
	events := make(chan collection.ChangeEvent[E], 16)

	go func() {
		defer close(events)
		for {
			select {
			case <-subCtx.Done():
				return
			case message, ok := <-messages:
				if !ok {
					return
				}
				select {
				case events <- convert(message):
				case <-subCtx.Done():
					return
				}
			}
		}
	}()

	stop := func() {
		cancel()
		cleanup()
	}
	return events, stop, nil
}

func reservationEvent(message FeedMessage) collection.ChangeEvent[Reservation] {
	event := collection.ChangeEvent[Reservation]{
		Kind:     changeKind(message.Kind),
		EntityID: message.EntityID,
	}
	if message.Reservation != nil {
		event.Entity = *message.Reservation
	}
	return event
}

func priceSampleEvent(message FeedMessage) collection.ChangeEvent[PriceSample] {
	event := collection.ChangeEvent[PriceSample]{
		Kind:     changeKind(message.Kind),
		EntityID: message.EntityID,
	}
	if message.PriceSample != nil {
		event.Entity = *message.PriceSample
	}
	return event
}

func changeKind(kind FeedKind) collection.ChangeKind {
	switch kind {
	case FeedInserted:
		return collection.ChangeInserted
	case FeedUpdated:
		return collection.ChangeUpdated
	case FeedDeleted:
		return collection.ChangeDeleted
	default:
		return collection.ChangeKind(kind)
	}
}

// mapServiceError folds service failures onto the collection error taxonomy
// while keeping the underlying cause readable.
func mapServiceError(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, ErrReservationNotFound), errors.Is(err, ErrPriceSampleNotFound):
		return fmt.Errorf("%w: %v", collection.ErrNotFound, err)
	case errors.Is(err, ErrInvalidReservation), errors.Is(err, ErrInvalidPriceSample), errors.Is(err, ErrUnknownField):
		return fmt.Errorf("%w: %v", collection.ErrValidation, err)
	default:
		return fmt.Errorf("%w: %v", collection.ErrTransport, err)
	}
}

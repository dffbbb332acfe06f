package trips

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestCreateReservationAssignsConfirmedID(t *testing.T) {
	service := newTestService(t, nil)

	created, err := service.CreateReservation(context.Background(), Reservation{
		ReservationID: "tmp-should-be-discarded",
		Location:      "Seattle, WA",
		PickupDate:    "2026-09-01",
		DropoffDate:   "2026-09-08",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if created.ReservationID == "" || created.ReservationID == "tmp-should-be-discarded" {
		t.Fatalf("expected a freshly issued id, got %q", created.ReservationID)
	}
	if created.CreatedAtSeconds == 0 || created.UpdatedAtSeconds == 0 {
		t.Fatalf("expected timestamps to be set, got %#v", created)
	}

	loaded, err := service.GetReservation(context.Background(), created.ReservationID)
	if err != nil {
		t.Fatalf("failed to load created reservation: %v", err)
	}
	if loaded.Location != "Seattle, WA" {
		t.Fatalf("unexpected persisted value: %#v", loaded)
	}
}

func TestCreateReservationRejectsInvalidInput(t *testing.T) {
	service := newTestService(t, nil)

	tests := []struct {
		name  string
		input Reservation
	}{
		{name: "missing location", input: Reservation{PickupDate: "2026-09-01", DropoffDate: "2026-09-08"}},
		{name: "missing pickup date", input: Reservation{Location: "Denver, CO", DropoffDate: "2026-09-08"}},
		{name: "missing dropoff date", input: Reservation{Location: "Denver, CO", PickupDate: "2026-09-01"}},
		{name: "negative held price", input: Reservation{Location: "Denver, CO", PickupDate: "2026-09-01", DropoffDate: "2026-09-08", HeldPrice: -1}},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			if _, err := service.CreateReservation(context.Background(), testCase.input); !errors.Is(err, ErrInvalidReservation) {
				t.Fatalf("expected ErrInvalidReservation, got %v", err)
			}
		})
	}
}

func TestListReservationsOrdersNewestFirst(t *testing.T) {
	current := time.Unix(1700000000, 0)
	service, err := NewService(ServiceConfig{
		Database:   newTestDatabase(t),
		IDProvider: NewUUIDProvider(),
		Clock: func() time.Time {
			current = current.Add(time.Hour)
			return current
		},
	})
	if err != nil {
		t.Fatalf("failed to construct service: %v", err)
	}

	first := mustCreateReservation(t, service, "Portland, OR")
	second := mustCreateReservation(t, service, "Boise, ID")

	reservations, err := service.ListReservations(context.Background())
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(reservations) != 2 {
		t.Fatalf("expected 2 reservations, got %d", len(reservations))
	}
	if reservations[0].ReservationID != second.ReservationID || reservations[1].ReservationID != first.ReservationID {
		t.Fatalf("expected newest first, got %q then %q", reservations[0].Location, reservations[1].Location)
	}
}

func TestUpdateReservationAppliesWhitelistedFields(t *testing.T) {
	service := newTestService(t, nil)
	reservation := mustCreateReservation(t, service, "Austin, TX")

	err := service.UpdateReservation(context.Background(), reservation.ReservationID, map[string]any{
		"held_price":   250.0,
		"car_category": "Midsize",
	})
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}

	updated, err := service.GetReservation(context.Background(), reservation.ReservationID)
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if updated.HeldPrice != 250.0 || updated.CarCategory != "Midsize" {
		t.Fatalf("fields not applied: %#v", updated)
	}
	if updated.Location != "Austin, TX" {
		t.Fatalf("untargeted field changed: %#v", updated)
	}
}

func TestUpdateReservationRejectsUnknownField(t *testing.T) {
	service := newTestService(t, nil)
	reservation := mustCreateReservation(t, service, "Austin, TX")

	err := service.UpdateReservation(context.Background(), reservation.ReservationID, map[string]any{
		"reservation_id": "hijack",
	})
	if !errors.Is(err, ErrUnknownField) {
		t.Fatalf("expected ErrUnknownField, got %v", err)
	}
}

func TestUpdateReservationMissingTargetReturnsNotFound(t *testing.T) {
	service := newTestService(t, nil)

	err := service.UpdateReservation(context.Background(), "missing", map[string]any{"held_price": 1.0})
	if !errors.Is(err, ErrReservationNotFound) {
		t.Fatalf("expected ErrReservationNotFound, got %v", err)
	}
}

func TestDeleteReservationRemovesSamplesToo(t *testing.T) {
	service := newTestService(t, nil)
	reservation := mustCreateReservation(t, service, "Austin, TX")
	mustCreateSample(t, service, reservation.ReservationID, 199)
	mustCreateSample(t, service, reservation.ReservationID, 179)

	if err := service.DeleteReservation(context.Background(), reservation.ReservationID); err != nil {
		t.Fatalf("delete failed: %v", err)
	}

	if _, err := service.GetReservation(context.Background(), reservation.ReservationID); !errors.Is(err, ErrReservationNotFound) {
		t.Fatalf("expected reservation gone, got %v", err)
	}
	samples, err := service.ListPriceSamples(context.Background(), reservation.ReservationID)
	if err != nil {
		t.Fatalf("sample list failed: %v", err)
	}
	if len(samples) != 0 {
		t.Fatalf("expected samples removed with their reservation, got %d", len(samples))
	}

	if err := service.DeleteReservation(context.Background(), reservation.ReservationID); !errors.Is(err, ErrReservationNotFound) {
		t.Fatalf("expected ErrReservationNotFound on second delete, got %v", err)
	}
}

func TestCreatePriceSampleRequiresExistingReservation(t *testing.T) {
	service := newTestService(t, nil)

	_, err := service.CreatePriceSample(context.Background(), PriceSample{
		ReservationID:  "missing",
		LowestCategory: "Economy",
		LowestPrice:    150,
	})
	if !errors.Is(err, ErrReservationNotFound) {
		t.Fatalf("expected ErrReservationNotFound, got %v", err)
	}
}

func TestListPriceSamplesOrdersOldestFirst(t *testing.T) {
	current := time.Unix(1700000000, 0)
	service, err := NewService(ServiceConfig{
		Database:   newTestDatabase(t),
		IDProvider: NewUUIDProvider(),
		Clock: func() time.Time {
			current = current.Add(time.Hour)
			return current
		},
	})
	if err != nil {
		t.Fatalf("failed to construct service: %v", err)
	}
	reservation := mustCreateReservation(t, service, "Austin, TX")
	first := mustCreateSample(t, service, reservation.ReservationID, 199)
	second := mustCreateSample(t, service, reservation.ReservationID, 179)

	samples, err := service.ListPriceSamples(context.Background(), reservation.ReservationID)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(samples) != 2 {
		t.Fatalf("expected 2 samples, got %d", len(samples))
	}
	if samples[0].SampleID != first.SampleID || samples[1].SampleID != second.SampleID {
		t.Fatalf("expected oldest first ordering")
	}

	prices, err := samples[0].Prices()
	if err != nil {
		t.Fatalf("failed to decode prices: %v", err)
	}
	if prices["Economy"] != 199 {
		t.Fatalf("unexpected decoded prices: %#v", prices)
	}
}

func TestServiceWritesAnnounceOnFeed(t *testing.T) {
	feed := NewFeedDispatcher()
	service := newTestService(t, feed)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	reservationStream, cleanup := feed.Subscribe(ctx, FeedTopic(CollectionReservations, ""))
	defer cleanup()

	reservation := mustCreateReservation(t, service, "Austin, TX")
	expectFeedMessage(t, reservationStream, FeedInserted, reservation.ReservationID)

	sampleStream, sampleCleanup := feed.Subscribe(ctx, FeedTopic(CollectionPriceSamples, reservation.ReservationID))
	defer sampleCleanup()

	sample := mustCreateSample(t, service, reservation.ReservationID, 149)
	message := expectFeedMessage(t, sampleStream, FeedInserted, sample.SampleID)
	if message.PriceSample == nil || message.PriceSample.LowestPrice != 149 {
		t.Fatalf("expected full sample payload, got %#v", message.PriceSample)
	}

	if err := service.UpdateReservation(context.Background(), reservation.ReservationID, map[string]any{"held_price": 123.0}); err != nil {
		t.Fatalf("update failed: %v", err)
	}
	message = expectFeedMessage(t, reservationStream, FeedUpdated, reservation.ReservationID)
	if message.Reservation == nil || message.Reservation.HeldPrice != 123.0 {
		t.Fatalf("expected updated payload, got %#v", message.Reservation)
	}

	if err := service.DeleteReservation(context.Background(), reservation.ReservationID); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	expectFeedMessage(t, sampleStream, FeedDeleted, sample.SampleID)
	expectFeedMessage(t, reservationStream, FeedDeleted, reservation.ReservationID)
}

func expectFeedMessage(t *testing.T, stream <-chan FeedMessage, kind FeedKind, entityID string) FeedMessage {
	t.Helper()
	select {
	case message := <-stream:
		if message.Kind != kind || message.EntityID != entityID {
			t.Fatalf("expected %s for %s, got %s for %s", kind, entityID, message.Kind, message.EntityID)
		}
		return message
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for %s feed message", kind)
		return FeedMessage{}
	}
}

package trips

import (
	"context"
	"path/filepath"
	"testing"

	githubsqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func newTestDatabase(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(githubsqlite.Open(filepath.Join(t.TempDir(), "trips.db")), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	if err := db.AutoMigrate(&Reservation{}, &PriceSample{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}
	return db
}

func newTestService(t *testing.T, feed *FeedDispatcher) *Service {
	t.Helper()
	service, err := NewService(ServiceConfig{
		Database:   newTestDatabase(t),
		IDProvider: NewUUIDProvider(),
		Feed:       feed,
	})
	if err != nil {
		t.Fatalf("failed to construct service: %v", err)
	}
	return service
}

func mustCreateReservation(t *testing.T, service *Service, location string) Reservation {
	t.Helper()
	reservation, err := service.CreateReservation(context.Background(), Reservation{
		Location:    location,
		PickupDate:  "2026-09-01",
		DropoffDate: "2026-09-08",
		PickupTime:  "10:00 AM",
		DropoffTime: "10:00 AM",
	})
	if err != nil {
		t.Fatalf("failed to create reservation: %v", err)
	}
	return reservation
}

func mustCreateSample(t *testing.T, service *Service, reservationID string, lowest float64) PriceSample {
	t.Helper()
	pricesJSON, err := EncodePrices(map[string]float64{"Economy": lowest, "SUV": lowest + 120})
	if err != nil {
		t.Fatalf("failed to encode prices: %v", err)
	}
	sample, err := service.CreatePriceSample(context.Background(), PriceSample{
		ReservationID:  reservationID,
		PricesJSON:     pricesJSON,
		LowestCategory: "Economy",
		LowestPrice:    lowest,
	})
	if err != nil {
		t.Fatalf("failed to create price sample: %v", err)
	}
	return sample
}

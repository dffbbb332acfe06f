package trips

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	noOpLogger           = zap.NewNop()

	// ErrReservationNotFound indicates the targeted reservation does not exist.
	ErrReservationNotFound = errors.New("trips: reservation not found")
	// ErrPriceSampleNotFound indicates the targeted price sample does not exist.
	ErrPriceSampleNotFound = errors.New("trips: price sample not found")
	// ErrInvalidReservation indicates a reservation payload failed validation.
	ErrInvalidReservation = errors.New("trips: invalid reservation")
	// ErrInvalidPriceSample indicates a price sample payload failed validation.
	ErrInvalidPriceSample = errors.New("trips: invalid price sample")
	// ErrUnknownField indicates a field update referenced a column that is
	// not updatable.
	ErrUnknownField = errors.New("trips: unknown updatable field")
)

const maxIdentifierLength = 190

const (
	opServiceNew        = "trips.service.new"
	opGetReservation    = "trips.get_reservation"
	opListReservations  = "trips.list_reservations"
	opCreateReservation = "trips.create_reservation"
	opUpdateReservation = "trips.update_reservation"
	opDeleteReservation = "trips.delete_reservation"
	opListPriceSamples  = "trips.list_price_samples"
	opCreatePriceSample = "trips.create_price_sample"
	opDeletePriceSample = "trips.delete_price_sample"
)

// updatableReservationColumns whitelists the reservation fields a partial
// update may touch, keyed by wire name.
var updatableReservationColumns = map[string]string{
	"location":     "location",
	"pickup_date":  "pickup_date",
	"dropoff_date": "dropoff_date",
	"pickup_time":  "pickup_time",
	"dropoff_time": "dropoff_time",
	"car_category": "car_category",
	"held_price":   "held_price",
}

// ServiceError carries an operation-scoped error code with its cause.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

// Code returns the operation.reason error code.
func (e *ServiceError) Code() string {
	return e.code
}

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// ServiceConfig wires the reservation service dependencies.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
	Feed       *FeedDispatcher
}

// Service owns persistence for reservations and price samples and publishes
// every committed write to the change feed.
type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider IDProvider
	logger     *zap.Logger
	feed       *FeedDispatcher
}

// NewService validates the configuration and constructs a Service. The feed
// dispatcher is optional; without one, writes simply go unannounced.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Service{
		db:         cfg.Database,
		clock:      clock,
		idProvider: cfg.IDProvider,
		logger:     logger,
		feed:       cfg.Feed,
	}, nil
}

// GetReservation loads one reservation by identifier.
func (s *Service) GetReservation(ctx context.Context, reservationID string) (Reservation, error) {
	var reservation Reservation
	err := s.db.WithContext(ctx).
		Where("reservation_id = ?", reservationID).
		Take(&reservation).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Reservation{}, newServiceError(opGetReservation, "not_found", fmt.Errorf("%w: %s", ErrReservationNotFound, reservationID))
	}
	if err != nil {
		s.logError(opGetReservation, "query_failed", err, zap.String("reservation_id", reservationID))
		return Reservation{}, newServiceError(opGetReservation, "query_failed", err)
	}
	return reservation, nil
}

// ListReservations returns all reservations, newest first.
func (s *Service) ListReservations(ctx context.Context) ([]Reservation, error) {
	var reservations []Reservation
	if err := s.db.WithContext(ctx).
		Order("created_at_s DESC").
		Find(&reservations).Error; err != nil {
		s.logError(opListReservations, "query_failed", err)
		return nil, newServiceError(opListReservations, "query_failed", err)
	}
	return reservations, nil
}

// CreateReservation persists a new reservation under a freshly issued
// identifier and announces the insert. Any identifier on the input (such as a
// caller-side provisional id) is discarded.
func (s *Service) CreateReservation(ctx context.Context, input Reservation) (Reservation, error) {
	if err := validateReservation(input); err != nil {
		return Reservation{}, newServiceError(opCreateReservation, "invalid_input", err)
	}

	reservationID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opCreateReservation, "id_generation_failed", err)
		return Reservation{}, newServiceError(opCreateReservation, "id_generation_failed", err)
	}

	now := s.clock().UTC().Unix()
	reservation := input
	reservation.ReservationID = reservationID
	reservation.CreatedAtSeconds = now
	reservation.UpdatedAtSeconds = now

	if err := s.db.WithContext(ctx).Create(&reservation).Error; err != nil {
		s.logError(opCreateReservation, "insert_failed", err, zap.String("reservation_id", reservationID))
		return Reservation{}, newServiceError(opCreateReservation, "insert_failed", err)
	}

	s.publish(FeedMessage{
		Collection:    CollectionReservations,
		Kind:          FeedInserted,
		EntityID:      reservation.ReservationID,
		ReservationID: reservation.ReservationID,
		Reservation:   &reservation,
	})
	return reservation, nil
}

// UpdateReservation applies a partial field update and announces the new
// authoritative value.
func (s *Service) UpdateReservation(ctx context.Context, reservationID string, fields map[string]any) error {
	if len(fields) == 0 {
		return newServiceError(opUpdateReservation, "invalid_input", fmt.Errorf("%w: empty field set", ErrInvalidReservation))
	}
	columns := make(map[string]any, len(fields)+1)
	for field, value := range fields {
		column, ok := updatableReservationColumns[field]
		if !ok {
			return newServiceError(opUpdateReservation, "invalid_input", fmt.Errorf("%w: %s", ErrUnknownField, field))
		}
		columns[column] = value
	}
	columns["updated_at_s"] = s.clock().UTC().Unix()

	result := s.db.WithContext(ctx).
		Model(&Reservation{}).
		Where("reservation_id = ?", reservationID).
		Updates(columns)
	if result.Error != nil {
		s.logError(opUpdateReservation, "update_failed", result.Error, zap.String("reservation_id", reservationID))
		return newServiceError(opUpdateReservation, "update_failed", result.Error)
	}
	if result.RowsAffected == 0 {
		return newServiceError(opUpdateReservation, "not_found", fmt.Errorf("%w: %s", ErrReservationNotFound, reservationID))
	}

	updated, err := s.GetReservation(ctx, reservationID)
	if err != nil {
		s.logError(opUpdateReservation, "reload_failed", err, zap.String("reservation_id", reservationID))
		return nil
	}
	s.publish(FeedMessage{
		Collection:    CollectionReservations,
		Kind:          FeedUpdated,
		EntityID:      updated.ReservationID,
		ReservationID: updated.ReservationID,
		Reservation:   &updated,
	})
	return nil
}

// DeleteReservation removes the reservation and its price samples, announcing
// each removal on its own topic.
func (s *Service) DeleteReservation(ctx context.Context, reservationID string) error {
	var samples []PriceSample
	if err := s.db.WithContext(ctx).
		Where("reservation_id = ?", reservationID).
		Find(&samples).Error; err != nil {
		s.logError(opDeleteReservation, "sample_query_failed", err, zap.String("reservation_id", reservationID))
		return newServiceError(opDeleteReservation, "sample_query_failed", err)
	}

	result := s.db.WithContext(ctx).
		Where("reservation_id = ?", reservationID).
		Delete(&Reservation{})
	if result.Error != nil {
		s.logError(opDeleteReservation, "delete_failed", result.Error, zap.String("reservation_id", reservationID))
		return newServiceError(opDeleteReservation, "delete_failed", result.Error)
	}
	if result.RowsAffected == 0 {
		return newServiceError(opDeleteReservation, "not_found", fmt.Errorf("%w: %s", ErrReservationNotFound, reservationID))
	}

	if err := s.db.WithContext(ctx).
		Where("reservation_id = ?", reservationID).
		Delete(&PriceSample{}).Error; err != nil {
		s.logError(opDeleteReservation, "sample_delete_failed", err, zap.String("reservation_id", reservationID))
	}

	for _, sample := range samples {
		s.publish(FeedMessage{
			Collection:    CollectionPriceSamples,
			Kind:          FeedDeleted,
			EntityID:      sample.SampleID,
			ReservationID: reservationID,
		})
	}
	s.publish(FeedMessage{
		Collection:    CollectionReservations,
		Kind:          FeedDeleted,
		EntityID:      reservationID,
		ReservationID: reservationID,
	})
	return nil
}

// ListPriceSamples returns one reservation's samples, oldest first.
func (s *Service) ListPriceSamples(ctx context.Context, reservationID string) ([]PriceSample, error) {
	var samples []PriceSample
	if err := s.db.WithContext(ctx).
		Where("reservation_id = ?", reservationID).
		Order("created_at_s ASC").
		Find(&samples).Error; err != nil {
		s.logError(opListPriceSamples, "query_failed", err, zap.String("reservation_id", reservationID))
		return nil, newServiceError(opListPriceSamples, "query_failed", err)
	}
	return samples, nil
}

// CreatePriceSample persists one price observation for an existing
// reservation and announces it on the reservation's sample topic.
func (s *Service) CreatePriceSample(ctx context.Context, input PriceSample) (PriceSample, error) {
	if err := validatePriceSample(input); err != nil {
		return PriceSample{}, newServiceError(opCreatePriceSample, "invalid_input", err)
	}
	if _, err := s.GetReservation(ctx, input.ReservationID); err != nil {
		if errors.Is(err, ErrReservationNotFound) {
			return PriceSample{}, newServiceError(opCreatePriceSample, "reservation_not_found", fmt.Errorf("%w: %s", ErrReservationNotFound, input.ReservationID))
		}
		return PriceSample{}, err
	}

	sampleID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opCreatePriceSample, "id_generation_failed", err)
		return PriceSample{}, newServiceError(opCreatePriceSample, "id_generation_failed", err)
	}

	now := s.clock().UTC().Unix()
	sample := input
	sample.SampleID = sampleID
	sample.CreatedAtSeconds = now
	sample.UpdatedAtSeconds = now

	if err := s.db.WithContext(ctx).Create(&sample).Error; err != nil {
		s.logError(opCreatePriceSample, "insert_failed", err,
			zap.String("reservation_id", sample.ReservationID),
			zap.String("sample_id", sampleID))
		return PriceSample{}, newServiceError(opCreatePriceSample, "insert_failed", err)
	}

	s.publish(FeedMessage{
		Collection:    CollectionPriceSamples,
		Kind:          FeedInserted,
		EntityID:      sample.SampleID,
		ReservationID: sample.ReservationID,
		PriceSample:   &sample,
	})
	return sample, nil
}

// DeletePriceSample removes one sample.
func (s *Service) DeletePriceSample(ctx context.Context, sampleID string) error {
	var sample PriceSample
	err := s.db.WithContext(ctx).
		Where("sample_id = ?", sampleID).
		Take(&sample).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return newServiceError(opDeletePriceSample, "not_found", fmt.Errorf("%w: %s", ErrPriceSampleNotFound, sampleID))
	}
	if err != nil {
		s.logError(opDeletePriceSample, "query_failed", err, zap.String("sample_id", sampleID))
		return newServiceError(opDeletePriceSample, "query_failed", err)
	}

	if err := s.db.WithContext(ctx).
		Where("sample_id = ?", sampleID).
		Delete(&PriceSample{}).Error; err != nil {
		s.logError(opDeletePriceSample, "delete_failed", err, zap.String("sample_id", sampleID))
		return newServiceError(opDeletePriceSample, "delete_failed", err)
	}

	s.publish(FeedMessage{
		Collection:    CollectionPriceSamples,
		Kind:          FeedDeleted,
		EntityID:      sampleID,
		ReservationID: sample.ReservationID,
	})
	return nil
}

func (s *Service) publish(message FeedMessage) {
	if s.feed == nil {
		return
	}
	message.Timestamp = s.clock().UTC()
	s.feed.Publish(message)
}

func validateReservation(reservation Reservation) error {
	if strings.TrimSpace(reservation.Location) == "" {
		return fmt.Errorf("%w: location is required", ErrInvalidReservation)
	}
	if strings.TrimSpace(reservation.PickupDate) == "" {
		return fmt.Errorf("%w: pickup date is required", ErrInvalidReservation)
	}
	if strings.TrimSpace(reservation.DropoffDate) == "" {
		return fmt.Errorf("%w: dropoff date is required", ErrInvalidReservation)
	}
	if len(reservation.Location) > maxIdentifierLength {
		return fmt.Errorf("%w: location exceeds %d characters", ErrInvalidReservation, maxIdentifierLength)
	}
	if reservation.HeldPrice < 0 {
		return fmt.Errorf("%w: held price must not be negative", ErrInvalidReservation)
	}
	return nil
}

func validatePriceSample(sample PriceSample) error {
	if strings.TrimSpace(sample.ReservationID) == "" {
		return fmt.Errorf("%w: reservation id is required", ErrInvalidPriceSample)
	}
	if strings.TrimSpace(sample.LowestCategory) == "" {
		return fmt.Errorf("%w: lowest category is required", ErrInvalidPriceSample)
	}
	if sample.LowestPrice < 0 {
		return fmt.Errorf("%w: lowest price must not be negative", ErrInvalidPriceSample)
	}
	return nil
}

func (s *Service) loggerOrDefault() *zap.Logger {
	if s == nil || s.logger == nil {
		return noOpLogger
	}
	return s.logger
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.loggerOrDefault().Error("trips service error", attrs...)
}

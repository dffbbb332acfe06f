package pricecheck

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/MarcoPoloResearchLab/waypoint/internal/trips"
)

var (
	errMissingService = errors.New("trips service is required")
	errMissingSource  = errors.New("price source is required")
	noOpLogger        = zap.NewNop()

	// ErrNoQuotes indicates the price source returned an empty quote set for
	// a reservation.
	ErrNoQuotes = errors.New("pricecheck: no quotes returned")
)

const defaultCheckDelay = 5 * time.Second

// PriceSource quotes current per-category rental prices for a reservation.
// Implementations live outside the core; see HTTPPriceSource.
type PriceSource interface {
	Quote(ctx context.Context, reservation trips.Reservation) (map[string]float64, error)
}

// CheckerConfig wires the price checker dependencies.
type CheckerConfig struct {
	Service *trips.Service
	Source  PriceSource
	Logger  *zap.Logger
	// CheckDelay spaces out consecutive reservation checks during a sweep to
	// avoid hammering the price source.
	CheckDelay time.Duration
}

// Checker records periodic price observations for every tracked reservation.
type Checker struct {
	service    *trips.Service
	source     PriceSource
	logger     *zap.Logger
	checkDelay time.Duration
}

// NewChecker validates the configuration and constructs a Checker.
func NewChecker(cfg CheckerConfig) (*Checker, error) {
	if cfg.Service == nil {
		return nil, errMissingService
	}
	if cfg.Source == nil {
		return nil, errMissingSource
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	checkDelay := cfg.CheckDelay
	if checkDelay < 0 {
		checkDelay = defaultCheckDelay
	}
	return &Checker{
		service:    cfg.Service,
		source:     cfg.Source,
		logger:     logger,
		checkDelay: checkDelay,
	}, nil
}

// CheckReservation quotes one reservation and stores the observation. The
// stored sample carries the full quote set plus the cheapest category.
func (c *Checker) CheckReservation(ctx context.Context, reservationID string) (trips.PriceSample, error) {
	reservation, err := c.service.GetReservation(ctx, reservationID)
	if err != nil {
		return trips.PriceSample{}, err
	}

	quotes, err := c.source.Quote(ctx, reservation)
	if err != nil {
		c.logger.Warn("price quote failed",
			zap.String("reservation_id", reservationID),
			zap.Error(err))
		return trips.PriceSample{}, err
	}
	if len(quotes) == 0 {
		return trips.PriceSample{}, fmt.Errorf("%w: reservation %s", ErrNoQuotes, reservationID)
	}

	lowestCategory, lowestPrice := lowestQuote(quotes)
	pricesJSON, err := trips.EncodePrices(quotes)
	if err != nil {
		return trips.PriceSample{}, err
	}

	sample, err := c.service.CreatePriceSample(ctx, trips.PriceSample{
		ReservationID:  reservationID,
		PricesJSON:     pricesJSON,
		LowestCategory: lowestCategory,
		LowestPrice:    lowestPrice,
	})
	if err != nil {
		return trips.PriceSample{}, err
	}

	c.logger.Info("price sample recorded",
		zap.String("reservation_id", reservationID),
		zap.String("lowest_category", lowestCategory),
		zap.Float64("lowest_price", lowestPrice))
	return sample, nil
}

// CheckAll sweeps every tracked reservation, continuing past individual
// failures so one bad quote does not starve the rest.
func (c *Checker) CheckAll(ctx context.Context) error {
	reservations, err := c.service.ListReservations(ctx)
	if err != nil {
		return err
	}
	if len(reservations) == 0 {
		c.logger.Info("no reservations to check")
		return nil
	}

	for i, reservation := range reservations {
		if i > 0 && c.checkDelay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.checkDelay):
			}
		}
		if _, err := c.CheckReservation(ctx, reservation.ReservationID); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			c.logger.Error("reservation check failed",
				zap.String("reservation_id", reservation.ReservationID),
				zap.Error(err))
			continue
		}
	}
	return nil
}

// Run performs an immediate sweep, then repeats on the interval until the
// context is cancelled.
func (c *Checker) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("pricecheck: interval must be positive, got %s", interval)
	}

	if err := c.CheckAll(ctx); err != nil && !errors.Is(err, context.Canceled) {
		c.logger.Error("price sweep failed", zap.Error(err))
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := c.CheckAll(ctx); err != nil && !errors.Is(err, context.Canceled) {
				c.logger.Error("price sweep failed", zap.Error(err))
			}
		}
	}
}

// lowestQuote picks the cheapest category; ties break on category name so
// repeated sweeps with equal prices stay deterministic.
func lowestQuote(quotes map[string]float64) (string, float64) {
	lowestCategory := ""
	lowestPrice := 0.0
	for category, price := range quotes {
		if lowestCategory == "" ||
			price < lowestPrice ||
			(price == lowestPrice && category < lowestCategory) {
			lowestCategory = category
			lowestPrice = price
		}
	}
	return lowestCategory, lowestPrice
}

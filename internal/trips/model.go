package trips

import "encoding/json"

// Reservation models a tracked rental booking.
type Reservation struct {
	ReservationID    string  `gorm:"column:reservation_id;primaryKey;size:190;not null" json:"reservation_id"`
	Location         string  `gorm:"column:location;size:190;not null" json:"location"`
	PickupDate       string  `gorm:"column:pickup_date;size:32;not null" json:"pickup_date"`
	DropoffDate      string  `gorm:"column:dropoff_date;size:32;not null" json:"dropoff_date"`
	PickupTime       string  `gorm:"column:pickup_time;size:32;not null;default:''" json:"pickup_time"`
	DropoffTime      string  `gorm:"column:dropoff_time;size:32;not null;default:''" json:"dropoff_time"`
	CarCategory      string  `gorm:"column:car_category;size:190;not null;default:''" json:"car_category"`
	HeldPrice        float64 `gorm:"column:held_price;not null;default:0" json:"held_price"`
	CreatedAtSeconds int64   `gorm:"column:created_at_s;not null;index:idx_reservations_created" json:"created_at_s"`
	UpdatedAtSeconds int64   `gorm:"column:updated_at_s;not null" json:"updated_at_s"`
}

// TableName provides the explicit table binding for GORM.
func (Reservation) TableName() string {
	return "reservations"
}

// EntityID implements the collection entity contract.
func (r Reservation) EntityID() string {
	return r.ReservationID
}

// WithEntityID returns a copy keyed by the provided identifier.
func (r Reservation) WithEntityID(id string) Reservation {
	r.ReservationID = id
	return r
}

// PriceSample captures one periodic price observation for a reservation: the
// full per-category quote plus the cheapest option at observation time.
type PriceSample struct {
	SampleID         string  `gorm:"column:sample_id;primaryKey;size:190;not null" json:"sample_id"`
	ReservationID    string  `gorm:"column:reservation_id;size:190;not null;index:idx_samples_reservation_created,priority:1" json:"reservation_id"`
	PricesJSON       string  `gorm:"column:prices_json;type:text;not null" json:"prices_json"`
	LowestCategory   string  `gorm:"column:lowest_category;size:190;not null" json:"lowest_category"`
	LowestPrice      float64 `gorm:"column:lowest_price;not null" json:"lowest_price"`
	CreatedAtSeconds int64   `gorm:"column:created_at_s;not null;index:idx_samples_reservation_created,priority:2" json:"created_at_s"`
	UpdatedAtSeconds int64   `gorm:"column:updated_at_s;not null" json:"updated_at_s"`
}

// TableName provides the explicit table binding for GORM.
func (PriceSample) TableName() string {
	return "price_samples"
}

// EntityID implements the collection entity contract.
func (s PriceSample) EntityID() string {
	return s.SampleID
}

// WithEntityID returns a copy keyed by the provided identifier.
func (s PriceSample) WithEntityID(id string) PriceSample {
	s.SampleID = id
	return s
}

// Prices decodes the per-category quote map.
func (s PriceSample) Prices() (map[string]float64, error) {
	if s.PricesJSON == "" {
		return map[string]float64{}, nil
	}
	prices := map[string]float64{}
	if err := json.Unmarshal([]byte(s.PricesJSON), &prices); err != nil {
		return nil, err
	}
	return prices, nil
}

// EncodePrices serializes a per-category quote map for storage.
func EncodePrices(prices map[string]float64) (string, error) {
	encoded, err := json.Marshal(prices)
	if err != nil {
		return "", err
	}
	return string(encoded), nil
}

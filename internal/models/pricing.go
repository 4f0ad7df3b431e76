package models

import (
	"time"

	"github.com/google/uuid"
)

// RecommendedAction is the pricing engine's posture for a hotel
type RecommendedAction string

const (
	ActionIncreasePrices RecommendedAction = "INCREASE_PRICES"
	ActionPromotion      RecommendedAction = "PROMOTION"
	ActionStabilize      RecommendedAction = "STABILIZE"
	ActionMaintain       RecommendedAction = "MAINTAIN"
)

// YieldBreakdown exposes the individual yield multipliers applied to a night
type YieldBreakdown struct {
	Occupancy    float64 `json:"occupancy"`
	Window       float64 `json:"window"`
	DayOfWeek    float64 `json:"day_of_week"`
	LengthOfStay float64 `json:"length_of_stay"`
	Event        float64 `json:"event"`
	Demand       float64 `json:"demand"`
	// Composite is the product of all multipliers, clamped into the
	// configured yield band
	Composite float64 `json:"composite"`
}

// NightPrice is the calculated price for one room type on one night
type NightPrice struct {
	Date   time.Time      `json:"date"`
	Season Season         `json:"season"`
	Base   float64        `json:"base"`
	Yield  YieldBreakdown `json:"yield"`
	Price  float64        `json:"price"`
}

// RoomQuote is the per-night price series and total for one requested room
type RoomQuote struct {
	Type   RoomType     `json:"type"`
	Nights []NightPrice `json:"nights"`
	Total  float64      `json:"total"`
}

// PriceQuote is the full quote for a stay request
type PriceQuote struct {
	HotelID     uuid.UUID  `json:"hotel_id"`
	CheckIn     time.Time  `json:"check_in"`
	CheckOut    time.Time  `json:"check_out"`
	Currency    string     `json:"currency"`
	Rooms       []RoomQuote `json:"rooms"`
	Total       float64    `json:"total"`
	GeneratedAt time.Time  `json:"generated_at"`
}

// HotelPricingReport summarizes the yield posture across an analysis window
type HotelPricingReport struct {
	HotelID           uuid.UUID         `json:"hotel_id"`
	AverageYield      float64           `json:"average_yield"`
	YieldStdDev       float64           `json:"yield_std_dev"`
	RecommendedAction RecommendedAction `json:"recommended_action"`
	SurgeDates        []time.Time       `json:"surge_dates,omitempty"`
	GeneratedAt       time.Time         `json:"generated_at"`
}

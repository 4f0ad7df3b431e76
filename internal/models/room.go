package models

import (
	"time"

	"github.com/google/uuid"
)

// RoomType represents the physical room category
// Matches PostgreSQL ENUM: room_type
type RoomType string

const (
	RoomTypeSimple        RoomType = "SIMPLE"
	RoomTypeDouble        RoomType = "DOUBLE"
	RoomTypeDoubleConfort RoomType = "DOUBLE_CONFORT"
	RoomTypeSuite         RoomType = "SUITE"
)

// RoomStatus represents the operational status of a room
// Matches PostgreSQL ENUM: room_status
type RoomStatus string

const (
	RoomStatusAvailable   RoomStatus = "AVAILABLE"
	RoomStatusOccupied    RoomStatus = "OCCUPIED"
	RoomStatusMaintenance RoomStatus = "MAINTENANCE"
	RoomStatusOutOfOrder  RoomStatus = "OUT_OF_ORDER"
)

// Room represents a physical inventory unit
type Room struct {
	ID               uuid.UUID  `json:"id" db:"id"`
	HotelID          uuid.UUID  `json:"hotel_id" db:"hotel_id"`
	Number           string     `json:"number" db:"number"`
	Type             RoomType   `json:"type" db:"type"`
	BasePrice        float64    `json:"base_price" db:"base_price"`
	Status           RoomStatus `json:"status" db:"status"`
	CurrentBookingID *uuid.UUID `json:"current_booking_id,omitempty" db:"current_booking_id"`
	LastCheckOutAt   *time.Time `json:"last_check_out_at,omitempty" db:"last_check_out_at"`
	CreatedAt        time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at" db:"updated_at"`
}

// roomTypeMultipliers are the default per-type price multipliers
var roomTypeMultipliers = map[RoomType]float64{
	RoomTypeSimple:        1.0,
	RoomTypeDouble:        1.5,
	RoomTypeDoubleConfort: 1.8,
	RoomTypeSuite:         2.5,
}

// Multiplier returns the pricing multiplier for the room type
func (t RoomType) Multiplier() float64 {
	if m, ok := roomTypeMultipliers[t]; ok {
		return m
	}
	return 1.0
}

// IsValid reports whether the room type is a known type
func (t RoomType) IsValid() bool {
	_, ok := roomTypeMultipliers[t]
	return ok
}

// IsBookable reports whether the room counts towards sellable inventory.
// OUT_OF_ORDER rooms are excluded from free counts; MAINTENANCE rooms still
// count (maintenance is short-lived and resolved before arrival).
func (s RoomStatus) IsBookable() bool {
	return s != RoomStatusOutOfOrder
}

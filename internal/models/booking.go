package models

import (
	"crypto/rand"
	"database/sql/driver"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// BookingStatus represents the lifecycle status of a booking
// Matches PostgreSQL ENUM: booking_status
type BookingStatus string

const (
	BookingStatusPending   BookingStatus = "PENDING"
	BookingStatusConfirmed BookingStatus = "CONFIRMED"
	BookingStatusCheckedIn BookingStatus = "CHECKED_IN"
	BookingStatusCompleted BookingStatus = "COMPLETED"
	BookingStatusRejected  BookingStatus = "REJECTED"
	BookingStatusCancelled BookingStatus = "CANCELLED"
	BookingStatusNoShow    BookingStatus = "NO_SHOW"
)

// Role represents an actor role in the reservation workflow
type Role string

const (
	RoleAdmin        Role = "ADMIN"
	RoleReceptionist Role = "RECEPTIONIST"
	RoleClient       Role = "CLIENT"
	RoleSystem       Role = "SYSTEM"
)

// Actor identifies who requests a transition
type Actor struct {
	ID   uuid.UUID `json:"id"`
	Role Role      `json:"role"`
	// Nonce is the client-supplied retry key; a transition repeated with the
	// same (booking, target, actor, nonce) within the retry window replays
	// the prior outcome instead of re-executing.
	Nonce string `json:"nonce,omitempty"`
}

// SystemActor is the actor used by scheduler-driven transitions
var SystemActor = Actor{ID: uuid.Nil, Role: RoleSystem}

// RequestedRoom is one room slot of a booking, carrying its price snapshot
// and, after check-in pre-actions, its physical room assignment
type RequestedRoom struct {
	Type            RoomType   `json:"type"`
	BasePrice       float64    `json:"base_price"`
	CalculatedPrice float64    `json:"calculated_price"`
	AssignedRoomID  *uuid.UUID `json:"assigned_room_id,omitempty"`
	AssignedAt      *time.Time `json:"assigned_at,omitempty"`
	AssignedBy      *uuid.UUID `json:"assigned_by,omitempty"`
}

// RequestedRooms is the JSONB column holding the ordered room slots
type RequestedRooms []RequestedRoom

// Value implements the driver.Valuer interface
func (r RequestedRooms) Value() (driver.Value, error) {
	return json.Marshal(r)
}

// Scan implements the sql.Scanner interface
func (r *RequestedRooms) Scan(value interface{}) error {
	if value == nil {
		*r = nil
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return errors.New("type assertion to []byte failed for RequestedRooms")
	}
	return json.Unmarshal(bytes, r)
}

// TransitionEntry is one append-only history record
type TransitionEntry struct {
	From      BookingStatus          `json:"from"`
	To        BookingStatus          `json:"to"`
	Reason    string                 `json:"reason,omitempty"`
	ActorID   uuid.UUID              `json:"actor_id"`
	ActorRole Role                   `json:"actor_role"`
	At        time.Time              `json:"at"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// TransitionHistory is the JSONB column holding the ordered transition log
type TransitionHistory []TransitionEntry

// Value implements the driver.Valuer interface
func (h TransitionHistory) Value() (driver.Value, error) {
	return json.Marshal(h)
}

// Scan implements the sql.Scanner interface
func (h *TransitionHistory) Scan(value interface{}) error {
	if value == nil {
		*h = nil
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return errors.New("type assertion to []byte failed for TransitionHistory")
	}
	return json.Unmarshal(bytes, h)
}

// PricingSnapshot stores the server-calculated amounts at booking time
type PricingSnapshot struct {
	BaseAmount  float64 `json:"base_amount"`
	ExtrasTotal float64 `json:"extras_total"`
	TotalAmount float64 `json:"total_amount"`
	Currency    string  `json:"currency"`
}

// Value implements the driver.Valuer interface
func (p PricingSnapshot) Value() (driver.Value, error) {
	return json.Marshal(p)
}

// Scan implements the sql.Scanner interface
func (p *PricingSnapshot) Scan(value interface{}) error {
	if value == nil {
		*p = PricingSnapshot{}
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return errors.New("type assertion to []byte failed for PricingSnapshot")
	}
	return json.Unmarshal(bytes, p)
}

// Booking represents a hotel reservation and its full lifecycle state
type Booking struct {
	ID     uuid.UUID `json:"id" db:"id"`
	Number string    `json:"number" db:"number"`

	CustomerID uuid.UUID  `json:"customer_id" db:"customer_id"`
	CompanyID  *uuid.UUID `json:"company_id,omitempty" db:"company_id"`
	HotelID    uuid.UUID  `json:"hotel_id" db:"hotel_id"`

	// Half-open stay interval: the booking occupies the nights in
	// [check_in, check_out)
	CheckIn  time.Time `json:"check_in" db:"check_in"`
	CheckOut time.Time `json:"check_out" db:"check_out"`

	Rooms   RequestedRooms  `json:"rooms" db:"rooms"`
	Pricing PricingSnapshot `json:"pricing" db:"pricing"`

	Status  BookingStatus     `json:"status" db:"status"`
	History TransitionHistory `json:"history" db:"history"`

	ConfirmedAt      *time.Time `json:"confirmed_at,omitempty" db:"confirmed_at"`
	RejectedAt       *time.Time `json:"rejected_at,omitempty" db:"rejected_at"`
	ActualCheckInAt  *time.Time `json:"actual_check_in_at,omitempty" db:"actual_check_in_at"`
	ActualCheckOutAt *time.Time `json:"actual_check_out_at,omitempty" db:"actual_check_out_at"`
	CancelledAt      *time.Time `json:"cancelled_at,omitempty" db:"cancelled_at"`

	RefundPercentage  *float64 `json:"refund_percentage,omitempty" db:"refund_percentage"`
	RefundAmount      *float64 `json:"refund_amount,omitempty" db:"refund_amount"`
	CancellationFee   *float64 `json:"cancellation_fee,omitempty" db:"cancellation_fee"`
	HoursUntilCheckIn *float64 `json:"hours_until_check_in,omitempty" db:"hours_until_check_in"`

	RejectionReason *string `json:"rejection_reason,omitempty" db:"rejection_reason"`

	PriceModified           bool    `json:"price_modified" db:"price_modified"`
	PriceModificationReason *string `json:"price_modification_reason,omitempty" db:"price_modification_reason"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// NewBookingNumber builds a human-readable booking number
func NewBookingNumber(now time.Time) string {
	buf := make([]byte, 3)
	rand.Read(buf)
	return fmt.Sprintf("HTL-%s-%s", now.Format("20060102"), hex.EncodeToString(buf))
}

// Nights returns the number of nights in the half-open stay interval
func (b *Booking) Nights() int {
	return int(b.CheckOut.Sub(b.CheckIn).Hours() / 24)
}

// IsTerminal reports whether the booking is in a terminal status
func (b *Booking) IsTerminal() bool {
	switch b.Status {
	case BookingStatusCompleted, BookingStatusRejected, BookingStatusCancelled, BookingStatusNoShow:
		return true
	}
	return false
}

// HoursUntilCheckInFrom returns the (possibly negative) hours between now
// and check-in
func (b *Booking) HoursUntilCheckInFrom(now time.Time) float64 {
	return b.CheckIn.Sub(now).Hours()
}

// AllRoomsAssigned reports whether every requested room slot carries a
// physical room assignment
func (b *Booking) AllRoomsAssigned() bool {
	if len(b.Rooms) == 0 {
		return false
	}
	for _, r := range b.Rooms {
		if r.AssignedRoomID == nil {
			return false
		}
	}
	return true
}

// AssignedRoomIDs returns the physical room ids bound to this booking
func (b *Booking) AssignedRoomIDs() []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(b.Rooms))
	for _, r := range b.Rooms {
		if r.AssignedRoomID != nil {
			ids = append(ids, *r.AssignedRoomID)
		}
	}
	return ids
}

// RoomTypeCounts returns how many rooms of each type the booking requests
func (b *Booking) RoomTypeCounts() map[RoomType]int {
	counts := make(map[RoomType]int)
	for _, r := range b.Rooms {
		counts[r.Type]++
	}
	return counts
}

// RefundOutcome is the computed cancellation refund
type RefundOutcome struct {
	Percentage        float64 `json:"refund_percentage"`
	RefundAmount      float64 `json:"refund_amount"`
	CancellationFee   float64 `json:"cancellation_fee"`
	HoursUntilCheckIn float64 `json:"hours_until_check_in"`
}

// ComputeRefund applies the tiered cancellation policy against the booking
// total. freeWindowHours is the full-refund window:
//   - h >= freeWindowHours: 100%
//   - h >= 12:              50%
//   - otherwise:            0%
func (b *Booking) ComputeRefund(now time.Time, freeWindowHours int) RefundOutcome {
	h := b.HoursUntilCheckInFrom(now)
	total := b.Pricing.TotalAmount

	var pct float64
	switch {
	case h >= float64(freeWindowHours):
		pct = 100
	case h >= 12:
		pct = 50
	default:
		pct = 0
	}

	refund := RoundMoney(total * pct / 100)
	return RefundOutcome{
		Percentage:        pct,
		RefundAmount:      refund,
		CancellationFee:   RoundMoney(total - refund),
		HoursUntilCheckIn: h,
	}
}

// RoundMoney rounds a currency amount to two decimals, half-up
func RoundMoney(v float64) float64 {
	if v < 0 {
		return -RoundMoney(-v)
	}
	return float64(int64(v*100+0.5)) / 100
}

// RequestedRoomInput is one room slot of a booking creation request
type RequestedRoomInput struct {
	Type RoomType `json:"type" binding:"required"`
}

// CreateBookingRequest represents the request to create a booking
type CreateBookingRequest struct {
	HotelID   uuid.UUID            `json:"hotel_id" binding:"required"`
	CompanyID *uuid.UUID           `json:"company_id,omitempty"`
	CheckIn   time.Time            `json:"check_in" binding:"required"`
	CheckOut  time.Time            `json:"check_out" binding:"required"`
	Rooms     []RequestedRoomInput `json:"rooms" binding:"required"`
}

// Validate validates the create booking request
func (r *CreateBookingRequest) Validate() error {
	if !r.CheckIn.Before(r.CheckOut) {
		return ErrValidationFailed("check_in must be before check_out")
	}
	if len(r.Rooms) == 0 {
		return ErrValidationFailed("at least one room is required")
	}
	if len(r.Rooms) > 10 {
		return ErrValidationFailed("maximum 10 rooms can be booked at once")
	}
	for _, room := range r.Rooms {
		if !room.Type.IsValid() {
			return ErrValidationFailed(fmt.Sprintf("unknown room type: %s", room.Type))
		}
	}
	return nil
}

// RoomAssignment binds a physical room to a requested-room slot by index
type RoomAssignment struct {
	SlotIndex int       `json:"slot_index"`
	RoomID    uuid.UUID `json:"room_id"`
}

// TransitionRequest represents a lifecycle transition command
type TransitionRequest struct {
	BookingID uuid.UUID              `json:"booking_id"`
	Target    BookingStatus          `json:"target" binding:"required"`
	Reason    string                 `json:"reason,omitempty"`
	Actor     Actor                  `json:"actor"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`

	// Command-specific inputs
	RoomAssignments []RoomAssignment `json:"room_assignments,omitempty"`
	CustomRefund    *float64         `json:"custom_refund,omitempty"`
	FinalExtras     *float64         `json:"final_extras,omitempty"`
	ActualTime      *time.Time       `json:"actual_time,omitempty"`
}

// TransitionResult is the outcome of a successfully applied transition
type TransitionResult struct {
	From        BookingStatus `json:"from"`
	To          BookingStatus `json:"to"`
	Actor       Actor         `json:"actor"`
	At          time.Time     `json:"at"`
	PreActions  []string      `json:"pre_actions,omitempty"`
	PostActions []string      `json:"post_actions,omitempty"`
	Booking     *Booking      `json:"booking"`
}

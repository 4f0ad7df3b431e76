package models

import (
	"time"

	"github.com/google/uuid"
)

// EventKind enumerates the notification bus event kinds
type EventKind string

const (
	EventTransitionStarted   EventKind = "TRANSITION_STARTED"
	EventTransitionCompleted EventKind = "TRANSITION_COMPLETED"
	EventWorkflowError       EventKind = "WORKFLOW_ERROR"
	EventBookingConfirmed    EventKind = "BOOKING_CONFIRMED"
	EventBookingRejected     EventKind = "BOOKING_REJECTED"
	EventBookingCheckedIn    EventKind = "BOOKING_CHECKED_IN"
	EventBookingCheckedOut   EventKind = "BOOKING_CHECKED_OUT"
	EventBookingCancelled    EventKind = "BOOKING_CANCELLED"
	EventRefundCalculated    EventKind = "REFUND_CALCULATED"
	EventAvailabilityChanged EventKind = "AVAILABILITY_CHANGED"
	EventPriceUpdated        EventKind = "PRICE_UPDATED"
	EventDemandSurge         EventKind = "DEMAND_SURGE"
	EventBookingReminder     EventKind = "BOOKING_REMINDER"
	EventInvoiceGenerated    EventKind = "INVOICE_GENERATED"
	EventExtrasAdded         EventKind = "EXTRAS_ADDED"
	EventMetricsSnapshot     EventKind = "METRICS_SNAPSHOT"
)

// Availability change sub-kinds, carried in the event payload
const (
	AvailabilityRoomsReserved  = "ROOMS_RESERVED"
	AvailabilityRoomsOccupied  = "ROOMS_OCCUPIED"
	AvailabilityRoomsAvailable = "ROOMS_AVAILABLE"
)

// Reminder sub-kinds, carried in the event payload
const (
	ReminderCheckInTomorrow   = "CHECK_IN_TOMORROW"
	ReminderCheckInToday      = "CHECK_IN_TODAY"
	ReminderPaymentDue        = "PAYMENT_DUE"
	ReminderValidationPending = "VALIDATION_PENDING"
)

// Workflow error severities
const (
	SeverityLow  = "low"
	SeverityHigh = "high"
)

// Event is the unit published on the notification bus. Payload is a compact,
// JSON-serializable object; subscribers filter by kind.
type Event struct {
	Topic     string                 `json:"topic"`
	Kind      EventKind              `json:"kind"`
	At        time.Time              `json:"at"`
	BookingID *uuid.UUID             `json:"booking_id,omitempty"`
	HotelID   *uuid.UUID             `json:"hotel_id,omitempty"`
	UserID    *uuid.UUID             `json:"user_id,omitempty"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
}

// IsCritical reports whether the kind must never be dropped by the bus.
// Critical kinds apply backpressure instead of drop-oldest.
func (k EventKind) IsCritical() bool {
	switch k {
	case EventTransitionStarted, EventTransitionCompleted, EventWorkflowError:
		return true
	}
	return false
}

// TopicAdmin is the administrative broadcast topic
const TopicAdmin = "admin"

// TopicUser builds the per-user topic name
func TopicUser(id uuid.UUID) string {
	return "user:" + id.String()
}

// TopicHotel builds the per-hotel topic name
func TopicHotel(id uuid.UUID) string {
	return "hotel:" + id.String()
}

// TopicBooking builds the per-booking topic name
func TopicBooking(id uuid.UUID) string {
	return "booking:" + id.String()
}

// TopicAvailability builds the per-hotel availability topic name
func TopicAvailability(id uuid.UUID) string {
	return "availability:" + id.String()
}

// TopicPricing builds the per-hotel pricing topic name
func TopicPricing(id uuid.UUID) string {
	return "pricing:" + id.String()
}

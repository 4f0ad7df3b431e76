package database

import (
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/stayhub/hotel-reservation-backend/internal/models"
)

// ErrConcurrentUpdate is returned when a guarded UPDATE matched no row
// because the booking status changed underneath the caller
var ErrConcurrentUpdate = errors.New("booking was modified concurrently")

// bookingColumns is the canonical column list for bookings SELECTs
const bookingColumns = `
	id, number, customer_id, company_id, hotel_id,
	check_in, check_out, rooms, pricing, status, history,
	confirmed_at, rejected_at, actual_check_in_at, actual_check_out_at, cancelled_at,
	refund_percentage, refund_amount, cancellation_fee, hours_until_check_in,
	rejection_reason, price_modified, price_modification_reason,
	created_at, updated_at`

// BookingRepository handles database operations for the bookings table
type BookingRepository struct {
	db DB
}

// NewBookingRepository creates a new BookingRepository
func NewBookingRepository(db DB) *BookingRepository {
	return &BookingRepository{db: db}
}

// Create creates a new booking in PENDING status
func (r *BookingRepository) Create(booking *models.Booking) error {
	query := `
		INSERT INTO bookings (
			id, number, customer_id, company_id, hotel_id,
			check_in, check_out, rooms, pricing, status, history
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11
		)
		RETURNING created_at, updated_at
	`

	if booking.ID == uuid.Nil {
		booking.ID = uuid.New()
	}

	err := r.db.QueryRow(
		query,
		booking.ID, booking.Number, booking.CustomerID, booking.CompanyID, booking.HotelID,
		booking.CheckIn, booking.CheckOut, booking.Rooms, booking.Pricing,
		booking.Status, booking.History,
	).Scan(&booking.CreatedAt, &booking.UpdatedAt)

	return err
}

// GetByID retrieves a booking by ID
func (r *BookingRepository) GetByID(bookingID uuid.UUID) (*models.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE id = $1`
	return r.scanBooking(r.db.QueryRow(query, bookingID))
}

// GetByNumber retrieves a booking by its human-readable number
func (r *BookingRepository) GetByNumber(number string) (*models.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE number = $1`
	return r.scanBooking(r.db.QueryRow(query, number))
}

// GetByCustomer retrieves all bookings for a customer, newest first
func (r *BookingRepository) GetByCustomer(customerID uuid.UUID) ([]models.Booking, error) {
	query := `
		SELECT ` + bookingColumns + `
		FROM bookings
		WHERE customer_id = $1
		ORDER BY created_at DESC
	`

	rows, err := r.db.Query(query, customerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return r.scanBookings(rows)
}

// GetOverlapping retrieves the active bookings of a hotel whose stay interval
// overlaps [checkIn, checkOut). Only CONFIRMED and CHECKED_IN bookings consume
// inventory. excludeID, when non-nil, removes one booking from the result
// (used when re-checking availability for a booking being confirmed).
func (r *BookingRepository) GetOverlapping(hotelID uuid.UUID, checkIn, checkOut time.Time, excludeID *uuid.UUID) ([]models.Booking, error) {
	query := `
		SELECT ` + bookingColumns + `
		FROM bookings
		WHERE hotel_id = $1
		  AND status IN ('CONFIRMED', 'CHECKED_IN')
		  AND check_in < $3
		  AND check_out > $2
		  AND ($4::uuid IS NULL OR id != $4)
		ORDER BY check_in
	`

	rows, err := r.db.Query(query, hotelID, checkIn, checkOut, excludeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return r.scanBookings(rows)
}

// ApplyTransition persists a transition outcome. The UPDATE is guarded on the
// expected current status so concurrent transitions on the same booking
// cannot both win; the loser gets ErrConcurrentUpdate.
func (r *BookingRepository) ApplyTransition(booking *models.Booking, expectedStatus models.BookingStatus) error {
	query := `
		UPDATE bookings
		SET status = $2,
		    rooms = $3,
		    pricing = $4,
		    history = $5,
		    confirmed_at = $6,
		    rejected_at = $7,
		    actual_check_in_at = $8,
		    actual_check_out_at = $9,
		    cancelled_at = $10,
		    refund_percentage = $11,
		    refund_amount = $12,
		    cancellation_fee = $13,
		    hours_until_check_in = $14,
		    rejection_reason = $15,
		    price_modified = $16,
		    price_modification_reason = $17,
		    updated_at = NOW()
		WHERE id = $1 AND status = $18
	`

	result, err := r.db.Exec(
		query,
		booking.ID, booking.Status, booking.Rooms, booking.Pricing, booking.History,
		booking.ConfirmedAt, booking.RejectedAt, booking.ActualCheckInAt,
		booking.ActualCheckOutAt, booking.CancelledAt,
		booking.RefundPercentage, booking.RefundAmount, booking.CancellationFee,
		booking.HoursUntilCheckIn, booking.RejectionReason,
		booking.PriceModified, booking.PriceModificationReason,
		expectedStatus,
	)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return ErrConcurrentUpdate
	}

	return nil
}

// GetStalePending retrieves PENDING bookings created before the cutoff.
// Used by the scheduler to expire bookings never validated by an admin.
func (r *BookingRepository) GetStalePending(cutoff time.Time) ([]models.Booking, error) {
	query := `
		SELECT ` + bookingColumns + `
		FROM bookings
		WHERE status = 'PENDING'
		  AND created_at < $1
		ORDER BY created_at
	`

	rows, err := r.db.Query(query, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return r.scanBookings(rows)
}

// GetNoShowCandidates retrieves CONFIRMED bookings whose check-in date passed
// more than the grace period ago without an arrival
func (r *BookingRepository) GetNoShowCandidates(now time.Time, grace time.Duration) ([]models.Booking, error) {
	query := `
		SELECT ` + bookingColumns + `
		FROM bookings
		WHERE status = 'CONFIRMED'
		  AND check_in < $1
		ORDER BY check_in
	`

	rows, err := r.db.Query(query, now.Add(-grace))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return r.scanBookings(rows)
}

// GetArrivalsBetween retrieves CONFIRMED bookings with check-in inside
// [from, to). Used by the reminder job.
func (r *BookingRepository) GetArrivalsBetween(from, to time.Time) ([]models.Booking, error) {
	query := `
		SELECT ` + bookingColumns + `
		FROM bookings
		WHERE status = 'CONFIRMED'
		  AND check_in >= $1
		  AND check_in < $2
		ORDER BY check_in
	`

	rows, err := r.db.Query(query, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return r.scanBookings(rows)
}

// GetPendingOlderThan retrieves PENDING bookings awaiting validation for
// longer than the given age. Used for the admin validation reminder.
func (r *BookingRepository) GetPendingOlderThan(now time.Time, age time.Duration) ([]models.Booking, error) {
	query := `
		SELECT ` + bookingColumns + `
		FROM bookings
		WHERE status = 'PENDING'
		  AND created_at < $1
		ORDER BY created_at
	`

	rows, err := r.db.Query(query, now.Add(-age))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return r.scanBookings(rows)
}

// CountOccupiedOnDate counts rooms consumed by active bookings of a hotel on
// a given night. JSONB array length of the rooms column stands in for the
// per-booking room count.
func (r *BookingRepository) CountOccupiedOnDate(hotelID uuid.UUID, date time.Time) (int, error) {
	query := `
		SELECT COALESCE(SUM(jsonb_array_length(rooms)), 0)
		FROM bookings
		WHERE hotel_id = $1
		  AND status IN ('CONFIRMED', 'CHECKED_IN')
		  AND check_in <= $2
		  AND check_out > $2
	`

	var count int
	err := r.db.QueryRow(query, hotelID, date).Scan(&count)
	return count, err
}

// rowScanner abstracts sql.Row and sql.Rows for the shared scan helper
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanBooking scans a single booking row
func (r *BookingRepository) scanBooking(row rowScanner) (*models.Booking, error) {
	var booking models.Booking

	err := row.Scan(
		&booking.ID, &booking.Number, &booking.CustomerID, &booking.CompanyID, &booking.HotelID,
		&booking.CheckIn, &booking.CheckOut, &booking.Rooms, &booking.Pricing,
		&booking.Status, &booking.History,
		&booking.ConfirmedAt, &booking.RejectedAt, &booking.ActualCheckInAt,
		&booking.ActualCheckOutAt, &booking.CancelledAt,
		&booking.RefundPercentage, &booking.RefundAmount, &booking.CancellationFee,
		&booking.HoursUntilCheckIn, &booking.RejectionReason,
		&booking.PriceModified, &booking.PriceModificationReason,
		&booking.CreatedAt, &booking.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return &booking, nil
}

// scanBookings scans multiple booking rows
func (r *BookingRepository) scanBookings(rows *sql.Rows) ([]models.Booking, error) {
	var bookings []models.Booking

	for rows.Next() {
		booking, err := r.scanBooking(rows)
		if err != nil {
			return nil, err
		}
		bookings = append(bookings, *booking)
	}

	return bookings, rows.Err()
}

package database

import (
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stayhub/hotel-reservation-backend/internal/models"
)

var bookingColumnList = []string{
	"id", "number", "customer_id", "company_id", "hotel_id",
	"check_in", "check_out", "rooms", "pricing", "status", "history",
	"confirmed_at", "rejected_at", "actual_check_in_at", "actual_check_out_at", "cancelled_at",
	"refund_percentage", "refund_amount", "cancellation_fee", "hours_until_check_in",
	"rejection_reason", "price_modified", "price_modification_reason",
	"created_at", "updated_at",
}

func sampleBookingRow(id uuid.UUID, status models.BookingStatus) []driverValue {
	now := time.Now()
	rooms, _ := json.Marshal(models.RequestedRooms{{Type: models.RoomTypeDouble, BasePrice: 100, CalculatedPrice: 150}})
	pricing, _ := json.Marshal(models.PricingSnapshot{BaseAmount: 450, TotalAmount: 450, Currency: "EUR"})
	history, _ := json.Marshal(models.TransitionHistory{})

	return []driverValue{
		id, "HTL-20260301-abc123", uuid.New(), nil, uuid.New(),
		now.AddDate(0, 0, 3), now.AddDate(0, 0, 6), rooms, pricing, string(status), history,
		nil, nil, nil, nil, nil,
		nil, nil, nil, nil,
		nil, false, nil,
		now, now,
	}
}

type driverValue = driver.Value

func TestBookingRepositoryCreate(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewBookingRepository(&mockDatabase{db: db})

	t.Run("Success", func(t *testing.T) {
		now := time.Now()
		booking := &models.Booking{
			Number:     "HTL-20260301-abc123",
			CustomerID: uuid.New(),
			HotelID:    uuid.New(),
			CheckIn:    now.AddDate(0, 0, 3),
			CheckOut:   now.AddDate(0, 0, 6),
			Status:     models.BookingStatusPending,
			Rooms:      models.RequestedRooms{{Type: models.RoomTypeDouble, BasePrice: 100, CalculatedPrice: 150}},
			Pricing:    models.PricingSnapshot{BaseAmount: 450, TotalAmount: 450, Currency: "EUR"},
			History:    models.TransitionHistory{},
		}

		mock.ExpectQuery(`INSERT INTO bookings`).
			WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).AddRow(now, now))

		err := repo.Create(booking)
		require.NoError(t, err)
		assert.NotEqual(t, uuid.Nil, booking.ID)
		assert.False(t, booking.CreatedAt.IsZero())

		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Database Error", func(t *testing.T) {
		mock.ExpectQuery(`INSERT INTO bookings`).
			WillReturnError(fmt.Errorf("database error"))

		err := repo.Create(&models.Booking{})
		assert.Error(t, err)
	})
}

func TestBookingRepositoryGetByID(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewBookingRepository(&mockDatabase{db: db})

	t.Run("Found", func(t *testing.T) {
		bookingID := uuid.New()

		mock.ExpectQuery(`SELECT .+ FROM bookings WHERE id`).
			WithArgs(bookingID).
			WillReturnRows(sqlmock.NewRows(bookingColumnList).AddRow(sampleBookingRow(bookingID, models.BookingStatusPending)...))

		booking, err := repo.GetByID(bookingID)
		require.NoError(t, err)
		require.NotNil(t, booking)
		assert.Equal(t, bookingID, booking.ID)
		assert.Equal(t, models.BookingStatusPending, booking.Status)
		require.Len(t, booking.Rooms, 1)
		assert.Equal(t, models.RoomTypeDouble, booking.Rooms[0].Type)
		assert.Equal(t, 450.0, booking.Pricing.TotalAmount)

		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Not Found", func(t *testing.T) {
		bookingID := uuid.New()

		mock.ExpectQuery(`SELECT .+ FROM bookings WHERE id`).
			WithArgs(bookingID).
			WillReturnError(sql.ErrNoRows)

		booking, err := repo.GetByID(bookingID)
		require.NoError(t, err)
		assert.Nil(t, booking)
	})
}

func TestBookingRepositoryApplyTransition(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewBookingRepository(&mockDatabase{db: db})

	booking := &models.Booking{
		ID:      uuid.New(),
		Status:  models.BookingStatusConfirmed,
		Rooms:   models.RequestedRooms{},
		Pricing: models.PricingSnapshot{TotalAmount: 450, Currency: "EUR"},
		History: models.TransitionHistory{},
	}

	t.Run("Success", func(t *testing.T) {
		mock.ExpectExec(`UPDATE bookings`).
			WillReturnResult(sqlmock.NewResult(0, 1))

		err := repo.ApplyTransition(booking, models.BookingStatusPending)
		require.NoError(t, err)

		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Concurrent Update", func(t *testing.T) {
		mock.ExpectExec(`UPDATE bookings`).
			WillReturnResult(sqlmock.NewResult(0, 0))

		err := repo.ApplyTransition(booking, models.BookingStatusPending)
		assert.ErrorIs(t, err, ErrConcurrentUpdate)
	})
}

func TestBookingRepositoryGetOverlapping(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewBookingRepository(&mockDatabase{db: db})

	hotelID := uuid.New()
	checkIn := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	checkOut := checkIn.AddDate(0, 0, 3)

	t.Run("Returns Active Bookings", func(t *testing.T) {
		rows := sqlmock.NewRows(bookingColumnList).
			AddRow(sampleBookingRow(uuid.New(), models.BookingStatusConfirmed)...).
			AddRow(sampleBookingRow(uuid.New(), models.BookingStatusCheckedIn)...)

		mock.ExpectQuery(`SELECT .+ FROM bookings`).
			WithArgs(hotelID, checkIn, checkOut, nil).
			WillReturnRows(rows)

		bookings, err := repo.GetOverlapping(hotelID, checkIn, checkOut, nil)
		require.NoError(t, err)
		assert.Len(t, bookings, 2)

		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Excludes Booking", func(t *testing.T) {
		excludeID := uuid.New()

		mock.ExpectQuery(`SELECT .+ FROM bookings`).
			WithArgs(hotelID, checkIn, checkOut, &excludeID).
			WillReturnRows(sqlmock.NewRows(bookingColumnList))

		bookings, err := repo.GetOverlapping(hotelID, checkIn, checkOut, &excludeID)
		require.NoError(t, err)
		assert.Empty(t, bookings)
	})
}

func TestBookingRepositoryCountOccupiedOnDate(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewBookingRepository(&mockDatabase{db: db})

	hotelID := uuid.New()
	date := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`SELECT COALESCE`).
		WithArgs(hotelID, date).
		WillReturnRows(sqlmock.NewRows([]string{"sum"}).AddRow(7))

	count, err := repo.CountOccupiedOnDate(hotelID, date)
	require.NoError(t, err)
	assert.Equal(t, 7, count)

	assert.NoError(t, mock.ExpectationsWereMet())
}

// mockDatabase adapts a sqlmock database to the DB interface
type mockDatabase struct {
	db *sql.DB
}

func (m *mockDatabase) Get(dest interface{}, query string, args ...interface{}) error {
	return fmt.Errorf("Get not implemented in mock")
}

func (m *mockDatabase) Select(dest interface{}, query string, args ...interface{}) error {
	return fmt.Errorf("Select not implemented in mock")
}

func (m *mockDatabase) Query(query string, args ...interface{}) (*sql.Rows, error) {
	return m.db.Query(query, args...)
}

func (m *mockDatabase) QueryRow(query string, args ...interface{}) *sql.Row {
	return m.db.QueryRow(query, args...)
}

func (m *mockDatabase) Exec(query string, args ...interface{}) (sql.Result, error) {
	return m.db.Exec(query, args...)
}

func (m *mockDatabase) Close() error {
	return m.db.Close()
}

func (m *mockDatabase) Ping() error {
	return m.db.Ping()
}

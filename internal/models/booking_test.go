package models

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testBooking(total float64, checkIn time.Time) *Booking {
	return &Booking{
		ID:         uuid.New(),
		CustomerID: uuid.New(),
		HotelID:    uuid.New(),
		CheckIn:    checkIn,
		CheckOut:   checkIn.AddDate(0, 0, 3),
		Status:     BookingStatusConfirmed,
		Pricing:    PricingSnapshot{BaseAmount: total, TotalAmount: total, Currency: "EUR"},
	}
}

func TestComputeRefund(t *testing.T) {
	checkIn := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	booking := testBooking(600, checkIn)

	t.Run("Full Refund Outside Window", func(t *testing.T) {
		now := checkIn.Add(-48 * time.Hour)
		outcome := booking.ComputeRefund(now, 24)
		assert.Equal(t, 100.0, outcome.Percentage)
		assert.Equal(t, 600.0, outcome.RefundAmount)
		assert.Equal(t, 0.0, outcome.CancellationFee)
	})

	t.Run("Full Refund At Exact Boundary", func(t *testing.T) {
		now := checkIn.Add(-24 * time.Hour)
		outcome := booking.ComputeRefund(now, 24)
		assert.Equal(t, 100.0, outcome.Percentage)
	})

	t.Run("Half Refund Just Inside Window", func(t *testing.T) {
		now := checkIn.Add(-23*time.Hour - 59*time.Minute)
		outcome := booking.ComputeRefund(now, 24)
		assert.Equal(t, 50.0, outcome.Percentage)
		assert.Equal(t, 300.0, outcome.RefundAmount)
		assert.Equal(t, 300.0, outcome.CancellationFee)
	})

	t.Run("Half Refund At Twelve Hours", func(t *testing.T) {
		now := checkIn.Add(-12 * time.Hour)
		outcome := booking.ComputeRefund(now, 24)
		assert.Equal(t, 50.0, outcome.Percentage)
	})

	t.Run("No Refund Under Twelve Hours", func(t *testing.T) {
		now := checkIn.Add(-11 * time.Hour)
		outcome := booking.ComputeRefund(now, 24)
		assert.Equal(t, 0.0, outcome.Percentage)
		assert.Equal(t, 0.0, outcome.RefundAmount)
		assert.Equal(t, 600.0, outcome.CancellationFee)
	})

	t.Run("No Refund After Check In", func(t *testing.T) {
		now := checkIn.Add(2 * time.Hour)
		outcome := booking.ComputeRefund(now, 24)
		assert.Equal(t, 0.0, outcome.Percentage)
		assert.Negative(t, outcome.HoursUntilCheckIn)
	})

	t.Run("Extended Free Window", func(t *testing.T) {
		now := checkIn.Add(-36 * time.Hour)
		assert.Equal(t, 50.0, booking.ComputeRefund(now, 48).Percentage)
		assert.Equal(t, 100.0, booking.ComputeRefund(now, 24).Percentage)
	})

	t.Run("Rounding", func(t *testing.T) {
		odd := testBooking(100.50, checkIn)
		now := checkIn.Add(-13 * time.Hour)
		outcome := odd.ComputeRefund(now, 24)
		assert.Equal(t, 50.25, outcome.RefundAmount)
		assert.Equal(t, 50.25, outcome.CancellationFee)
	})
}

func TestNights(t *testing.T) {
	checkIn := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	booking := testBooking(100, checkIn)
	assert.Equal(t, 3, booking.Nights())

	oneNight := testBooking(100, checkIn)
	oneNight.CheckOut = checkIn.AddDate(0, 0, 1)
	assert.Equal(t, 1, oneNight.Nights())
}

func TestIsTerminal(t *testing.T) {
	booking := testBooking(100, time.Now())

	booking.Status = BookingStatusConfirmed
	assert.False(t, booking.IsTerminal())

	for _, s := range []BookingStatus{BookingStatusCompleted, BookingStatusRejected, BookingStatusCancelled, BookingStatusNoShow} {
		booking.Status = s
		assert.True(t, booking.IsTerminal())
	}
}

func TestAllRoomsAssigned(t *testing.T) {
	booking := testBooking(100, time.Now())
	assert.False(t, booking.AllRoomsAssigned(), "no rooms means nothing assigned")

	roomID := uuid.New()
	booking.Rooms = RequestedRooms{
		{Type: RoomTypeDouble, AssignedRoomID: &roomID},
		{Type: RoomTypeSuite},
	}
	assert.False(t, booking.AllRoomsAssigned())

	suiteID := uuid.New()
	booking.Rooms[1].AssignedRoomID = &suiteID
	assert.True(t, booking.AllRoomsAssigned())
	assert.Len(t, booking.AssignedRoomIDs(), 2)
}

func TestRoomTypeCounts(t *testing.T) {
	booking := testBooking(100, time.Now())
	booking.Rooms = RequestedRooms{
		{Type: RoomTypeDouble},
		{Type: RoomTypeDouble},
		{Type: RoomTypeSuite},
	}

	counts := booking.RoomTypeCounts()
	assert.Equal(t, 2, counts[RoomTypeDouble])
	assert.Equal(t, 1, counts[RoomTypeSuite])
}

func TestCreateBookingRequestValidate(t *testing.T) {
	base := CreateBookingRequest{
		HotelID:  uuid.New(),
		CheckIn:  time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC),
		CheckOut: time.Date(2026, 3, 13, 0, 0, 0, 0, time.UTC),
		Rooms:    []RequestedRoomInput{{Type: RoomTypeDouble}},
	}

	t.Run("Valid", func(t *testing.T) {
		req := base
		assert.NoError(t, req.Validate())
	})

	t.Run("Inverted Window", func(t *testing.T) {
		req := base
		req.CheckOut = req.CheckIn
		err := req.Validate()
		require.Error(t, err)
		assert.Equal(t, ErrKindValidationFailed, KindOf(err))
	})

	t.Run("No Rooms", func(t *testing.T) {
		req := base
		req.Rooms = nil
		assert.Error(t, req.Validate())
	})

	t.Run("Too Many Rooms", func(t *testing.T) {
		req := base
		req.Rooms = make([]RequestedRoomInput, 11)
		for i := range req.Rooms {
			req.Rooms[i] = RequestedRoomInput{Type: RoomTypeSimple}
		}
		assert.Error(t, req.Validate())
	})

	t.Run("Unknown Room Type", func(t *testing.T) {
		req := base
		req.Rooms = []RequestedRoomInput{{Type: RoomType("PENTHOUSE")}}
		assert.Error(t, req.Validate())
	})
}

func TestNewBookingNumber(t *testing.T) {
	now := time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC)
	number := NewBookingNumber(now)
	assert.Regexp(t, `^HTL-20260310-[0-9a-f]{6}$`, number)
	assert.NotEqual(t, number, NewBookingNumber(now), "numbers should not repeat")
}

func TestRoundMoney(t *testing.T) {
	assert.Equal(t, 487.5, RoundMoney(487.5))
	assert.Equal(t, 10.01, RoundMoney(10.006))
	assert.Equal(t, 10.0, RoundMoney(10.004))
	assert.Equal(t, -10.01, RoundMoney(-10.006))
	assert.Equal(t, 0.0, RoundMoney(0))
}

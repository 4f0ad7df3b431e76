package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stayhub/hotel-reservation-backend/internal/config"
	"github.com/stayhub/hotel-reservation-backend/internal/models"
)

// bookingWriter is the booking repository surface of the booking service
type bookingWriter interface {
	Create(booking *models.Booking) error
	GetByID(bookingID uuid.UUID) (*models.Booking, error)
	GetByNumber(number string) (*models.Booking, error)
	GetByCustomer(customerID uuid.UUID) ([]models.Booking, error)
}

// BookingService creates bookings and serves booking reads. New bookings
// always start in PENDING and never consume inventory until confirmed; the
// price snapshot is taken server-side at creation time.
type BookingService struct {
	bookings     bookingWriter
	hotels       hotelStore
	rooms        priceInventory
	availability *AvailabilityService
	pricing      *PricingService
	logger       *logrus.Logger
	cfg          config.ReservationConfig

	now func() time.Time
}

// NewBookingService creates a new BookingService
func NewBookingService(bookings bookingWriter, hotels hotelStore, rooms priceInventory, availability *AvailabilityService, pricing *PricingService, cfg config.ReservationConfig, logger *logrus.Logger) *BookingService {
	return &BookingService{
		bookings:     bookings,
		hotels:       hotels,
		rooms:        rooms,
		availability: availability,
		pricing:      pricing,
		logger:       logger,
		cfg:          cfg,
		now:          time.Now,
	}
}

// CreateBooking validates, prices and persists a new PENDING booking
func (s *BookingService) CreateBooking(ctx context.Context, customerID uuid.UUID, req models.CreateBookingRequest) (*models.Booking, error) {
	// Step 1: Validate the request shape
	if err := req.Validate(); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	checkIn := dateOnly(req.CheckIn.UTC())
	checkOut := dateOnly(req.CheckOut.UTC())
	if checkIn.Before(dateOnly(now)) {
		return nil, models.ErrValidationFailed("check_in cannot be in the past")
	}

	// Step 2: The hotel must exist
	hotel, err := s.hotels.GetByID(req.HotelID)
	if err != nil {
		return nil, models.ErrInternal(fmt.Sprintf("failed to load hotel: %v", err))
	}
	if hotel == nil {
		return nil, models.ErrNotFound("hotel not found")
	}

	// Step 3: Reject requests the hotel can never accommodate. PENDING does
	// not reserve inventory; confirmation re-checks with the cache bypassed.
	needed := make(map[models.RoomType]int)
	for _, r := range req.Rooms {
		needed[r.Type]++
	}
	view, err := s.availability.Check(ctx, req.HotelID, checkIn, checkOut, CheckOptions{})
	if err != nil {
		return nil, err
	}
	for roomType, n := range needed {
		if view.MinFree(roomType) < n {
			return nil, models.ErrValidationFailed(fmt.Sprintf("Plus de chambres %s disponibles", roomType))
		}
	}

	// Step 4: Price the stay server-side
	roomTypes := make([]models.RoomType, len(req.Rooms))
	for i, r := range req.Rooms {
		roomTypes[i] = r.Type
	}
	quote, err := s.pricing.Quote(ctx, req.HotelID, checkIn, checkOut, roomTypes, QuoteOptions{})
	if err != nil {
		return nil, err
	}

	basePrices, err := s.rooms.MinBasePriceByType(req.HotelID)
	if err != nil {
		return nil, models.ErrInternal(fmt.Sprintf("failed to load base prices: %v", err))
	}

	// Step 5: Assemble and persist
	booking := &models.Booking{
		ID:         uuid.New(),
		Number:     models.NewBookingNumber(now),
		CustomerID: customerID,
		CompanyID:  req.CompanyID,
		HotelID:    req.HotelID,
		CheckIn:    checkIn,
		CheckOut:   checkOut,
		Status:     models.BookingStatusPending,
		History:    models.TransitionHistory{},
	}

	var baseAmount float64
	for i, roomQuote := range quote.Rooms {
		booking.Rooms = append(booking.Rooms, models.RequestedRoom{
			Type:            roomTypes[i],
			BasePrice:       basePrices[roomTypes[i]],
			CalculatedPrice: roomQuote.Total,
		})
		baseAmount += roomQuote.Total
	}
	booking.Pricing = models.PricingSnapshot{
		BaseAmount:  models.RoundMoney(baseAmount),
		ExtrasTotal: 0,
		TotalAmount: models.RoundMoney(baseAmount),
		Currency:    quote.Currency,
	}

	if err := s.bookings.Create(booking); err != nil {
		return nil, models.ErrInternal(fmt.Sprintf("failed to create booking: %v", err))
	}

	s.logger.WithFields(logrus.Fields{
		"booking_id": booking.ID,
		"number":     booking.Number,
		"hotel_id":   booking.HotelID,
		"total":      booking.Pricing.TotalAmount,
	}).Info("Booking created")

	return booking, nil
}

// GetBooking retrieves a booking by ID. Clients only see their own bookings.
func (s *BookingService) GetBooking(bookingID uuid.UUID, actor models.Actor) (*models.Booking, error) {
	booking, err := s.bookings.GetByID(bookingID)
	if err != nil {
		return nil, models.ErrInternal(fmt.Sprintf("failed to load booking: %v", err))
	}
	if booking == nil {
		return nil, models.ErrNotFound("booking not found")
	}
	if actor.Role == models.RoleClient && booking.CustomerID != actor.ID {
		return nil, models.ErrUnauthorized("clients can only view their own bookings")
	}
	return booking, nil
}

// GetBookingByNumber retrieves a booking by its human-readable number
func (s *BookingService) GetBookingByNumber(number string, actor models.Actor) (*models.Booking, error) {
	booking, err := s.bookings.GetByNumber(number)
	if err != nil {
		return nil, models.ErrInternal(fmt.Sprintf("failed to load booking: %v", err))
	}
	if booking == nil {
		return nil, models.ErrNotFound("booking not found")
	}
	if actor.Role == models.RoleClient && booking.CustomerID != actor.ID {
		return nil, models.ErrUnauthorized("clients can only view their own bookings")
	}
	return booking, nil
}

// ListCustomerBookings retrieves all bookings of a customer, newest first
func (s *BookingService) ListCustomerBookings(customerID uuid.UUID, actor models.Actor) ([]models.Booking, error) {
	if actor.Role == models.RoleClient && actor.ID != customerID {
		return nil, models.ErrUnauthorized("clients can only list their own bookings")
	}
	bookings, err := s.bookings.GetByCustomer(customerID)
	if err != nil {
		return nil, models.ErrInternal(fmt.Sprintf("failed to list bookings: %v", err))
	}
	return bookings, nil
}

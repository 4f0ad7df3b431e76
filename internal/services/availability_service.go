package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stayhub/hotel-reservation-backend/internal/cache"
	"github.com/stayhub/hotel-reservation-backend/internal/config"
	"github.com/stayhub/hotel-reservation-backend/internal/models"
)

// roomInventory is the room repository surface the projector needs
type roomInventory interface {
	CountBookableByType(hotelID uuid.UUID) (map[models.RoomType]int, error)
}

// overlapStore is the booking repository surface the projector needs
type overlapStore interface {
	GetOverlapping(hotelID uuid.UUID, checkIn, checkOut time.Time, excludeID *uuid.UUID) ([]models.Booking, error)
}

// AvailabilityService projects free-room counts per type per night from the
// booking table. Views are cached per (hotel, version, window); bumping the
// hotel's version counter on any inventory-affecting change makes every
// cached view unreachable at once, so readers never see a view older than
// the last invalidation.
type AvailabilityService struct {
	rooms    roomInventory
	bookings overlapStore
	store    cache.Store
	logger   *logrus.Logger
	cfg      config.ReservationConfig

	// Injectable clock for tests
	now func() time.Time
}

// CheckOptions tune a single availability check
type CheckOptions struct {
	// BypassCache forces a fresh projection. Confirmation re-checks use
	// this; a stale view must never admit an overbooking.
	BypassCache bool
	// ExcludeBookingID removes one booking from the projection, so a
	// booking being confirmed does not count against itself.
	ExcludeBookingID *uuid.UUID
}

// NewAvailabilityService creates a new AvailabilityService
func NewAvailabilityService(rooms roomInventory, bookings overlapStore, store cache.Store, cfg config.ReservationConfig, logger *logrus.Logger) *AvailabilityService {
	return &AvailabilityService{
		rooms:    rooms,
		bookings: bookings,
		store:    store,
		logger:   logger,
		cfg:      cfg,
		now:      time.Now,
	}
}

// Check returns the availability view for a hotel over [checkIn, checkOut)
func (s *AvailabilityService) Check(ctx context.Context, hotelID uuid.UUID, checkIn, checkOut time.Time, opts CheckOptions) (*models.AvailabilityView, error) {
	if !checkIn.Before(checkOut) {
		return nil, models.ErrValidationFailed("check_in must be before check_out")
	}

	version := s.currentVersion(ctx, hotelID)
	key := s.viewKey(hotelID, version, checkIn, checkOut)

	if !opts.BypassCache && opts.ExcludeBookingID == nil {
		if view := s.cachedView(ctx, key); view != nil {
			return view, nil
		}
	}

	view, err := s.project(hotelID, checkIn, checkOut, opts.ExcludeBookingID, version)
	if err != nil {
		return nil, err
	}

	// Projections with an excluded booking are caller-specific, never cached
	if opts.ExcludeBookingID == nil {
		s.storeView(ctx, key, view)
	}

	return view, nil
}

// Invalidate bumps the hotel's version counter, making all cached views for
// the hotel unreachable
func (s *AvailabilityService) Invalidate(ctx context.Context, hotelID uuid.UUID) {
	if _, err := s.store.Incr(ctx, s.versionKey(hotelID)); err != nil {
		s.logger.WithError(err).WithField("hotel_id", hotelID).Warn("Failed to bump availability version")
	}
}

// project computes the view from room inventory and overlapping bookings
func (s *AvailabilityService) project(hotelID uuid.UUID, checkIn, checkOut time.Time, excludeID *uuid.UUID, version int64) (*models.AvailabilityView, error) {
	totals, err := s.rooms.CountBookableByType(hotelID)
	if err != nil {
		return nil, fmt.Errorf("failed to count rooms: %w", err)
	}

	overlapping, err := s.bookings.GetOverlapping(hotelID, checkIn, checkOut, excludeID)
	if err != nil {
		return nil, fmt.Errorf("failed to load overlapping bookings: %w", err)
	}

	view := &models.AvailabilityView{
		HotelID:    hotelID,
		CheckIn:    checkIn,
		CheckOut:   checkOut,
		Version:    version,
		ComputedAt: s.now().UTC(),
	}

	for night := checkIn; night.Before(checkOut); night = night.AddDate(0, 0, 1) {
		free := make(map[models.RoomType]int, len(totals))
		for t, n := range totals {
			free[t] = n
		}
		for i := range overlapping {
			b := &overlapping[i]
			if b.CheckIn.After(night) || !b.CheckOut.After(night) {
				continue
			}
			for t, n := range b.RoomTypeCounts() {
				free[t] -= n
			}
		}
		// Clamp: out-of-order rooms with live bookings can push counts negative
		for t, n := range free {
			if n < 0 {
				free[t] = 0
			}
		}
		view.Nights = append(view.Nights, models.NightAvailability{Date: night, Free: free})
	}

	return view, nil
}

// cachedView loads and decodes a cached view, setting the stale flag when the
// entry outlived its freshness window. Entries are stored with twice the
// freshness TTL so stale reads remain possible until the hard expiry.
func (s *AvailabilityService) cachedView(ctx context.Context, key string) *models.AvailabilityView {
	raw, err := s.store.Get(ctx, key)
	if err != nil {
		if err != cache.ErrCacheMiss {
			s.logger.WithError(err).Warn("Availability cache read failed")
		}
		return nil
	}

	var view models.AvailabilityView
	if err := json.Unmarshal([]byte(raw), &view); err != nil {
		s.logger.WithError(err).Warn("Discarding undecodable availability cache entry")
		return nil
	}

	if s.now().Sub(view.ComputedAt) > s.cfg.AvailabilityCacheTTL {
		view.Stale = true
	}
	return &view
}

func (s *AvailabilityService) storeView(ctx context.Context, key string, view *models.AvailabilityView) {
	raw, err := json.Marshal(view)
	if err != nil {
		return
	}
	if err := s.store.Set(ctx, key, string(raw), 2*s.cfg.AvailabilityCacheTTL); err != nil {
		s.logger.WithError(err).Warn("Availability cache write failed")
	}
}

// currentVersion reads the hotel's invalidation counter; a missing counter
// reads as zero
func (s *AvailabilityService) currentVersion(ctx context.Context, hotelID uuid.UUID) int64 {
	raw, err := s.store.Get(ctx, s.versionKey(hotelID))
	if err != nil {
		if err != cache.ErrCacheMiss {
			s.logger.WithError(err).Warn("Availability version read failed")
		}
		return 0
	}
	version, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0
	}
	return version
}

func (s *AvailabilityService) versionKey(hotelID uuid.UUID) string {
	return "availability:version:" + hotelID.String()
}

func (s *AvailabilityService) viewKey(hotelID uuid.UUID, version int64, checkIn, checkOut time.Time) string {
	return fmt.Sprintf("availability:view:%s:%d:%s:%s",
		hotelID, version, checkIn.Format("2006-01-02"), checkOut.Format("2006-01-02"))
}

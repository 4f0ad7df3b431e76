package database

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/stayhub/hotel-reservation-backend/internal/models"
)

// HotelRepository handles database operations for the hotels table
type HotelRepository struct {
	db DB
}

// NewHotelRepository creates a new HotelRepository
func NewHotelRepository(db DB) *HotelRepository {
	return &HotelRepository{db: db}
}

// GetByID retrieves a hotel by ID
func (r *HotelRepository) GetByID(hotelID uuid.UUID) (*models.Hotel, error) {
	query := `
		SELECT id, name, category, currency, season_overrides,
		       free_cancellation_hours, created_at, updated_at
		FROM hotels
		WHERE id = $1
	`

	var hotel models.Hotel
	err := r.db.Get(&hotel, query, hotelID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return &hotel, nil
}

// ListAll retrieves all hotels. Used by the periodic price refresh job.
func (r *HotelRepository) ListAll() ([]models.Hotel, error) {
	query := `
		SELECT id, name, category, currency, season_overrides,
		       free_cancellation_hours, created_at, updated_at
		FROM hotels
		ORDER BY name
	`

	var hotels []models.Hotel
	if err := r.db.Select(&hotels, query); err != nil {
		return nil, err
	}

	return hotels, nil
}

// GetCalendarEvents retrieves demand events for a hotel inside [from, to)
func (r *HotelRepository) GetCalendarEvents(hotelID uuid.UUID, from, to time.Time) ([]models.CalendarEvent, error) {
	query := `
		SELECT id, hotel_id, date, kind, label
		FROM calendar_events
		WHERE hotel_id = $1
		  AND date >= $2
		  AND date < $3
		ORDER BY date
	`

	var events []models.CalendarEvent
	if err := r.db.Select(&events, query, hotelID, from, to); err != nil {
		return nil, err
	}

	return events, nil
}

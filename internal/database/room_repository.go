package database

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/stayhub/hotel-reservation-backend/internal/models"
)

// RoomRepository handles database operations for the rooms table
type RoomRepository struct {
	db DB
}

// NewRoomRepository creates a new RoomRepository
func NewRoomRepository(db DB) *RoomRepository {
	return &RoomRepository{db: db}
}

// GetByID retrieves a room by ID
func (r *RoomRepository) GetByID(roomID uuid.UUID) (*models.Room, error) {
	query := `
		SELECT id, hotel_id, number, type, base_price, status,
		       current_booking_id, last_check_out_at, created_at, updated_at
		FROM rooms
		WHERE id = $1
	`

	var room models.Room
	err := r.db.Get(&room, query, roomID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return &room, nil
}

// GetByHotel retrieves all rooms of a hotel
func (r *RoomRepository) GetByHotel(hotelID uuid.UUID) ([]models.Room, error) {
	query := `
		SELECT id, hotel_id, number, type, base_price, status,
		       current_booking_id, last_check_out_at, created_at, updated_at
		FROM rooms
		WHERE hotel_id = $1
		ORDER BY number
	`

	var rooms []models.Room
	if err := r.db.Select(&rooms, query, hotelID); err != nil {
		return nil, err
	}

	return rooms, nil
}

// CountBookableByType counts the sellable rooms of a hotel per type.
// OUT_OF_ORDER rooms never count towards inventory.
func (r *RoomRepository) CountBookableByType(hotelID uuid.UUID) (map[models.RoomType]int, error) {
	query := `
		SELECT type, COUNT(*)
		FROM rooms
		WHERE hotel_id = $1
		  AND status != 'OUT_OF_ORDER'
		GROUP BY type
	`

	rows, err := r.db.Query(query, hotelID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[models.RoomType]int)
	for rows.Next() {
		var roomType models.RoomType
		var count int
		if err := rows.Scan(&roomType, &count); err != nil {
			return nil, err
		}
		counts[roomType] = count
	}

	return counts, rows.Err()
}

// MinBasePriceByType returns the lowest base price per room type for a hotel.
// The pricing engine quotes from the cheapest physical room of each type.
func (r *RoomRepository) MinBasePriceByType(hotelID uuid.UUID) (map[models.RoomType]float64, error) {
	query := `
		SELECT type, MIN(base_price)
		FROM rooms
		WHERE hotel_id = $1
		  AND status != 'OUT_OF_ORDER'
		GROUP BY type
	`

	rows, err := r.db.Query(query, hotelID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	prices := make(map[models.RoomType]float64)
	for rows.Next() {
		var roomType models.RoomType
		var price float64
		if err := rows.Scan(&roomType, &price); err != nil {
			return nil, err
		}
		prices[roomType] = price
	}

	return prices, rows.Err()
}

// SetOccupied marks a room occupied by a booking. The UPDATE is guarded on
// AVAILABLE status so two concurrent check-ins cannot claim the same room;
// the loser gets ErrConcurrentUpdate.
func (r *RoomRepository) SetOccupied(roomID, bookingID uuid.UUID) error {
	query := `
		UPDATE rooms
		SET status = 'OCCUPIED',
		    current_booking_id = $2,
		    updated_at = NOW()
		WHERE id = $1 AND status = 'AVAILABLE'
	`

	result, err := r.db.Exec(query, roomID, bookingID)
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

// Release frees a room after check-out or a rolled-back check-in
func (r *RoomRepository) Release(roomID uuid.UUID, checkOutAt *time.Time) error {
	query := `
		UPDATE rooms
		SET status = 'AVAILABLE',
		    current_booking_id = NULL,
		    last_check_out_at = COALESCE($2, last_check_out_at),
		    updated_at = NOW()
		WHERE id = $1
	`

	_, err := r.db.Exec(query, roomID, checkOutAt)
	return err
}

package models

import (
	"time"

	"github.com/google/uuid"
)

// NightAvailability holds the free-room counts per type for a single night
type NightAvailability struct {
	Date time.Time        `json:"date"`
	Free map[RoomType]int `json:"free"`
}

// AvailabilityView is the projected availability for a hotel over a stay
// window. Version is the hotel's invalidation counter at computation time;
// views from an older version never overwrite newer ones. Stale marks views
// served from a cache entry past its freshness TTL.
type AvailabilityView struct {
	HotelID    uuid.UUID           `json:"hotel_id"`
	CheckIn    time.Time           `json:"check_in"`
	CheckOut   time.Time           `json:"check_out"`
	Nights     []NightAvailability `json:"nights"`
	Version    int64               `json:"version"`
	Stale      bool                `json:"stale"`
	ComputedAt time.Time           `json:"computed_at"`
}

// MinFree returns the lowest free count for the room type across all nights
// of the window
func (v *AvailabilityView) MinFree(t RoomType) int {
	min := -1
	for _, n := range v.Nights {
		free := n.Free[t]
		if min < 0 || free < min {
			min = free
		}
	}
	if min < 0 {
		return 0
	}
	return min
}

// CanAccommodate reports whether every requested room type has enough free
// rooms on every night of the window
func (v *AvailabilityView) CanAccommodate(needed map[RoomType]int) bool {
	for t, n := range needed {
		if v.MinFree(t) < n {
			return false
		}
	}
	return true
}

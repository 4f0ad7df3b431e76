package services

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/stayhub/hotel-reservation-backend/internal/database"
)

// RateLimitService throttles booking creation per customer and per source IP.
// Counters live in the booking_rate_limits table so every instance behind a
// load balancer sees the same counts.
type RateLimitService struct {
	db  database.DB
	cfg RateLimitConfig
}

// RateLimitConfig holds booking rate limiting configuration
type RateLimitConfig struct {
	MaxCustomerRequests int           // Max booking attempts per customer
	CustomerWindow      time.Duration // Time window for the customer limit
	MaxIPRequests       int           // Max booking attempts per IP
	IPWindow            time.Duration // Time window for the IP limit
}

// DefaultRateLimitConfig returns the default rate limit configuration
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		MaxCustomerRequests: 10,
		CustomerWindow:      time.Hour,
		MaxIPRequests:       30,
		IPWindow:            time.Hour,
	}
}

// NewRateLimitService creates a new rate limit service
func NewRateLimitService(db database.DB, cfg RateLimitConfig) *RateLimitService {
	if cfg.MaxCustomerRequests <= 0 {
		cfg = DefaultRateLimitConfig()
	}
	return &RateLimitService{db: db, cfg: cfg}
}

// RateLimitError represents a rate limit exceeded error
type RateLimitError struct {
	Message    string
	RetryAfter time.Time
	Type       string // "customer" or "ip"
}

func (e *RateLimitError) Error() string {
	return e.Message
}

// CheckBookingRateLimit checks whether the customer or IP exceeded its limit
func (s *RateLimitService) CheckBookingRateLimit(customerID uuid.UUID, ip string) error {
	if customerID != uuid.Nil {
		count, lastRequest, err := s.getRequestCount(customerID.String(), "customer", s.cfg.CustomerWindow)
		if err != nil {
			return fmt.Errorf("failed to check customer rate limit: %w", err)
		}
		if count >= s.cfg.MaxCustomerRequests {
			retryAfter := lastRequest.Add(s.cfg.CustomerWindow)
			return &RateLimitError{
				Message:    fmt.Sprintf("Too many booking requests. Please try again after %s", retryAfter.Format("15:04:05")),
				RetryAfter: retryAfter,
				Type:       "customer",
			}
		}
	}

	if ip != "" {
		count, lastRequest, err := s.getRequestCount(ip, "ip", s.cfg.IPWindow)
		if err != nil {
			return fmt.Errorf("failed to check IP rate limit: %w", err)
		}
		if count >= s.cfg.MaxIPRequests {
			retryAfter := lastRequest.Add(s.cfg.IPWindow)
			return &RateLimitError{
				Message:    fmt.Sprintf("Too many booking requests from this address. Please try again after %s", retryAfter.Format("15:04:05")),
				RetryAfter: retryAfter,
				Type:       "ip",
			}
		}
	}

	return nil
}

// RecordBookingRequest records a booking attempt for both identifiers
func (s *RateLimitService) RecordBookingRequest(customerID uuid.UUID, ip string) error {
	if customerID != uuid.Nil {
		if err := s.recordRequest(customerID.String(), "customer"); err != nil {
			return fmt.Errorf("failed to record customer request: %w", err)
		}
	}
	if ip != "" {
		if err := s.recordRequest(ip, "ip"); err != nil {
			return fmt.Errorf("failed to record IP request: %w", err)
		}
	}
	return nil
}

// getRequestCount gets the number of requests within the time window
func (s *RateLimitService) getRequestCount(identifier, identifierType string, window time.Duration) (int, time.Time, error) {
	windowStart := time.Now().Add(-window)

	query := `
		SELECT COUNT(*), COALESCE(MAX(created_at), NOW())
		FROM booking_rate_limits
		WHERE identifier = $1
		  AND identifier_type = $2
		  AND created_at > $3
	`

	var count int
	var lastRequest time.Time

	err := s.db.QueryRow(query, identifier, identifierType, windowStart).Scan(&count, &lastRequest)
	if err != nil && err != sql.ErrNoRows {
		return 0, time.Time{}, err
	}

	return count, lastRequest, nil
}

// recordRequest inserts a rate limit record
func (s *RateLimitService) recordRequest(identifier, identifierType string) error {
	query := `
		INSERT INTO booking_rate_limits (identifier, identifier_type, created_at)
		VALUES ($1, $2, NOW())
	`

	_, err := s.db.Exec(query, identifier, identifierType)
	return err
}

// CleanupExpired removes records older than the longest window. Invoked by
// the maintenance tooling; the table stays small either way.
func (s *RateLimitService) CleanupExpired() (int64, error) {
	maxWindow := s.cfg.IPWindow
	if s.cfg.CustomerWindow > maxWindow {
		maxWindow = s.cfg.CustomerWindow
	}

	result, err := s.db.Exec(`DELETE FROM booking_rate_limits WHERE created_at < $1`, time.Now().Add(-maxWindow))
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup rate limits: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rowsAffected, nil
}

// IsRateLimited reports whether an identifier is currently over its limit
func (s *RateLimitService) IsRateLimited(identifier, identifierType string) (bool, time.Time, error) {
	window := s.cfg.CustomerWindow
	maxRequests := s.cfg.MaxCustomerRequests
	if identifierType == "ip" {
		window = s.cfg.IPWindow
		maxRequests = s.cfg.MaxIPRequests
	}

	count, lastRequest, err := s.getRequestCount(identifier, identifierType, window)
	if err != nil {
		return false, time.Time{}, err
	}

	if count >= maxRequests {
		return true, lastRequest.Add(window), nil
	}
	return false, time.Time{}, nil
}

package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"github.com/stayhub/hotel-reservation-backend/internal/config"
	"github.com/stayhub/hotel-reservation-backend/internal/models"
)

// schedulerBookingStore is the booking repository surface of the scheduler
type schedulerBookingStore interface {
	GetStalePending(cutoff time.Time) ([]models.Booking, error)
	GetNoShowCandidates(now time.Time, grace time.Duration) ([]models.Booking, error)
	GetArrivalsBetween(from, to time.Time) ([]models.Booking, error)
	GetPendingOlderThan(now time.Time, age time.Duration) ([]models.Booking, error)
}

// transitionExecutor runs lifecycle transitions on behalf of the scheduler
type transitionExecutor interface {
	Execute(ctx context.Context, req models.TransitionRequest) (*models.TransitionResult, error)
}

// priceRefresher re-runs the pricing engine across hotels
type priceRefresher interface {
	RefreshAll(ctx context.Context) (int, error)
}

// SchedulerService manages the recurring background jobs: expiring stale
// PENDING bookings, flagging no-shows, sending reminders, refreshing prices
// and broadcasting engine metrics
type SchedulerService struct {
	cron      *cron.Cron
	bookings  schedulerBookingStore
	executor  transitionExecutor
	pricing   priceRefresher
	publisher eventPublisher
	logger    *logrus.Logger
	cfg       config.ReservationConfig

	// metricsFn supplies the snapshot broadcast on the admin topic
	metricsFn func() map[string]interface{}

	// Reminder dedup: one reminder per booking, kind and day
	dedupMu sync.Mutex
	dedup   map[string]bool

	now func() time.Time
}

// NewSchedulerService creates a new SchedulerService
func NewSchedulerService(bookings schedulerBookingStore, executor transitionExecutor, pricing priceRefresher, publisher eventPublisher, cfg config.ReservationConfig, metricsFn func() map[string]interface{}, logger *logrus.Logger) *SchedulerService {
	return &SchedulerService{
		cron:      cron.New(cron.WithSeconds()),
		bookings:  bookings,
		executor:  executor,
		pricing:   pricing,
		publisher: publisher,
		logger:    logger,
		cfg:       cfg,
		metricsFn: metricsFn,
		dedup:     make(map[string]bool),
		now:       time.Now,
	}
}

// Start registers and starts all cron jobs
func (s *SchedulerService) Start() error {
	// Cron format: second minute hour day month weekday

	// Job 1: Expire stale PENDING bookings hourly
	if _, err := s.cron.AddFunc("0 0 * * * *", s.expirePendingJob); err != nil {
		return fmt.Errorf("failed to schedule pending expiry job: %w", err)
	}

	// Job 2: Flag no-shows daily at 2 AM
	if _, err := s.cron.AddFunc("0 0 2 * * *", s.noShowJob); err != nil {
		return fmt.Errorf("failed to schedule no-show job: %w", err)
	}

	// Job 3: Reminders every 15 minutes
	if _, err := s.cron.AddFunc("0 */15 * * * *", s.remindersJob); err != nil {
		return fmt.Errorf("failed to schedule reminders job: %w", err)
	}

	// Job 4: Price refresh every 30 minutes
	if _, err := s.cron.AddFunc("0 */30 * * * *", s.priceRefreshJob); err != nil {
		return fmt.Errorf("failed to schedule price refresh job: %w", err)
	}

	// Job 5: Metrics broadcast hourly at half past
	if _, err := s.cron.AddFunc("0 30 * * * *", s.metricsJob); err != nil {
		return fmt.Errorf("failed to schedule metrics job: %w", err)
	}

	s.cron.Start()
	s.logger.Info("Scheduler started")
	return nil
}

// Stop stops the scheduler and waits for running jobs
func (s *SchedulerService) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("Scheduler stopped")
}

// expirePendingJob cancels PENDING bookings never validated inside the
// configured window
func (s *SchedulerService) expirePendingJob() {
	start := s.now()
	cutoff := start.AddDate(0, 0, -s.cfg.PendingExpiryDays)

	stale, err := s.bookings.GetStalePending(cutoff)
	if err != nil {
		s.logger.WithError(err).Error("Pending expiry job failed to load bookings")
		return
	}

	expired := 0
	for i := range stale {
		_, err := s.executor.Execute(context.Background(), models.TransitionRequest{
			BookingID: stale[i].ID,
			Target:    models.BookingStatusCancelled,
			Reason:    fmt.Sprintf("auto-cancelled: no validation within %d days", s.cfg.PendingExpiryDays),
			Actor:     models.SystemActor,
		})
		if err != nil {
			s.logger.WithError(err).WithField("booking_id", stale[i].ID).Warn("Failed to expire pending booking")
			continue
		}
		expired++
	}

	if len(stale) > 0 {
		s.logger.WithFields(logrus.Fields{
			"expired":  expired,
			"duration": time.Since(start),
		}).Info("Pending expiry job finished")
	}
}

// noShowJob flags CONFIRMED bookings whose arrival window passed
func (s *SchedulerService) noShowJob() {
	start := s.now()

	candidates, err := s.bookings.GetNoShowCandidates(start, checkInGrace)
	if err != nil {
		s.logger.WithError(err).Error("No-show job failed to load bookings")
		return
	}

	flagged := 0
	for i := range candidates {
		_, err := s.executor.Execute(context.Background(), models.TransitionRequest{
			BookingID: candidates[i].ID,
			Target:    models.BookingStatusNoShow,
			Reason:    "auto-flagged: guest did not arrive",
			Actor:     models.SystemActor,
		})
		if err != nil {
			s.logger.WithError(err).WithField("booking_id", candidates[i].ID).Warn("Failed to flag no-show")
			continue
		}
		flagged++
	}

	if len(candidates) > 0 {
		s.logger.WithFields(logrus.Fields{
			"flagged":  flagged,
			"duration": time.Since(start),
		}).Info("No-show job finished")
	}
}

// remindersJob sends arrival reminders to guests and validation reminders to
// admins. Each reminder fires at most once per booking, kind and day.
func (s *SchedulerService) remindersJob() {
	now := s.now().UTC()
	today := dateOnly(now)
	tomorrow := today.AddDate(0, 0, 1)

	if arrivals, err := s.bookings.GetArrivalsBetween(tomorrow, tomorrow.AddDate(0, 0, 1)); err != nil {
		s.logger.WithError(err).Error("Reminders job failed to load tomorrow arrivals")
	} else {
		for i := range arrivals {
			s.sendReminder(&arrivals[i], models.ReminderCheckInTomorrow, now)
			s.sendPaymentReminder(&arrivals[i], now)
		}
	}

	if arrivals, err := s.bookings.GetArrivalsBetween(today, tomorrow); err != nil {
		s.logger.WithError(err).Error("Reminders job failed to load today arrivals")
	} else {
		for i := range arrivals {
			s.sendReminder(&arrivals[i], models.ReminderCheckInToday, now)
		}
	}

	if pending, err := s.bookings.GetPendingOlderThan(now, 24*time.Hour); err != nil {
		s.logger.WithError(err).Error("Reminders job failed to load pending bookings")
	} else {
		for i := range pending {
			s.sendAdminReminder(&pending[i], models.ReminderValidationPending, now)
		}
	}
}

func (s *SchedulerService) sendReminder(booking *models.Booking, reminderKind string, now time.Time) {
	if !s.markSent(booking.ID, reminderKind, now) {
		return
	}

	bid, cid, hid := booking.ID, booking.CustomerID, booking.HotelID
	s.publisher.Publish(models.Event{
		Topic:     models.TopicUser(cid),
		Kind:      models.EventBookingReminder,
		At:        now,
		BookingID: &bid,
		HotelID:   &hid,
		UserID:    &cid,
		Payload: map[string]interface{}{
			"reminder": reminderKind,
			"number":   booking.Number,
			"check_in": booking.CheckIn.Format("2006-01-02"),
		},
	})
}

// sendPaymentReminder tells the guest the stay balance is due before arrival
func (s *SchedulerService) sendPaymentReminder(booking *models.Booking, now time.Time) {
	if !s.markSent(booking.ID, models.ReminderPaymentDue, now) {
		return
	}

	bid, cid, hid := booking.ID, booking.CustomerID, booking.HotelID
	s.publisher.Publish(models.Event{
		Topic:     models.TopicUser(cid),
		Kind:      models.EventBookingReminder,
		At:        now,
		BookingID: &bid,
		HotelID:   &hid,
		UserID:    &cid,
		Payload: map[string]interface{}{
			"reminder":   models.ReminderPaymentDue,
			"number":     booking.Number,
			"check_in":   booking.CheckIn.Format("2006-01-02"),
			"amount_due": booking.Pricing.TotalAmount,
			"currency":   booking.Pricing.Currency,
		},
	})
}

func (s *SchedulerService) sendAdminReminder(booking *models.Booking, reminderKind string, now time.Time) {
	if !s.markSent(booking.ID, reminderKind, now) {
		return
	}

	bid, hid := booking.ID, booking.HotelID
	s.publisher.Publish(models.Event{
		Topic:     models.TopicAdmin,
		Kind:      models.EventBookingReminder,
		At:        now,
		BookingID: &bid,
		HotelID:   &hid,
		Payload: map[string]interface{}{
			"reminder": reminderKind,
			"number":   booking.Number,
			"age":      now.Sub(booking.CreatedAt).String(),
		},
	})
}

// markSent records the reminder and reports whether it was new today
func (s *SchedulerService) markSent(bookingID uuid.UUID, reminderKind string, now time.Time) bool {
	key := fmt.Sprintf("%s|%s|%s", bookingID, reminderKind, now.Format("2006-01-02"))

	s.dedupMu.Lock()
	defer s.dedupMu.Unlock()

	if s.dedup[key] {
		return false
	}
	// Drop yesterday's keys once the map grows
	if len(s.dedup) > 10000 {
		s.dedup = make(map[string]bool)
	}
	s.dedup[key] = true
	return true
}

// priceRefreshJob re-runs the pricing engine for every hotel
func (s *SchedulerService) priceRefreshJob() {
	start := s.now()

	refreshed, err := s.pricing.RefreshAll(context.Background())
	if err != nil {
		s.logger.WithError(err).Error("Price refresh job failed")
		return
	}

	s.logger.WithFields(logrus.Fields{
		"hotels":   refreshed,
		"duration": time.Since(start),
	}).Info("Price refresh job finished")
}

// metricsJob broadcasts engine counters on the admin topic
func (s *SchedulerService) metricsJob() {
	if s.metricsFn == nil {
		return
	}
	s.publisher.Publish(models.Event{
		Topic:   models.TopicAdmin,
		Kind:    models.EventMetricsSnapshot,
		At:      s.now().UTC(),
		Payload: map[string]interface{}{"metrics": s.metricsFn()},
	})
}

// RunExpirePendingNow runs the pending expiry job immediately (for testing)
func (s *SchedulerService) RunExpirePendingNow() {
	s.expirePendingJob()
}

// RunNoShowNow runs the no-show job immediately (for testing)
func (s *SchedulerService) RunNoShowNow() {
	s.noShowJob()
}

// RunRemindersNow runs the reminders job immediately (for testing)
func (s *SchedulerService) RunRemindersNow() {
	s.remindersJob()
}

// RunPriceRefreshNow runs the price refresh job immediately (for testing)
func (s *SchedulerService) RunPriceRefreshNow() {
	s.priceRefreshJob()
}

// GetJobStatus returns the status of scheduled jobs
func (s *SchedulerService) GetJobStatus() map[string]interface{} {
	entries := s.cron.Entries()

	jobs := make([]map[string]interface{}, 0, len(entries))
	for _, entry := range entries {
		jobs = append(jobs, map[string]interface{}{
			"id":       entry.ID,
			"next_run": entry.Next,
			"prev_run": entry.Prev,
		})
	}

	return map[string]interface{}{
		"running":   len(entries) > 0,
		"job_count": len(entries),
		"jobs":      jobs,
	}
}

package services

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stayhub/hotel-reservation-backend/internal/config"
	"github.com/stayhub/hotel-reservation-backend/internal/database"
	"github.com/stayhub/hotel-reservation-backend/internal/models"
)

// bookingStore is the booking repository surface of the executor
type bookingStore interface {
	GetByID(bookingID uuid.UUID) (*models.Booking, error)
	ApplyTransition(booking *models.Booking, expectedStatus models.BookingStatus) error
}

// roomStore is the room repository surface of the executor
type roomStore interface {
	GetByID(roomID uuid.UUID) (*models.Room, error)
	SetOccupied(roomID, bookingID uuid.UUID) error
	Release(roomID uuid.UUID, checkOutAt *time.Time) error
}

// hotelDirectory resolves per-hotel policy overrides for the executor
type hotelDirectory interface {
	GetByID(hotelID uuid.UUID) (*models.Hotel, error)
}

// availabilityPort is the projector surface of the executor
type availabilityPort interface {
	Check(ctx context.Context, hotelID uuid.UUID, checkIn, checkOut time.Time, opts CheckOptions) (*models.AvailabilityView, error)
	Invalidate(ctx context.Context, hotelID uuid.UUID)
}

// checkInGrace is how long after the scheduled check-in date an arrival is
// still accepted; past it the booking is a no-show candidate
const checkInGrace = 24 * time.Hour

// minRejectionReasonLen guards against empty or careless rejections
const minRejectionReasonLen = 10

// TransitionMetrics tracks executor activity per target status and failure
// kind
type TransitionMetrics struct {
	mu        sync.Mutex
	executed  map[models.BookingStatus]int64
	failed    map[models.ErrorKind]int64
	replayed  int64
	total     int64
	totalTime time.Duration
}

func newTransitionMetrics() *TransitionMetrics {
	return &TransitionMetrics{
		executed: make(map[models.BookingStatus]int64),
		failed:   make(map[models.ErrorKind]int64),
	}
}

func (m *TransitionMetrics) recordExecuted(target models.BookingStatus, elapsed time.Duration) {
	m.mu.Lock()
	m.executed[target]++
	m.total++
	m.totalTime += elapsed
	m.mu.Unlock()
}

func (m *TransitionMetrics) recordFailed(kind models.ErrorKind) {
	m.mu.Lock()
	m.failed[kind]++
	m.mu.Unlock()
}

func (m *TransitionMetrics) recordReplayed() {
	m.mu.Lock()
	m.replayed++
	m.mu.Unlock()
}

// Snapshot returns a copy of the counters
func (m *TransitionMetrics) Snapshot() map[string]interface{} {
	m.mu.Lock()
	defer m.mu.Unlock()

	executed := make(map[string]int64, len(m.executed))
	for k, v := range m.executed {
		executed[string(k)] = v
	}
	failed := make(map[string]int64, len(m.failed))
	for k, v := range m.failed {
		failed[string(k)] = v
	}

	var avgMs float64
	if m.total > 0 {
		avgMs = float64(m.totalTime) / float64(time.Millisecond) / float64(m.total)
	}
	return map[string]interface{}{
		"executed":          executed,
		"failed":            failed,
		"replayed":          m.replayed,
		"total":             m.total,
		"avg_processing_ms": avgMs,
	}
}

// idempotencyEntry caches a completed transition outcome for replay
type idempotencyEntry struct {
	result *models.TransitionResult
	at     time.Time
}

// TransitionService executes booking lifecycle transitions. Each execution
// runs under a per-booking lock, so at most one transition mutates a booking
// at a time; the persisted UPDATE is additionally guarded on the expected
// status, so even a lost lock cannot double-apply.
type TransitionService struct {
	bookings     bookingStore
	rooms        roomStore
	hotels       hotelDirectory
	availability availabilityPort
	publisher    eventPublisher
	logger       *logrus.Logger
	cfg          config.ReservationConfig

	lockMu sync.Mutex
	locks  map[uuid.UUID]chan struct{}

	idemMu      sync.Mutex
	idempotency map[string]idempotencyEntry

	metrics *TransitionMetrics
	now     func() time.Time
}

// NewTransitionService creates a new TransitionService
func NewTransitionService(bookings bookingStore, rooms roomStore, hotels hotelDirectory, availability availabilityPort, publisher eventPublisher, cfg config.ReservationConfig, logger *logrus.Logger) *TransitionService {
	return &TransitionService{
		bookings:     bookings,
		rooms:        rooms,
		hotels:       hotels,
		availability: availability,
		publisher:    publisher,
		logger:       logger,
		cfg:          cfg,
		locks:        make(map[uuid.UUID]chan struct{}),
		idempotency:  make(map[string]idempotencyEntry),
		metrics:      newTransitionMetrics(),
		now:          time.Now,
	}
}

// Metrics exposes the executor counters
func (s *TransitionService) Metrics() *TransitionMetrics {
	return s.metrics
}

// Execute runs a lifecycle transition end to end
func (s *TransitionService) Execute(ctx context.Context, req models.TransitionRequest) (*models.TransitionResult, error) {
	result, err := s.execute(ctx, req)
	if err != nil {
		kind := models.KindOf(err)
		s.metrics.recordFailed(kind)
		s.publishError(req, kind, err)
		return nil, err
	}
	return result, nil
}

func (s *TransitionService) execute(ctx context.Context, req models.TransitionRequest) (*models.TransitionResult, error) {
	start := time.Now()
	log := s.logger.WithFields(logrus.Fields{
		"booking_id": req.BookingID,
		"target":     req.Target,
		"actor_role": req.Actor.Role,
	})

	// Step 1: Acquire the per-booking lock
	release, err := s.acquireLock(ctx, req.BookingID)
	if err != nil {
		return nil, err
	}
	defer release()

	// Step 2: Replay a recently completed identical request
	idemKey := s.idempotencyKey(req)
	if idemKey != "" {
		if cached := s.replay(idemKey); cached != nil {
			log.Info("Replaying idempotent transition")
			s.metrics.recordReplayed()
			return cached, nil
		}
	}

	// Step 3: Load the booking under the lock
	booking, err := s.bookings.GetByID(req.BookingID)
	if err != nil {
		return nil, models.ErrInternal(fmt.Sprintf("failed to load booking: %v", err))
	}
	if booking == nil {
		return nil, models.ErrNotFound("booking not found")
	}
	from := booking.Status

	// Step 4: Validate the edge against the lifecycle graph
	if err := models.ValidateTransition(from, req.Target); err != nil {
		return nil, err
	}

	// Step 5: Authorize the actor on the edge
	if err := models.AuthorizeTransition(from, req.Target, req.Actor, booking.CustomerID); err != nil {
		return nil, err
	}

	now := s.effectiveTime(req)
	bid, hid, cid := booking.ID, booking.HotelID, booking.CustomerID
	s.publisher.Publish(models.Event{
		Topic:     models.TopicBooking(bid),
		Kind:      models.EventTransitionStarted,
		At:        now,
		BookingID: &bid,
		HotelID:   &hid,
		Payload:   map[string]interface{}{"from": from, "to": req.Target},
	})

	// Step 6: Target-specific guards
	if err := s.runGuards(ctx, booking, &req, now); err != nil {
		return nil, err
	}

	result := &models.TransitionResult{
		From:  from,
		To:    req.Target,
		Actor: req.Actor,
		At:    now,
	}

	// Step 7: Pre-actions with side effects outside the bookings row
	if err := s.runPreActions(booking, &req, now, result); err != nil {
		return nil, err
	}

	// Step 8: Mutate the in-memory booking
	if err := s.applyMutation(booking, &req, from, now); err != nil {
		s.rollbackPreActions(booking, req.Target, result)
		return nil, err
	}

	// Step 9: Append the history entry
	booking.History = append(booking.History, models.TransitionEntry{
		From:      from,
		To:        req.Target,
		Reason:    req.Reason,
		ActorID:   req.Actor.ID,
		ActorRole: req.Actor.Role,
		At:        now,
		Metadata:  req.Metadata,
	})

	// Step 10: Persist under the status guard
	booking.Status = req.Target
	if err := s.bookings.ApplyTransition(booking, from); err != nil {
		s.rollbackPreActions(booking, req.Target, result)
		if err == database.ErrConcurrentUpdate {
			return nil, models.ErrConflict("booking was modified concurrently")
		}
		return nil, models.ErrInternal(fmt.Sprintf("failed to persist transition: %v", err))
	}

	// Step 11: Post-actions, notifications, idempotency record
	result.Booking = booking
	s.runPostActions(ctx, booking, &req, from, now, result)

	if idemKey != "" {
		s.remember(idemKey, result)
	}
	s.metrics.recordExecuted(req.Target, time.Since(start))

	log.WithFields(logrus.Fields{
		"from":        from,
		"customer_id": cid,
	}).Info("Transition applied")

	return result, nil
}

// ============================================================================
// GUARDS
// ============================================================================

func (s *TransitionService) runGuards(ctx context.Context, booking *models.Booking, req *models.TransitionRequest, now time.Time) error {
	switch req.Target {
	case models.BookingStatusConfirmed:
		return s.guardConfirm(ctx, booking, req)
	case models.BookingStatusRejected:
		if len(strings.TrimSpace(req.Reason)) < minRejectionReasonLen {
			return models.ErrValidationFailed(fmt.Sprintf(
				"rejection reason must be at least %d characters", minRejectionReasonLen))
		}
	case models.BookingStatusCancelled:
		if req.CustomRefund != nil {
			if req.Actor.Role != models.RoleAdmin {
				return models.ErrUnauthorized("only admins can override the refund amount")
			}
			if *req.CustomRefund < 0 || *req.CustomRefund > booking.Pricing.TotalAmount {
				return models.ErrValidationFailed(fmt.Sprintf(
					"custom refund must be between 0 and %.2f", booking.Pricing.TotalAmount))
			}
		}
	case models.BookingStatusCheckedIn:
		return s.guardCheckIn(booking, req, now)
	case models.BookingStatusNoShow:
		if !now.After(booking.CheckIn.Add(checkInGrace)) {
			return models.ErrValidationFailed("booking is still inside the arrival window")
		}
	case models.BookingStatusCompleted:
		if req.FinalExtras != nil && *req.FinalExtras < 0 {
			return models.ErrValidationFailed("final extras cannot be negative")
		}
		if !booking.AllRoomsAssigned() {
			return models.ErrValidationFailed("booking has unassigned rooms")
		}
	}
	return nil
}

// guardConfirm re-checks availability with the cache bypassed. A stale cached
// view must never admit an overbooking.
func (s *TransitionService) guardConfirm(ctx context.Context, booking *models.Booking, req *models.TransitionRequest) error {
	view, err := s.availability.Check(ctx, booking.HotelID, booking.CheckIn, booking.CheckOut, CheckOptions{
		BypassCache:      true,
		ExcludeBookingID: &booking.ID,
	})
	if err != nil {
		return models.ErrInternal(fmt.Sprintf("availability check failed: %v", err))
	}

	for roomType, needed := range booking.RoomTypeCounts() {
		if view.MinFree(roomType) < needed {
			return models.ErrValidationFailed(fmt.Sprintf("Plus de chambres %s disponibles", roomType))
		}
	}

	// Optional admin price override, bound to a reason
	if override, ok := req.Metadata["new_price"].(float64); ok {
		reason, _ := req.Metadata["price_modification_reason"].(string)
		if req.Actor.Role != models.RoleAdmin {
			return models.ErrUnauthorized("only admins can override the price")
		}
		if override <= 0 {
			return models.ErrValidationFailed("price override must be positive")
		}
		if strings.TrimSpace(reason) == "" {
			return models.ErrValidationFailed("price override requires a reason")
		}
	}

	return nil
}

func (s *TransitionService) guardCheckIn(booking *models.Booking, req *models.TransitionRequest, now time.Time) error {
	if now.After(booking.CheckIn.Add(checkInGrace)) {
		return models.ErrValidationFailed("arrival window has passed, booking is a no-show candidate")
	}

	// Every unassigned slot needs exactly one assignment
	assigned := make(map[int]bool)
	for _, a := range req.RoomAssignments {
		if a.SlotIndex < 0 || a.SlotIndex >= len(booking.Rooms) {
			return models.ErrValidationFailed(fmt.Sprintf("invalid room slot index %d", a.SlotIndex))
		}
		if assigned[a.SlotIndex] {
			return models.ErrValidationFailed(fmt.Sprintf("duplicate assignment for slot %d", a.SlotIndex))
		}
		assigned[a.SlotIndex] = true

		room, err := s.rooms.GetByID(a.RoomID)
		if err != nil {
			return models.ErrInternal(fmt.Sprintf("failed to load room: %v", err))
		}
		if room == nil {
			return models.ErrNotFound(fmt.Sprintf("room %s not found", a.RoomID))
		}
		if room.HotelID != booking.HotelID {
			return models.ErrValidationFailed("room belongs to another hotel")
		}
		if room.Type != booking.Rooms[a.SlotIndex].Type {
			return models.ErrValidationFailed(fmt.Sprintf(
				"room %s is %s, slot %d expects %s", room.Number, room.Type, a.SlotIndex, booking.Rooms[a.SlotIndex].Type))
		}
		if room.Status != models.RoomStatusAvailable {
			return models.ErrConflict(fmt.Sprintf("room %s is not available", room.Number))
		}
	}

	for i, slot := range booking.Rooms {
		if slot.AssignedRoomID == nil && !assigned[i] {
			return models.ErrValidationFailed(fmt.Sprintf("room slot %d has no assignment", i))
		}
	}

	return nil
}

// ============================================================================
// PRE-ACTIONS / ROLLBACK
// ============================================================================

func (s *TransitionService) runPreActions(booking *models.Booking, req *models.TransitionRequest, now time.Time, result *models.TransitionResult) error {
	switch req.Target {
	case models.BookingStatusCheckedIn:
		claimed := make([]uuid.UUID, 0, len(req.RoomAssignments))
		for _, a := range req.RoomAssignments {
			if err := s.rooms.SetOccupied(a.RoomID, booking.ID); err != nil {
				// Undo the rooms claimed so far
				for _, id := range claimed {
					if rerr := s.rooms.Release(id, nil); rerr != nil {
						s.logger.WithError(rerr).WithField("room_id", id).Error("Failed to release room during rollback")
					}
				}
				if err == database.ErrConcurrentUpdate {
					return models.ErrConflict("a selected room was taken by a concurrent check-in")
				}
				return models.ErrInternal(fmt.Sprintf("failed to occupy room: %v", err))
			}
			claimed = append(claimed, a.RoomID)

			actorID := req.Actor.ID
			at := now
			roomID := a.RoomID
			booking.Rooms[a.SlotIndex].AssignedRoomID = &roomID
			booking.Rooms[a.SlotIndex].AssignedAt = &at
			booking.Rooms[a.SlotIndex].AssignedBy = &actorID
			result.PreActions = append(result.PreActions, fmt.Sprintf("occupied room %s", a.RoomID))
		}

	}
	return nil
}

// rollbackPreActions undoes room side effects after a failed persist
func (s *TransitionService) rollbackPreActions(booking *models.Booking, target models.BookingStatus, result *models.TransitionResult) {
	if target != models.BookingStatusCheckedIn {
		return
	}
	for _, id := range booking.AssignedRoomIDs() {
		if err := s.rooms.Release(id, nil); err != nil {
			s.logger.WithError(err).WithField("room_id", id).Error("Failed to release room during rollback")
		}
	}
	result.PreActions = append(result.PreActions, "rolled back room assignments")
}

// ============================================================================
// MUTATION
// ============================================================================

func (s *TransitionService) applyMutation(booking *models.Booking, req *models.TransitionRequest, from models.BookingStatus, now time.Time) error {
	at := now
	switch req.Target {
	case models.BookingStatusConfirmed:
		booking.ConfirmedAt = &at
		if override, ok := req.Metadata["new_price"].(float64); ok {
			reason, _ := req.Metadata["price_modification_reason"].(string)
			booking.Pricing.TotalAmount = models.RoundMoney(override)
			booking.PriceModified = true
			booking.PriceModificationReason = &reason
		}

	case models.BookingStatusRejected:
		booking.RejectedAt = &at
		reason := req.Reason
		booking.RejectionReason = &reason

	case models.BookingStatusCancelled:
		booking.CancelledAt = &at
		// The refund policy only covers bookings that actually held
		// rooms; a cancelled PENDING request never owed anything
		if from == models.BookingStatusConfirmed {
			outcome := booking.ComputeRefund(now, s.freeCancellationWindow(booking.HotelID))
			if req.CustomRefund != nil {
				refund := models.RoundMoney(*req.CustomRefund)
				outcome.RefundAmount = refund
				outcome.CancellationFee = models.RoundMoney(booking.Pricing.TotalAmount - refund)
				if booking.Pricing.TotalAmount > 0 {
					outcome.Percentage = models.RoundMoney(refund / booking.Pricing.TotalAmount * 100)
				}
			}
			booking.RefundPercentage = &outcome.Percentage
			booking.RefundAmount = &outcome.RefundAmount
			booking.CancellationFee = &outcome.CancellationFee
			booking.HoursUntilCheckIn = &outcome.HoursUntilCheckIn
		}

	case models.BookingStatusCheckedIn:
		booking.ActualCheckInAt = &at

	case models.BookingStatusNoShow:
		// No-show keeps the full amount; record the zero refund
		zero := 0.0
		hours := booking.HoursUntilCheckInFrom(now)
		full := booking.Pricing.TotalAmount
		booking.RefundPercentage = &zero
		booking.RefundAmount = &zero
		booking.CancellationFee = &full
		booking.HoursUntilCheckIn = &hours

	case models.BookingStatusCompleted:
		booking.ActualCheckOutAt = &at
		if req.FinalExtras != nil {
			booking.Pricing.ExtrasTotal = models.RoundMoney(booking.Pricing.ExtrasTotal + *req.FinalExtras)
			booking.Pricing.TotalAmount = models.RoundMoney(booking.Pricing.BaseAmount + booking.Pricing.ExtrasTotal)
		}
	}
	return nil
}

// freeCancellationWindow resolves the hotel's own cancellation window, falling
// back to the platform default
func (s *TransitionService) freeCancellationWindow(hotelID uuid.UUID) int {
	hotel, err := s.hotels.GetByID(hotelID)
	if err != nil {
		s.logger.WithError(err).WithField("hotel_id", hotelID).Warn("Failed to load hotel policy, using the default cancellation window")
		return s.cfg.FreeCancellationHours
	}
	return hotel.FreeCancellationWindow(s.cfg.FreeCancellationHours)
}

// ============================================================================
// POST-ACTIONS
// ============================================================================

// inventoryAffecting reports whether the transition changes projected
// availability
func inventoryAffecting(from, to models.BookingStatus) bool {
	switch to {
	case models.BookingStatusConfirmed, models.BookingStatusCompleted,
		models.BookingStatusNoShow, models.BookingStatusCheckedIn:
		return true
	case models.BookingStatusCancelled:
		return from == models.BookingStatusConfirmed
	}
	return false
}

func (s *TransitionService) runPostActions(ctx context.Context, booking *models.Booking, req *models.TransitionRequest, from models.BookingStatus, now time.Time, result *models.TransitionResult) {
	bid, hid, cid := booking.ID, booking.HotelID, booking.CustomerID

	if inventoryAffecting(from, req.Target) {
		s.availability.Invalidate(ctx, hid)
		result.PostActions = append(result.PostActions, "availability invalidated")

		s.publisher.Publish(models.Event{
			Topic:     models.TopicAvailability(hid),
			Kind:      models.EventAvailabilityChanged,
			At:        now,
			BookingID: &bid,
			HotelID:   &hid,
			Payload: map[string]interface{}{
				"change": availabilityChange(req.Target),
				"rooms":  len(booking.Rooms),
			},
		})
	}

	if kind, ok := domainEventKind(req.Target); ok {
		event := models.Event{
			Topic:     models.TopicUser(cid),
			Kind:      kind,
			At:        now,
			BookingID: &bid,
			HotelID:   &hid,
			UserID:    &cid,
			Payload: map[string]interface{}{
				"number": booking.Number,
				"from":   from,
				"to":     req.Target,
			},
		}
		s.publisher.Publish(event)
		event.Topic = models.TopicHotel(hid)
		s.publisher.Publish(event)
		result.PostActions = append(result.PostActions, "notified "+string(kind))
	}

	if req.Target == models.BookingStatusCancelled && booking.RefundAmount != nil {
		s.publisher.Publish(models.Event{
			Topic:     models.TopicUser(cid),
			Kind:      models.EventRefundCalculated,
			At:        now,
			BookingID: &bid,
			UserID:    &cid,
			Payload: map[string]interface{}{
				"refund_amount":     *booking.RefundAmount,
				"refund_percentage": *booking.RefundPercentage,
				"cancellation_fee":  *booking.CancellationFee,
				"currency":          booking.Pricing.Currency,
			},
		})
		result.PostActions = append(result.PostActions, "refund calculated")
	}

	if req.Target == models.BookingStatusCompleted {
		// Rooms are released only once the transition is durable; a failed
		// release is logged and left to housekeeping, never rolled back
		at := now
		for _, id := range booking.AssignedRoomIDs() {
			if err := s.rooms.Release(id, &at); err != nil {
				s.logger.WithError(err).WithField("room_id", id).Error("Failed to release room after checkout")
				continue
			}
			result.PostActions = append(result.PostActions, fmt.Sprintf("released room %s", id))
		}

		if req.FinalExtras != nil && *req.FinalExtras > 0 {
			s.publisher.Publish(models.Event{
				Topic:     models.TopicUser(cid),
				Kind:      models.EventExtrasAdded,
				At:        now,
				BookingID: &bid,
				UserID:    &cid,
				Payload:   map[string]interface{}{"extras_total": booking.Pricing.ExtrasTotal},
			})
		}
		invoice := models.Event{
			Topic:     models.TopicUser(cid),
			Kind:      models.EventInvoiceGenerated,
			At:        now,
			BookingID: &bid,
			UserID:    &cid,
			Payload: map[string]interface{}{
				"total_amount": booking.Pricing.TotalAmount,
				"currency":     booking.Pricing.Currency,
			},
		}
		s.publisher.Publish(invoice)
		// Back-office billing watches the admin topic
		invoice.Topic = models.TopicAdmin
		s.publisher.Publish(invoice)
		result.PostActions = append(result.PostActions, "invoice generated")
	}

	s.publisher.Publish(models.Event{
		Topic:     models.TopicBooking(bid),
		Kind:      models.EventTransitionCompleted,
		At:        now,
		BookingID: &bid,
		HotelID:   &hid,
		Payload:   map[string]interface{}{"from": from, "to": req.Target},
	})
}

func domainEventKind(target models.BookingStatus) (models.EventKind, bool) {
	switch target {
	case models.BookingStatusConfirmed:
		return models.EventBookingConfirmed, true
	case models.BookingStatusRejected:
		return models.EventBookingRejected, true
	case models.BookingStatusCheckedIn:
		return models.EventBookingCheckedIn, true
	case models.BookingStatusCompleted:
		return models.EventBookingCheckedOut, true
	case models.BookingStatusCancelled, models.BookingStatusNoShow:
		return models.EventBookingCancelled, true
	}
	return "", false
}

func availabilityChange(target models.BookingStatus) string {
	switch target {
	case models.BookingStatusConfirmed:
		return models.AvailabilityRoomsReserved
	case models.BookingStatusCheckedIn:
		return models.AvailabilityRoomsOccupied
	default:
		return models.AvailabilityRoomsAvailable
	}
}

// publishError notifies the actor about a failed transition; high severity
// failures also reach the admin topic
func (s *TransitionService) publishError(req models.TransitionRequest, kind models.ErrorKind, err error) {
	severity := models.SeverityLow
	if kind == models.ErrKindInternal || kind == models.ErrKindConflict {
		severity = models.SeverityHigh
	}

	bid := req.BookingID
	actorID := req.Actor.ID
	event := models.Event{
		Topic:     models.TopicUser(req.Actor.ID),
		Kind:      models.EventWorkflowError,
		At:        s.now().UTC(),
		BookingID: &bid,
		UserID:    &actorID,
		Payload: map[string]interface{}{
			"kind":     kind,
			"message":  err.Error(),
			"target":   req.Target,
			"severity": severity,
		},
	}
	s.publisher.Publish(event)

	if severity == models.SeverityHigh {
		event.Topic = models.TopicAdmin
		s.publisher.Publish(event)
	}
}

// ============================================================================
// LOCKING / IDEMPOTENCY
// ============================================================================

// acquireLock takes the per-booking mutex, waiting up to the configured
// timeout
func (s *TransitionService) acquireLock(ctx context.Context, bookingID uuid.UUID) (func(), error) {
	s.lockMu.Lock()
	ch, ok := s.locks[bookingID]
	if !ok {
		ch = make(chan struct{}, 1)
		s.locks[bookingID] = ch
	}
	s.lockMu.Unlock()

	timer := time.NewTimer(s.cfg.LockTimeout)
	defer timer.Stop()

	select {
	case ch <- struct{}{}:
		return func() { <-ch }, nil
	case <-timer.C:
		return nil, models.ErrBusy("booking is busy, retry shortly")
	case <-ctx.Done():
		return nil, models.ErrExpired("request cancelled while waiting for the booking lock")
	}
}

// idempotencyKey is empty when the request carries no nonce; keyless requests
// are never replayed
func (s *TransitionService) idempotencyKey(req models.TransitionRequest) string {
	if req.Actor.Nonce == "" {
		return ""
	}
	return fmt.Sprintf("%s|%s|%s|%s", req.BookingID, req.Target, req.Actor.ID, req.Actor.Nonce)
}

func (s *TransitionService) replay(key string) *models.TransitionResult {
	s.idemMu.Lock()
	defer s.idemMu.Unlock()

	entry, ok := s.idempotency[key]
	if !ok {
		return nil
	}
	if s.now().Sub(entry.at) > s.cfg.RetryWindow {
		delete(s.idempotency, key)
		return nil
	}
	return entry.result
}

func (s *TransitionService) remember(key string, result *models.TransitionResult) {
	s.idemMu.Lock()
	defer s.idemMu.Unlock()

	// Lazy pruning keeps the map bounded without a background sweeper
	cutoff := s.now().Add(-s.cfg.RetryWindow)
	for k, e := range s.idempotency {
		if e.at.Before(cutoff) {
			delete(s.idempotency, k)
		}
	}
	s.idempotency[key] = idempotencyEntry{result: result, at: s.now()}
}

// effectiveTime honors a back-dated actual time when the actor supplies one
func (s *TransitionService) effectiveTime(req models.TransitionRequest) time.Time {
	if req.ActualTime != nil {
		return req.ActualTime.UTC()
	}
	return s.now().UTC()
}

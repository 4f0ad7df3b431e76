package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stayhub/hotel-reservation-backend/internal/middleware"
	"github.com/stayhub/hotel-reservation-backend/internal/models"
	"github.com/stayhub/hotel-reservation-backend/internal/services"
	"github.com/stayhub/hotel-reservation-backend/internal/utils"
)

// BookingHandler handles booking lifecycle endpoints
type BookingHandler struct {
	bookingSvc      *services.BookingService
	transitionSvc   *services.TransitionService
	availabilitySvc *services.AvailabilityService
	pricingSvc      *services.PricingService
	rateLimitSvc    *services.RateLimitService
	logger          *logrus.Logger
}

// NewBookingHandler creates a new BookingHandler. rateLimitSvc may be nil
// when booking rate limiting is disabled.
func NewBookingHandler(bookingSvc *services.BookingService, transitionSvc *services.TransitionService, availabilitySvc *services.AvailabilityService, pricingSvc *services.PricingService, rateLimitSvc *services.RateLimitService, logger *logrus.Logger) *BookingHandler {
	return &BookingHandler{
		bookingSvc:      bookingSvc,
		transitionSvc:   transitionSvc,
		availabilitySvc: availabilitySvc,
		pricingSvc:      pricingSvc,
		rateLimitSvc:    rateLimitSvc,
		logger:          logger,
	}
}

// workflowStatus maps error kinds to HTTP status codes
var workflowStatus = map[models.ErrorKind]int{
	models.ErrKindNotFound:          http.StatusNotFound,
	models.ErrKindInvalidTransition: http.StatusConflict,
	models.ErrKindValidationFailed:  http.StatusUnprocessableEntity,
	models.ErrKindUnauthorized:      http.StatusForbidden,
	models.ErrKindBusy:              http.StatusTooManyRequests,
	models.ErrKindConflict:          http.StatusConflict,
	models.ErrKindExpired:           http.StatusRequestTimeout,
	models.ErrKindInternal:          http.StatusInternalServerError,
}

// writeWorkflowError renders a workflow error with its mapped status
func (h *BookingHandler) writeWorkflowError(c *gin.Context, err error) {
	kind := models.KindOf(err)
	status, ok := workflowStatus[kind]
	if !ok {
		status = http.StatusInternalServerError
	}
	if status == http.StatusInternalServerError {
		h.logger.WithError(err).Error("Request failed")
		c.JSON(status, gin.H{"error": "Internal server error", "kind": kind})
		return
	}
	c.JSON(status, gin.H{"error": err.Error(), "kind": kind})
}

// CreateBooking creates a new booking in PENDING status
// @Summary Create a new booking
// @Tags Bookings
// @Accept json
// @Produce json
// @Param request body models.CreateBookingRequest true "Booking request"
// @Success 201 {object} models.Booking
// @Security BearerAuth
// @Router /api/v1/bookings [post]
func (h *BookingHandler) CreateBooking(c *gin.Context) {
	actor, exists := middleware.ActorFromContext(c)
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	var req models.CreateBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	clientIP := utils.GetRealIP(c)
	if h.rateLimitSvc != nil {
		if err := h.rateLimitSvc.CheckBookingRateLimit(actor.ID, clientIP); err != nil {
			var rateLimitErr *services.RateLimitError
			if errors.As(err, &rateLimitErr) {
				h.logger.WithFields(logrus.Fields{
					"actor_id": actor.ID,
					"ip":       clientIP,
					"type":     rateLimitErr.Type,
				}).Warn("Booking request rate limited")
				c.Header("Retry-After", rateLimitErr.RetryAfter.UTC().Format(http.TimeFormat))
				c.JSON(http.StatusTooManyRequests, gin.H{"error": rateLimitErr.Message})
				return
			}
			h.logger.WithError(err).Error("Rate limit check failed")
			// Counter lookup failures never block bookings
		}
	}

	booking, err := h.bookingSvc.CreateBooking(c.Request.Context(), actor.ID, req)
	if err != nil {
		h.writeWorkflowError(c, err)
		return
	}

	if h.rateLimitSvc != nil {
		if err := h.rateLimitSvc.RecordBookingRequest(actor.ID, clientIP); err != nil {
			h.logger.WithError(err).Warn("Failed to record booking rate limit entry")
		}
	}

	c.JSON(http.StatusCreated, booking)
}

// GetBooking retrieves a booking by ID
// @Summary Get a booking
// @Tags Bookings
// @Produce json
// @Param id path string true "Booking ID"
// @Success 200 {object} models.Booking
// @Security BearerAuth
// @Router /api/v1/bookings/{id} [get]
func (h *BookingHandler) GetBooking(c *gin.Context) {
	actor, exists := middleware.ActorFromContext(c)
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	bookingID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid booking ID"})
		return
	}

	booking, err := h.bookingSvc.GetBooking(bookingID, actor)
	if err != nil {
		h.writeWorkflowError(c, err)
		return
	}

	c.JSON(http.StatusOK, booking)
}

// GetBookingByNumber retrieves a booking by its human-readable number
// @Summary Get a booking by number
// @Tags Bookings
// @Produce json
// @Param number path string true "Booking number"
// @Success 200 {object} models.Booking
// @Security BearerAuth
// @Router /api/v1/bookings/number/{number} [get]
func (h *BookingHandler) GetBookingByNumber(c *gin.Context) {
	actor, exists := middleware.ActorFromContext(c)
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	booking, err := h.bookingSvc.GetBookingByNumber(c.Param("number"), actor)
	if err != nil {
		h.writeWorkflowError(c, err)
		return
	}

	c.JSON(http.StatusOK, booking)
}

// ListMyBookings retrieves the authenticated customer's bookings
// @Summary List own bookings
// @Tags Bookings
// @Produce json
// @Success 200 {array} models.Booking
// @Security BearerAuth
// @Router /api/v1/bookings [get]
func (h *BookingHandler) ListMyBookings(c *gin.Context) {
	actor, exists := middleware.ActorFromContext(c)
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	bookings, err := h.bookingSvc.ListCustomerBookings(actor.ID, actor)
	if err != nil {
		h.writeWorkflowError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"bookings": bookings, "count": len(bookings)})
}

// transitionBody is the JSON body of the transition endpoint
type transitionBody struct {
	Target          models.BookingStatus    `json:"target" binding:"required"`
	Reason          string                  `json:"reason,omitempty"`
	Metadata        map[string]interface{}  `json:"metadata,omitempty"`
	RoomAssignments []models.RoomAssignment `json:"room_assignments,omitempty"`
	CustomRefund    *float64                `json:"custom_refund,omitempty"`
	FinalExtras     *float64                `json:"final_extras,omitempty"`
	ActualTime      *time.Time              `json:"actual_time,omitempty"`
}

// Transition applies a lifecycle transition to a booking
// @Summary Transition a booking
// @Tags Bookings
// @Accept json
// @Produce json
// @Param id path string true "Booking ID"
// @Param request body transitionBody true "Transition request"
// @Success 200 {object} models.TransitionResult
// @Security BearerAuth
// @Router /api/v1/bookings/{id}/transition [post]
func (h *BookingHandler) Transition(c *gin.Context) {
	actor, exists := middleware.ActorFromContext(c)
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	bookingID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid booking ID"})
		return
	}

	var body transitionBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	result, err := h.transitionSvc.Execute(c.Request.Context(), models.TransitionRequest{
		BookingID:       bookingID,
		Target:          body.Target,
		Reason:          body.Reason,
		Actor:           actor,
		Metadata:        body.Metadata,
		RoomAssignments: body.RoomAssignments,
		CustomRefund:    body.CustomRefund,
		FinalExtras:     body.FinalExtras,
		ActualTime:      body.ActualTime,
	})
	if err != nil {
		h.writeWorkflowError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// CheckAvailability projects free rooms for a hotel over a stay window and
// answers whether the requested capacity fits
// @Summary Check availability
// @Tags Hotels
// @Produce json
// @Param id path string true "Hotel ID"
// @Param check_in query string true "Check-in date (YYYY-MM-DD)"
// @Param check_out query string true "Check-out date (YYYY-MM-DD)"
// @Param type query string false "Room type to check"
// @Param rooms query int false "Rooms needed (default 1)"
// @Success 200 {object} map[string]interface{}
// @Router /api/v1/hotels/{id}/availability [get]
func (h *BookingHandler) CheckAvailability(c *gin.Context) {
	hotelID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid hotel ID"})
		return
	}

	checkIn, checkOut, err := parseStayWindow(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	roomsNeeded := 1
	if raw := c.Query("rooms"); raw != "" {
		n, convErr := strconv.Atoi(raw)
		if convErr != nil || n < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "rooms must be a positive integer"})
			return
		}
		roomsNeeded = n
	}

	var roomType models.RoomType
	if raw := c.Query("type"); raw != "" {
		roomType = models.RoomType(strings.ToUpper(strings.TrimSpace(raw)))
		if !roomType.IsValid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown room type: " + raw})
			return
		}
	}

	view, err := h.availabilitySvc.Check(c.Request.Context(), hotelID, checkIn, checkOut, services.CheckOptions{})
	if err != nil {
		h.writeWorkflowError(c, err)
		return
	}

	available := false
	if roomType != "" {
		available = view.CanAccommodate(map[models.RoomType]int{roomType: roomsNeeded})
	} else {
		// No type given: any type with enough capacity satisfies the query
		seen := make(map[models.RoomType]bool)
		for _, night := range view.Nights {
			for t := range night.Free {
				seen[t] = true
			}
		}
		for t := range seen {
			if view.MinFree(t) >= roomsNeeded {
				available = true
				break
			}
		}
	}

	response := gin.H{
		"available":    available,
		"rooms_needed": roomsNeeded,
		"view":         view,
	}
	if roomType != "" {
		response["type"] = roomType
	}
	c.JSON(http.StatusOK, response)
}

// Quote prices a stay for the requested room types
// @Summary Get a price quote
// @Tags Hotels
// @Produce json
// @Param id path string true "Hotel ID"
// @Param check_in query string true "Check-in date (YYYY-MM-DD)"
// @Param check_out query string true "Check-out date (YYYY-MM-DD)"
// @Param types query string true "Comma-separated room types"
// @Success 200 {object} models.PriceQuote
// @Router /api/v1/hotels/{id}/quote [get]
func (h *BookingHandler) Quote(c *gin.Context) {
	hotelID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid hotel ID"})
		return
	}

	checkIn, checkOut, err := parseStayWindow(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var roomTypes []models.RoomType
	for _, t := range strings.Split(c.Query("types"), ",") {
		if t = strings.TrimSpace(t); t != "" {
			roomTypes = append(roomTypes, models.RoomType(t))
		}
	}

	quote, err := h.pricingSvc.Quote(c.Request.Context(), hotelID, checkIn, checkOut, roomTypes, services.QuoteOptions{
		DisableYield: c.Query("disable_yield") == "true",
	})
	if err != nil {
		h.writeWorkflowError(c, err)
		return
	}

	c.JSON(http.StatusOK, quote)
}

// PricingReport summarizes the yield posture of a hotel
// @Summary Get the pricing report
// @Tags Hotels
// @Produce json
// @Param id path string true "Hotel ID"
// @Param days query int false "Analysis window in days (default 7)"
// @Success 200 {object} models.HotelPricingReport
// @Security BearerAuth
// @Router /api/v1/hotels/{id}/pricing-report [get]
func (h *BookingHandler) PricingReport(c *gin.Context) {
	hotelID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid hotel ID"})
		return
	}

	days := 7
	if raw := c.Query("days"); raw != "" {
		if parsed, perr := strconv.Atoi(raw); perr == nil && parsed > 0 && parsed <= 90 {
			days = parsed
		}
	}

	report, err := h.pricingSvc.Report(c.Request.Context(), hotelID, days)
	if err != nil {
		h.writeWorkflowError(c, err)
		return
	}

	c.JSON(http.StatusOK, report)
}

// parseStayWindow reads check_in/check_out query dates as UTC midnights
func parseStayWindow(c *gin.Context) (time.Time, time.Time, error) {
	checkIn, err := time.ParseInLocation("2006-01-02", c.Query("check_in"), time.UTC)
	if err != nil {
		return time.Time{}, time.Time{}, models.ErrValidationFailed("check_in must be a YYYY-MM-DD date")
	}
	checkOut, err := time.ParseInLocation("2006-01-02", c.Query("check_out"), time.UTC)
	if err != nil {
		return time.Time{}, time.Time{}, models.ErrValidationFailed("check_out must be a YYYY-MM-DD date")
	}
	return checkIn, checkOut, nil
}

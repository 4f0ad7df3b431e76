package services

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stayhub/hotel-reservation-backend/internal/cache"
	"github.com/stayhub/hotel-reservation-backend/internal/config"
	"github.com/stayhub/hotel-reservation-backend/internal/models"
)

// hotelStore is the hotel repository surface the pricing engine needs
type hotelStore interface {
	GetByID(hotelID uuid.UUID) (*models.Hotel, error)
	ListAll() ([]models.Hotel, error)
	GetCalendarEvents(hotelID uuid.UUID, from, to time.Time) ([]models.CalendarEvent, error)
}

// priceInventory is the room repository surface the pricing engine needs
type priceInventory interface {
	CountBookableByType(hotelID uuid.UUID) (map[models.RoomType]int, error)
	MinBasePriceByType(hotelID uuid.UUID) (map[models.RoomType]float64, error)
}

// demandStore is the booking repository surface feeding the yield signals
type demandStore interface {
	CountOccupiedOnDate(hotelID uuid.UUID, date time.Time) (int, error)
}

// eventPublisher publishes events on the notification bus
type eventPublisher interface {
	Publish(event models.Event)
}

// CompetitorSource supplies a market rate index per hotel and date. A value
// above 1.0 means competitors price higher than our baseline.
type CompetitorSource interface {
	RateIndex(ctx context.Context, hotelID uuid.UUID, date time.Time) (float64, error)
}

// NoopCompetitorSource always reports a neutral market
type NoopCompetitorSource struct{}

// RateIndex returns the neutral index
func (NoopCompetitorSource) RateIndex(ctx context.Context, hotelID uuid.UUID, date time.Time) (float64, error) {
	return 1.0, nil
}

// PricingMetrics tracks pricing engine activity
type PricingMetrics struct {
	mu               sync.Mutex
	QuotesGenerated  int64
	CacheHits        int64
	SurgesDetected   int64
	UpdatesPublished int64
}

func (m *PricingMetrics) inc(field *int64) {
	m.mu.Lock()
	*field++
	m.mu.Unlock()
}

// Snapshot returns a copy of the counters
func (m *PricingMetrics) Snapshot() map[string]int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return map[string]int64{
		"quotes_generated":  m.QuotesGenerated,
		"cache_hits":        m.CacheHits,
		"surges_detected":   m.SurgesDetected,
		"updates_published": m.UpdatesPublished,
	}
}

// PricingService computes nightly room prices. Each night's price is the
// deterministic base (room type x category x season multipliers over the
// room's base rate) scaled by a composite yield multiplier clamped into the
// configured band. Disabling yield leaves the deterministic base untouched.
type PricingService struct {
	hotels     hotelStore
	rooms      priceInventory
	bookings   demandStore
	store      cache.Store
	publisher  eventPublisher
	competitor CompetitorSource
	logger     *logrus.Logger
	cfg        config.PricingConfig

	metrics *PricingMetrics
	now     func() time.Time
}

// QuoteOptions tune a single quote computation
type QuoteOptions struct {
	// DisableYield quotes the deterministic base only
	DisableYield bool
	// BypassCache forces recomputation
	BypassCache bool
}

// NewPricingService creates a new PricingService
func NewPricingService(hotels hotelStore, rooms priceInventory, bookings demandStore, store cache.Store, publisher eventPublisher, competitor CompetitorSource, cfg config.PricingConfig, logger *logrus.Logger) *PricingService {
	if competitor == nil {
		competitor = NoopCompetitorSource{}
	}
	return &PricingService{
		hotels:     hotels,
		rooms:      rooms,
		bookings:   bookings,
		store:      store,
		publisher:  publisher,
		competitor: competitor,
		logger:     logger,
		cfg:        cfg,
		metrics:    &PricingMetrics{},
		now:        time.Now,
	}
}

// Metrics exposes the engine counters
func (s *PricingService) Metrics() *PricingMetrics {
	return s.metrics
}

// Quote prices a stay for the requested room types
func (s *PricingService) Quote(ctx context.Context, hotelID uuid.UUID, checkIn, checkOut time.Time, roomTypes []models.RoomType, opts QuoteOptions) (*models.PriceQuote, error) {
	if !checkIn.Before(checkOut) {
		return nil, models.ErrValidationFailed("check_in must be before check_out")
	}
	if len(roomTypes) == 0 {
		return nil, models.ErrValidationFailed("at least one room type is required")
	}

	key := s.quoteKey(hotelID, checkIn, checkOut, roomTypes, opts.DisableYield)
	if !opts.BypassCache {
		if quote := s.cachedQuote(ctx, key); quote != nil {
			s.metrics.inc(&s.metrics.CacheHits)
			return quote, nil
		}
	}

	hotel, err := s.hotels.GetByID(hotelID)
	if err != nil {
		return nil, fmt.Errorf("failed to load hotel: %w", err)
	}
	if hotel == nil {
		return nil, models.ErrNotFound("hotel not found")
	}

	basePrices, err := s.rooms.MinBasePriceByType(hotelID)
	if err != nil {
		return nil, fmt.Errorf("failed to load base prices: %w", err)
	}

	nights := int(checkOut.Sub(checkIn).Hours() / 24)
	periods := hotel.SeasonPeriodsOrDefault()

	var signals *yieldSignals
	if !opts.DisableYield {
		signals, err = s.collectSignals(ctx, hotel, checkIn, checkOut, nights)
		if err != nil {
			return nil, err
		}
	}

	quote := &models.PriceQuote{
		HotelID:     hotelID,
		CheckIn:     checkIn,
		CheckOut:    checkOut,
		Currency:    currencyOrDefault(hotel.Currency, s.cfg.Currency),
		GeneratedAt: s.now().UTC(),
	}

	for _, roomType := range roomTypes {
		if !roomType.IsValid() {
			return nil, models.ErrValidationFailed(fmt.Sprintf("unknown room type: %s", roomType))
		}
		basePrice, ok := basePrices[roomType]
		if !ok {
			return nil, models.ErrValidationFailed(fmt.Sprintf("hotel has no %s rooms", roomType))
		}
		if basePrice < s.cfg.MinBasePrice {
			return nil, models.ErrValidationFailed(fmt.Sprintf(
				"base price %.2f for %s is below the minimum %.2f", basePrice, roomType, s.cfg.MinBasePrice))
		}

		roomQuote := models.RoomQuote{Type: roomType}
		for night := checkIn; night.Before(checkOut); night = night.AddDate(0, 0, 1) {
			season := models.ResolveSeason(night, periods)
			base := basePrice * roomType.Multiplier() * models.CategoryMultiplier(hotel.Category) * season.Multiplier()

			yield := models.YieldBreakdown{
				Occupancy: 1, Window: 1, DayOfWeek: 1, LengthOfStay: 1,
				Event: 1, Demand: 1, Composite: 1,
			}
			if signals != nil {
				yield = signals.breakdownFor(night)
				yield.Composite = s.clampYield(yield.Occupancy * yield.Window * yield.DayOfWeek *
					yield.LengthOfStay * yield.Event * yield.Demand)
			}

			price := models.RoundMoney(base * yield.Composite)
			roomQuote.Nights = append(roomQuote.Nights, models.NightPrice{
				Date:   night,
				Season: season,
				Base:   models.RoundMoney(base),
				Yield:  yield,
				Price:  price,
			})
			roomQuote.Total += price
		}
		roomQuote.Total = models.RoundMoney(roomQuote.Total)
		quote.Rooms = append(quote.Rooms, roomQuote)
		quote.Total += roomQuote.Total
	}
	quote.Total = models.RoundMoney(quote.Total)

	s.metrics.inc(&s.metrics.QuotesGenerated)
	s.storeQuote(ctx, key, quote)

	return quote, nil
}

// Report summarizes the yield posture of a hotel over the next analysis
// window and derives the recommended pricing action
func (s *PricingService) Report(ctx context.Context, hotelID uuid.UUID, days int) (*models.HotelPricingReport, error) {
	hotel, err := s.hotels.GetByID(hotelID)
	if err != nil {
		return nil, fmt.Errorf("failed to load hotel: %w", err)
	}
	if hotel == nil {
		return nil, models.ErrNotFound("hotel not found")
	}

	from := dateOnly(s.now().UTC())
	to := from.AddDate(0, 0, days)

	signals, err := s.collectSignals(ctx, hotel, from, to, days)
	if err != nil {
		return nil, err
	}

	report := &models.HotelPricingReport{
		HotelID:     hotelID,
		GeneratedAt: s.now().UTC(),
	}

	var yields []float64
	for night := from; night.Before(to); night = night.AddDate(0, 0, 1) {
		b := signals.breakdownFor(night)
		y := s.clampYield(b.Occupancy * b.Window * b.DayOfWeek * b.LengthOfStay * b.Event * b.Demand)
		yields = append(yields, y)
		if signals.surge[dateKey(night)] {
			report.SurgeDates = append(report.SurgeDates, night)
		}
	}

	avg, stddev := meanStdDev(yields)
	report.AverageYield = avg
	report.YieldStdDev = stddev
	report.RecommendedAction = recommendAction(avg, stddev)

	return report, nil
}

// RefreshHotel recomputes the hotel's posture and publishes pricing events.
// PRICE_UPDATED goes out only when the representative price moved by at least
// the configured relative delta since the last publication; DEMAND_SURGE goes
// out for every newly detected surge date.
func (s *PricingService) RefreshHotel(ctx context.Context, hotel *models.Hotel) error {
	report, err := s.Report(ctx, hotel.ID, 7)
	if err != nil {
		return err
	}

	basePrices, err := s.rooms.MinBasePriceByType(hotel.ID)
	if err != nil {
		return fmt.Errorf("failed to load base prices: %w", err)
	}

	// Representative price: cheapest room type, 7-day average yield applied
	var representative float64
	if len(basePrices) > 0 {
		cheapestType, cheapest := cheapestRoomType(basePrices)
		representative = models.RoundMoney(
			cheapest * cheapestType.Multiplier() * models.CategoryMultiplier(hotel.Category) * report.AverageYield)
	}

	hid := hotel.ID
	if s.shouldPublishPrice(ctx, hotel.ID, representative) {
		s.publisher.Publish(models.Event{
			Topic:   models.TopicPricing(hotel.ID),
			Kind:    models.EventPriceUpdated,
			At:      s.now().UTC(),
			HotelID: &hid,
			Payload: map[string]interface{}{
				"representative_price": representative,
				"average_yield":        report.AverageYield,
				"recommended_action":   report.RecommendedAction,
				"currency":             currencyOrDefault(hotel.Currency, s.cfg.Currency),
			},
		})
		s.metrics.inc(&s.metrics.UpdatesPublished)
	}

	for _, date := range report.SurgeDates {
		s.publisher.Publish(models.Event{
			Topic:   models.TopicPricing(hotel.ID),
			Kind:    models.EventDemandSurge,
			At:      s.now().UTC(),
			HotelID: &hid,
			Payload: map[string]interface{}{
				"date": date.Format("2006-01-02"),
			},
		})
		s.metrics.inc(&s.metrics.SurgesDetected)
	}

	return nil
}

// RefreshAll runs RefreshHotel for every hotel. Invoked by the scheduler.
func (s *PricingService) RefreshAll(ctx context.Context) (int, error) {
	hotels, err := s.hotels.ListAll()
	if err != nil {
		return 0, fmt.Errorf("failed to list hotels: %w", err)
	}

	refreshed := 0
	for i := range hotels {
		if err := s.RefreshHotel(ctx, &hotels[i]); err != nil {
			s.logger.WithError(err).WithField("hotel_id", hotels[i].ID).Error("Price refresh failed")
			continue
		}
		refreshed++
	}
	return refreshed, nil
}

// ============================================================================
// YIELD SIGNALS
// ============================================================================

// yieldSignals holds the per-stay and per-night inputs of the composite
// yield multiplier
type yieldSignals struct {
	today      time.Time // quote date, midnight UTC
	firstNight time.Time // check-in night; carries the length-of-stay leg
	los        float64
	occupancy  map[string]float64 // occupancy rate per date
	events     map[string]float64 // best event multiplier per date
	demand     map[string]float64 // demand multiplier per date
	competitor map[string]float64 // market index per date
	surge      map[string]bool    // surge flag per date
}

func (y *yieldSignals) breakdownFor(night time.Time) models.YieldBreakdown {
	k := dateKey(night)
	b := models.YieldBreakdown{
		Occupancy:    occupancyMultiplier(y.occupancy[k]),
		Window:       windowMultiplier(daysInAdvance(y.today, night)),
		DayOfWeek:    dayOfWeekMultiplier(night.Weekday()),
		LengthOfStay: 1,
		Event:        y.events[k],
		Demand:       y.demand[k],
	}
	// The stay-length discount applies once, on the first night
	if dateOnly(night).Equal(y.firstNight) {
		b.LengthOfStay = y.los
	}
	if b.Event == 0 {
		b.Event = 1
	}
	if b.Demand == 0 {
		b.Demand = 1
	}
	// Competitor index folds into the demand leg of the composite
	if idx, ok := y.competitor[k]; ok && idx > 0 {
		b.Demand *= idx
	}
	return b
}

// collectSignals gathers every yield input for the stay window
func (s *PricingService) collectSignals(ctx context.Context, hotel *models.Hotel, checkIn, checkOut time.Time, nights int) (*yieldSignals, error) {
	totals, err := s.rooms.CountBookableByType(hotel.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to count rooms: %w", err)
	}
	totalRooms := 0
	for _, n := range totals {
		totalRooms += n
	}

	signals := &yieldSignals{
		today:      dateOnly(s.now().UTC()),
		firstNight: dateOnly(checkIn),
		los:        lengthOfStayMultiplier(nights),
		occupancy:  make(map[string]float64),
		events:     make(map[string]float64),
		demand:     make(map[string]float64),
		competitor: make(map[string]float64),
		surge:      make(map[string]bool),
	}

	events, err := s.hotels.GetCalendarEvents(hotel.ID, checkIn, checkOut)
	if err != nil {
		return nil, fmt.Errorf("failed to load calendar events: %w", err)
	}
	for _, ev := range events {
		k := dateKey(ev.Date)
		if m := ev.Kind.Multiplier(); m > signals.events[k] {
			signals.events[k] = m
		}
	}

	for night := checkIn; night.Before(checkOut); night = night.AddDate(0, 0, 1) {
		k := dateKey(night)

		occupied, err := s.bookings.CountOccupiedOnDate(hotel.ID, night)
		if err != nil {
			return nil, fmt.Errorf("failed to count occupancy: %w", err)
		}
		if totalRooms > 0 {
			signals.occupancy[k] = float64(occupied) / float64(totalRooms)
		}

		demandMult, surge, err := s.demandSignal(hotel.ID, night, totalRooms)
		if err != nil {
			return nil, err
		}
		signals.demand[k] = demandMult
		signals.surge[k] = surge

		idx, err := s.competitor.RateIndex(ctx, hotel.ID, night)
		if err != nil {
			s.logger.WithError(err).Debug("Competitor rate lookup failed, assuming neutral market")
			idx = 1.0
		}
		signals.competitor[k] = idx
	}

	return signals, nil
}

// demandSignal predicts occupancy for a date from the same weekday of the 12
// prior weeks, weighting recent weeks higher. A surge fires when the
// prediction crosses 80% with enough confidence; confidence degrades with
// the spread of the historical samples.
func (s *PricingService) demandSignal(hotelID uuid.UUID, date time.Time, totalRooms int) (float64, bool, error) {
	if totalRooms == 0 {
		return 1.0, false, nil
	}

	var weightedSum, weightTotal float64
	var samples []float64
	for week := 1; week <= 12; week++ {
		past := date.AddDate(0, 0, -7*week)
		occupied, err := s.bookings.CountOccupiedOnDate(hotelID, past)
		if err != nil {
			return 0, false, fmt.Errorf("failed to load demand history: %w", err)
		}
		rate := float64(occupied) / float64(totalRooms)
		weight := 1.0 / float64(week)
		weightedSum += rate * weight
		weightTotal += weight
		samples = append(samples, rate)
	}

	predicted := weightedSum / weightTotal
	_, stddev := meanStdDev(samples)
	confidence := 0.9 - math.Min(stddev, 0.3)*2

	if predicted >= 0.80 && confidence >= 0.7 {
		return 1.10, true, nil
	}
	return 1.0, false, nil
}

func (s *PricingService) clampYield(y float64) float64 {
	if y < s.cfg.YieldFloor {
		return s.cfg.YieldFloor
	}
	if y > s.cfg.YieldCap {
		return s.cfg.YieldCap
	}
	return y
}

// shouldPublishPrice compares against the last published representative
// price kept in the cache
func (s *PricingService) shouldPublishPrice(ctx context.Context, hotelID uuid.UUID, price float64) bool {
	if price <= 0 {
		return false
	}

	key := "pricing:last:" + hotelID.String()
	raw, err := s.store.Get(ctx, key)
	if err == nil {
		if last, perr := strconv.ParseFloat(raw, 64); perr == nil && last > 0 {
			if math.Abs(price-last)/last < s.cfg.PublishDelta {
				return false
			}
		}
	} else if err != cache.ErrCacheMiss {
		s.logger.WithError(err).Warn("Failed to read last published price")
	}

	if err := s.store.Set(ctx, key, strconv.FormatFloat(price, 'f', 2, 64), 0); err != nil {
		s.logger.WithError(err).Warn("Failed to store published price")
	}
	return true
}

func (s *PricingService) cachedQuote(ctx context.Context, key string) *models.PriceQuote {
	raw, err := s.store.Get(ctx, key)
	if err != nil {
		if err != cache.ErrCacheMiss {
			s.logger.WithError(err).Warn("Quote cache read failed")
		}
		return nil
	}
	var quote models.PriceQuote
	if err := json.Unmarshal([]byte(raw), &quote); err != nil {
		return nil
	}
	return &quote
}

func (s *PricingService) storeQuote(ctx context.Context, key string, quote *models.PriceQuote) {
	raw, err := json.Marshal(quote)
	if err != nil {
		return
	}
	if err := s.store.Set(ctx, key, string(raw), 5*time.Minute); err != nil {
		s.logger.WithError(err).Warn("Quote cache write failed")
	}
}

func (s *PricingService) quoteKey(hotelID uuid.UUID, checkIn, checkOut time.Time, roomTypes []models.RoomType, noYield bool) string {
	types := make([]string, len(roomTypes))
	for i, t := range roomTypes {
		types[i] = string(t)
	}
	sort.Strings(types)
	return fmt.Sprintf("pricing:quote:%s:%s:%s:%s:%t",
		hotelID, checkIn.Format("2006-01-02"), checkOut.Format("2006-01-02"),
		strings.Join(types, ","), noYield)
}

// ============================================================================
// MULTIPLIER TABLES
// ============================================================================

func occupancyMultiplier(rate float64) float64 {
	switch {
	case rate < 0.30:
		return 0.85
	case rate < 0.50:
		return 0.95
	case rate < 0.70:
		return 1.0
	case rate < 0.85:
		return 1.15
	case rate < 0.95:
		return 1.35
	default:
		return 1.5
	}
}

// windowMultiplier rewards last-minute demand and discounts far-out stays
func windowMultiplier(days int) float64 {
	switch {
	case days <= 3:
		return 1.25
	case days <= 7:
		return 1.10
	case days <= 30:
		return 1.0
	case days <= 60:
		return 0.90
	default:
		return 0.85
	}
}

func dayOfWeekMultiplier(day time.Weekday) float64 {
	switch day {
	case time.Monday, time.Tuesday:
		return 0.85
	case time.Wednesday:
		return 0.90
	case time.Thursday:
		return 0.95
	case time.Friday:
		return 1.15
	case time.Saturday:
		return 1.20
	default: // Sunday
		return 0.90
	}
}

func lengthOfStayMultiplier(nights int) float64 {
	switch nights {
	case 1:
		return 1.10
	case 2:
		return 1.05
	case 3:
		return 1.0
	case 4:
		return 0.98
	case 5:
		return 0.96
	case 6:
		return 0.94
	default:
		return 0.92
	}
}

// daysInAdvance counts whole days between the quote date and the night
func daysInAdvance(today, night time.Time) int {
	return int(dateOnly(night).Sub(today).Hours() / 24)
}

func recommendAction(avg, stddev float64) models.RecommendedAction {
	switch {
	case avg >= 1.2:
		return models.ActionIncreasePrices
	case avg <= 0.9 && avg > 0:
		return models.ActionPromotion
	case stddev > 0.15*avg:
		return models.ActionStabilize
	default:
		return models.ActionMaintain
	}
}

func meanStdDev(values []float64) (float64, float64) {
	if len(values) == 0 {
		return 0, 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))

	var variance float64
	for _, v := range values {
		variance += (v - mean) * (v - mean)
	}
	variance /= float64(len(values))
	return mean, math.Sqrt(variance)
}

func cheapestRoomType(prices map[models.RoomType]float64) (models.RoomType, float64) {
	var bestType models.RoomType
	best := math.MaxFloat64
	for t, p := range prices {
		if p < best {
			best = p
			bestType = t
		}
	}
	return bestType, best
}

func currencyOrDefault(currency, fallback string) string {
	if currency != "" {
		return currency
	}
	return fallback
}

func dateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func dateKey(t time.Time) string {
	return t.Format("2006-01-02")
}

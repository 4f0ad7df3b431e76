package gateway

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stayhub/hotel-reservation-backend/internal/bus"
	"github.com/stayhub/hotel-reservation-backend/internal/config"
	"github.com/stayhub/hotel-reservation-backend/internal/models"
)

type fakeConn struct {
	id string

	mu      sync.Mutex
	events  []models.Event
	sendErr error
	closed  bool
}

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) Send(event models.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	c.events = append(c.events, event)
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) eventCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func newTestGateway() (*Gateway, *bus.Bus) {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	b := bus.New(config.BusConfig{}, logger)
	return New(b, logger), b
}

func TestAuthorizeTopics(t *testing.T) {
	userID := uuid.New()
	hotelID := uuid.New()

	cases := []struct {
		name   string
		actor  models.Actor
		topics []string
		kind   models.ErrorKind // empty means allowed
	}{
		{"Admin Anywhere", models.Actor{Role: models.RoleAdmin}, []string{models.TopicAdmin, "user:" + uuid.NewString()}, ""},
		{"Client Own User Topic", models.Actor{ID: userID, Role: models.RoleClient}, []string{models.TopicUser(userID)}, ""},
		{"Client Foreign User Topic", models.Actor{ID: userID, Role: models.RoleClient}, []string{models.TopicUser(uuid.New())}, models.ErrKindUnauthorized},
		{"Client Admin Topic", models.Actor{ID: userID, Role: models.RoleClient}, []string{models.TopicAdmin}, models.ErrKindUnauthorized},
		{"Client Hotel Topic", models.Actor{ID: userID, Role: models.RoleClient}, []string{models.TopicHotel(hotelID)}, models.ErrKindUnauthorized},
		{"Client Public Pricing", models.Actor{ID: userID, Role: models.RoleClient}, []string{models.TopicPricing(hotelID), models.TopicAvailability(hotelID)}, ""},
		{"Receptionist Hotel Topic", models.Actor{ID: userID, Role: models.RoleReceptionist}, []string{models.TopicHotel(hotelID), models.TopicBooking(uuid.New())}, ""},
		{"Receptionist Admin Topic", models.Actor{ID: userID, Role: models.RoleReceptionist}, []string{models.TopicAdmin}, models.ErrKindUnauthorized},
		{"Unknown Topic", models.Actor{ID: userID, Role: models.RoleReceptionist}, []string{"garbage:topic"}, models.ErrKindValidationFailed},
		{"No Topics", models.Actor{ID: userID, Role: models.RoleClient}, nil, models.ErrKindValidationFailed},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := AuthorizeTopics(tc.actor, tc.topics)
			if tc.kind == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Equal(t, tc.kind, models.KindOf(err))
			}
		})
	}
}

func TestGatewayDelivery(t *testing.T) {
	g, b := newTestGateway()
	defer b.Close()

	conn := &fakeConn{id: "conn-1"}
	g.Register(conn, []string{"hotel:1"})
	defer g.Shutdown()

	b.Publish(models.Event{Topic: "hotel:1", Kind: models.EventBookingConfirmed})
	b.Publish(models.Event{Topic: "hotel:1", Kind: models.EventAvailabilityChanged})

	assert.Eventually(t, func() bool {
		return conn.eventCount() == 2
	}, 2*time.Second, 10*time.Millisecond)
}

func TestGatewayReplacesStaleConnection(t *testing.T) {
	g, b := newTestGateway()
	defer b.Close()
	defer g.Shutdown()

	stale := &fakeConn{id: "conn-1"}
	g.Register(stale, []string{"hotel:1"})

	fresh := &fakeConn{id: "conn-1"}
	g.Register(fresh, []string{"hotel:1"})

	assert.Eventually(t, stale.isClosed, 2*time.Second, 10*time.Millisecond)

	b.Publish(models.Event{Topic: "hotel:1", Kind: models.EventBookingConfirmed})
	assert.Eventually(t, func() bool {
		return fresh.eventCount() == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Zero(t, stale.eventCount())
}

func TestGatewayDetachesOnSendError(t *testing.T) {
	g, b := newTestGateway()
	defer b.Close()
	defer g.Shutdown()

	broken := &fakeConn{id: "conn-err", sendErr: errors.New("write: broken pipe")}
	g.Register(broken, []string{"user:x"})

	b.Publish(models.Event{Topic: "user:x", Kind: models.EventBookingReminder})

	assert.Eventually(t, broken.isClosed, 2*time.Second, 10*time.Millisecond)
}

func TestGatewayUnregister(t *testing.T) {
	g, b := newTestGateway()
	defer b.Close()

	conn := &fakeConn{id: "conn-2"}
	g.Register(conn, []string{"booking:9"})

	g.Unregister("conn-2")
	assert.True(t, conn.isClosed())

	// Unknown ids are a no-op
	g.Unregister("missing")

	g.Shutdown()
}

func TestGatewayShutdown(t *testing.T) {
	g, b := newTestGateway()
	defer b.Close()

	first := &fakeConn{id: "a"}
	second := &fakeConn{id: "b"}
	g.Register(first, []string{"hotel:1"})
	g.Register(second, []string{"hotel:2"})

	g.Shutdown()

	assert.True(t, first.isClosed())
	assert.True(t, second.isClosed())
}

package gateway

import (
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/stayhub/hotel-reservation-backend/internal/bus"
	"github.com/stayhub/hotel-reservation-backend/internal/models"
)

// Conn is one attached subscriber connection. Send must be safe to call from
// the gateway's pump goroutine; a send error detaches the connection.
type Conn interface {
	ID() string
	Send(event models.Event) error
	Close() error
}

// Gateway fans bus events out to attached connections. Each connection gets
// its own bus subscription and pump goroutine, so a slow consumer never
// stalls the others.
type Gateway struct {
	bus    *bus.Bus
	logger *logrus.Logger

	mu      sync.Mutex
	clients map[string]*client
	wg      sync.WaitGroup
}

type client struct {
	conn Conn
	sub  *bus.Subscription
}

// New creates a new Gateway
func New(b *bus.Bus, logger *logrus.Logger) *Gateway {
	return &Gateway{
		bus:     b,
		logger:  logger,
		clients: make(map[string]*client),
	}
}

// AuthorizeTopics checks that the actor may listen on every requested topic.
// Admins listen anywhere; receptionists on hotel, availability and pricing
// topics; clients only on their own user topic and public pricing topics.
func AuthorizeTopics(actor models.Actor, topics []string) error {
	if len(topics) == 0 {
		return models.ErrValidationFailed("at least one topic is required")
	}
	if actor.Role == models.RoleAdmin {
		return nil
	}

	for _, topic := range topics {
		switch {
		case topic == models.TopicAdmin:
			return models.ErrUnauthorized("admin topic requires the admin role")
		case strings.HasPrefix(topic, "user:"):
			if topic != models.TopicUser(actor.ID) {
				return models.ErrUnauthorized("cannot subscribe to another user's topic")
			}
		case strings.HasPrefix(topic, "hotel:"), strings.HasPrefix(topic, "booking:"):
			if actor.Role == models.RoleClient {
				return models.ErrUnauthorized("topic requires a staff role")
			}
		case strings.HasPrefix(topic, "availability:"), strings.HasPrefix(topic, "pricing:"):
			// Public projections
		default:
			return models.ErrValidationFailed("unknown topic: " + topic)
		}
	}
	return nil
}

// Register attaches a connection to the given topics and starts its pump.
// The pump runs until the connection errors, the subscription is cancelled
// or the bus closes.
func (g *Gateway) Register(conn Conn, topics []string) {
	sub := g.bus.Subscribe(topics...)

	g.mu.Lock()
	// Replace a stale connection with the same id
	if old, ok := g.clients[conn.ID()]; ok {
		old.sub.Cancel()
		old.conn.Close()
	}
	g.clients[conn.ID()] = &client{conn: conn, sub: sub}
	g.mu.Unlock()

	g.logger.WithFields(logrus.Fields{
		"conn_id": conn.ID(),
		"topics":  topics,
	}).Info("Subscriber attached")

	g.wg.Add(1)
	go g.pump(conn, sub)
}

// Unregister detaches a connection
func (g *Gateway) Unregister(connID string) {
	g.mu.Lock()
	c, ok := g.clients[connID]
	if ok {
		delete(g.clients, connID)
	}
	g.mu.Unlock()

	if ok {
		c.sub.Cancel()
		c.conn.Close()
	}
}

// Shutdown detaches every connection and waits for the pumps to drain
func (g *Gateway) Shutdown() {
	g.mu.Lock()
	clients := make([]*client, 0, len(g.clients))
	for _, c := range g.clients {
		clients = append(clients, c)
	}
	g.clients = make(map[string]*client)
	g.mu.Unlock()

	for _, c := range clients {
		c.sub.Cancel()
		c.conn.Close()
	}
	g.wg.Wait()
}

func (g *Gateway) pump(conn Conn, sub *bus.Subscription) {
	defer g.wg.Done()

	for event := range sub.C {
		if err := conn.Send(event); err != nil {
			g.logger.WithError(err).WithField("conn_id", conn.ID()).Info("Subscriber send failed, detaching")
			g.Unregister(conn.ID())
			return
		}
	}
}

package models

import (
	"fmt"

	"github.com/google/uuid"
)

// edge is a directed transition in the booking lifecycle graph
type edge struct {
	From BookingStatus
	To   BookingStatus
}

// legalEdges maps each allowed transition to the roles permitted to drive it.
// Any edge absent from this table is illegal regardless of role.
var legalEdges = map[edge][]Role{
	{BookingStatusPending, BookingStatusConfirmed}: {RoleAdmin},
	{BookingStatusPending, BookingStatusRejected}:  {RoleAdmin},
	{BookingStatusPending, BookingStatusCancelled}: {RoleAdmin, RoleReceptionist, RoleClient, RoleSystem},

	{BookingStatusConfirmed, BookingStatusCheckedIn}: {RoleAdmin, RoleReceptionist},
	{BookingStatusConfirmed, BookingStatusCancelled}: {RoleAdmin, RoleReceptionist, RoleClient, RoleSystem},
	{BookingStatusConfirmed, BookingStatusNoShow}:    {RoleAdmin, RoleSystem},

	{BookingStatusCheckedIn, BookingStatusCompleted}: {RoleAdmin, RoleReceptionist},
}

// ValidTargets returns the statuses reachable from the given status
func ValidTargets(from BookingStatus) []BookingStatus {
	var targets []BookingStatus
	for e := range legalEdges {
		if e.From == from {
			targets = append(targets, e.To)
		}
	}
	return targets
}

// ValidateTransition checks that the edge exists in the lifecycle graph.
// Terminal statuses have no outgoing edges, so transitions from them always
// fail here.
func ValidateTransition(from, to BookingStatus) error {
	if _, ok := legalEdges[edge{from, to}]; !ok {
		return ErrInvalidTransition(fmt.Sprintf("transition %s -> %s is not allowed", from, to))
	}
	return nil
}

// AuthorizeTransition checks that the actor's role may drive the edge.
// CLIENT actors may only act on their own booking.
func AuthorizeTransition(from, to BookingStatus, actor Actor, customerID uuid.UUID) error {
	roles, ok := legalEdges[edge{from, to}]
	if !ok {
		return ErrInvalidTransition(fmt.Sprintf("transition %s -> %s is not allowed", from, to))
	}
	for _, r := range roles {
		if r != actor.Role {
			continue
		}
		if actor.Role == RoleClient && actor.ID != customerID {
			return ErrUnauthorized("clients can only act on their own bookings")
		}
		return nil
	}
	return ErrUnauthorized(fmt.Sprintf("role %s cannot perform transition %s -> %s", actor.Role, from, to))
}

// IsTerminalStatus reports whether the status has no outgoing edges
func IsTerminalStatus(s BookingStatus) bool {
	for e := range legalEdges {
		if e.From == s {
			return false
		}
	}
	return true
}

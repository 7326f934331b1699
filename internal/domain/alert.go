package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AlertStatus represents the status of an alert
type AlertStatus string

const (
	AlertStatusOpen         AlertStatus = "OPEN"
	AlertStatusAcknowledged AlertStatus = "ACKNOWLEDGED"
	AlertStatusClosed       AlertStatus = "CLOSED"
)

// Alert represents an actionable fraud escalation
type Alert struct {
	ID uuid.UUID `json:"id" db:"id"`

	// Classification
	Severity Severity    `json:"severity" db:"severity"`
	Status   AlertStatus `json:"status" db:"status"`

	// Details
	Title       string     `json:"title" db:"title"`
	Description string     `json:"description" db:"description"`
	AnomalyID   *uuid.UUID `json:"anomaly_id,omitempty" db:"anomaly_id"`

	// Resolution
	AssignedTo string `json:"assigned_to,omitempty" db:"assigned_to"`
	Resolution string `json:"resolution,omitempty" db:"resolution"`

	// Timestamps
	CreatedAt time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt *time.Time `json:"updated_at,omitempty" db:"updated_at"`
}

// IsClosed returns true if the alert reached its terminal state
func (a *Alert) IsClosed() bool {
	return a.Status == AlertStatusClosed
}

// Acknowledge moves an OPEN alert to ACKNOWLEDGED and assigns it to the actor
func (a *Alert) Acknowledge(actor Actor, now time.Time) error {
	switch a.Status {
	case AlertStatusOpen:
	case AlertStatusClosed:
		// a closed alert is no longer actionable
		return fmt.Errorf("%w: alert %s is closed (%w)", ErrAlertNotFound, a.ID, ErrInvalidTransition)
	default:
		return fmt.Errorf("%w: cannot acknowledge alert in status %s", ErrInvalidTransition, a.Status)
	}
	a.Status = AlertStatusAcknowledged
	a.AssignedTo = actor.Name
	a.UpdatedAt = &now
	return nil
}

// Close moves an OPEN or ACKNOWLEDGED alert to CLOSED
func (a *Alert) Close(actor Actor, resolution string, now time.Time) error {
	if a.Status == AlertStatusClosed {
		return fmt.Errorf("%w: alert %s is closed (%w)", ErrAlertNotFound, a.ID, ErrInvalidTransition)
	}
	if a.AssignedTo == "" {
		a.AssignedTo = actor.Name
	}
	a.Status = AlertStatusClosed
	a.Resolution = resolution
	a.UpdatedAt = &now
	return nil
}

// Clone returns a deep copy of the alert
func (a *Alert) Clone() *Alert {
	c := *a
	if a.AnomalyID != nil {
		id := *a.AnomalyID
		c.AnomalyID = &id
	}
	if a.UpdatedAt != nil {
		u := *a.UpdatedAt
		c.UpdatedAt = &u
	}
	return &c
}

// CreateAlertRequest represents a request to create an alert manually
type CreateAlertRequest struct {
	Title       string   `json:"title" validate:"required,min=5,max=200"`
	Description string   `json:"description" validate:"max=2000"`
	Severity    Severity `json:"severity,omitempty" validate:"omitempty,oneof=LOW MEDIUM HIGH CRITICAL"`
}

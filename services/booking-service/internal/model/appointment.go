package model

import (
	"fmt"
	"strings"
	"time"
)

// AvailabilityWindow is a recurring weekly interval during which a provider can
// be booked. An empty ServiceID applies to every service the provider offers.
type AvailabilityWindow struct {
	ID         string    `json:"id"`
	ProviderID string    `json:"provider_id"`
	Day        Weekday   `json:"day_of_week"`
	Start      Clock     `json:"start_time"`
	End        Clock     `json:"end_time"`
	ServiceID  string    `json:"service_id,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func (w AvailabilityWindow) Interval() Interval { return Interval{Start: w.Start, End: w.End} }

// AppliesTo reports whether the window can host serviceID.
func (w AvailabilityWindow) AppliesTo(serviceID string) bool {
	return w.ServiceID == "" || w.ServiceID == serviceID
}

type Status string

const (
	StatusPending   Status = "PENDING"
	StatusConfirmed Status = "CONFIRMED"
	StatusCancelled Status = "CANCELLED"
	StatusRefused   Status = "REFUSED"
)

func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToUpper(strings.TrimSpace(s)))
	switch st {
	case StatusPending, StatusConfirmed, StatusCancelled, StatusRefused:
		return st, nil
	}
	return "", fmt.Errorf("%w: unknown status %q", ErrInvalidInput, s)
}

// Active statuses occupy their interval.
func (s Status) Active() bool {
	return s == StatusPending || s == StatusConfirmed
}

func (s Status) Terminal() bool {
	return s == StatusCancelled || s == StatusRefused
}

var transitions = map[Status][]Status{
	StatusPending:   {StatusConfirmed, StatusRefused, StatusCancelled},
	StatusConfirmed: {StatusRefused, StatusCancelled},
}

func (s Status) CanTransitionTo(to Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Action is a status change requested through the API.
type Action string

const (
	ActionConfirm Action = "confirm"
	ActionRefuse  Action = "refuse"
	ActionCancel  Action = "cancel"
)

func ParseAction(s string) (Action, error) {
	a := Action(strings.ToLower(strings.TrimSpace(s)))
	switch a {
	case ActionConfirm, ActionRefuse, ActionCancel:
		return a, nil
	}
	return "", fmt.Errorf("%w: unknown action %q", ErrInvalidInput, s)
}

func (a Action) Target() Status {
	switch a {
	case ActionConfirm:
		return StatusConfirmed
	case ActionRefuse:
		return StatusRefused
	case ActionCancel:
		return StatusCancelled
	}
	return ""
}

type Appointment struct {
	ID              string    `json:"id"`
	ProviderID      string    `json:"provider_id"`
	ClientID        string    `json:"client_id"`
	ServiceID       string    `json:"service_id"`
	Date            time.Time `json:"-"`
	Start           Clock     `json:"start_time"`
	DurationMinutes int       `json:"duration_minutes"`
	Status          Status    `json:"status"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

func (a Appointment) End() Clock { return a.Start.Add(a.DurationMinutes) }

func (a Appointment) Interval() Interval { return Interval{Start: a.Start, End: a.End()} }

// Apply moves the appointment to the status targeted by action.
func (a *Appointment) Apply(action Action, at time.Time) error {
	to := action.Target()
	if to == "" {
		return fmt.Errorf("%w: unknown action %q", ErrInvalidInput, action)
	}
	if !a.Status.CanTransitionTo(to) {
		return fmt.Errorf("%w: cannot %s an appointment that is %s", ErrInvalidTransition, action, a.Status)
	}
	a.Status = to
	a.UpdatedAt = at
	return nil
}

// Before orders appointments by (date, start) ascending, then id.
func (a Appointment) Before(b Appointment) bool {
	if !a.Date.Equal(b.Date) {
		return a.Date.Before(b.Date)
	}
	if a.Start != b.Start {
		return a.Start < b.Start
	}
	return a.ID < b.ID
}

package outbox

import (
	"encoding/json"
	"time"

	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/model"
)

// Event is the domain event envelope written to the outbox table.
// The Kafka topic name equals EventType.
type Event struct {
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

const AggregateAppointment = "appointment"

// Appointment lifecycle event types.
const (
	AppointmentCreated     = "booking.appointment.created.v1"
	AppointmentConfirmed   = "booking.appointment.confirmed.v1"
	AppointmentRefused     = "booking.appointment.refused.v1"
	AppointmentCancelled   = "booking.appointment.cancelled.v1"
	AppointmentRescheduled = "booking.appointment.rescheduled.v1"
)

// StatusEventType maps the status an appointment moved to onto its event type.
func StatusEventType(s model.Status) string {
	switch s {
	case model.StatusConfirmed:
		return AppointmentConfirmed
	case model.StatusRefused:
		return AppointmentRefused
	case model.StatusCancelled:
		return AppointmentCancelled
	default:
		return ""
	}
}

type AppointmentPayload struct {
	AppointmentID   string    `json:"appointment_id"`
	ProviderID      string    `json:"provider_id"`
	ClientID        string    `json:"client_id"`
	ServiceID       string    `json:"service_id"`
	Date            string    `json:"date"`
	StartTime       string    `json:"start_time"`
	EndTime         string    `json:"end_time"`
	DurationMinutes int       `json:"duration_minutes"`
	Status          string    `json:"status"`
	OccurredAt      time.Time `json:"occurred_at"`
}

func AppointmentEvent(eventType string, a model.Appointment) (Event, error) {
	payload, err := json.Marshal(AppointmentPayload{
		AppointmentID:   a.ID,
		ProviderID:      a.ProviderID,
		ClientID:        a.ClientID,
		ServiceID:       a.ServiceID,
		Date:            model.FormatDate(a.Date),
		StartTime:       a.Start.String(),
		EndTime:         a.End().String(),
		DurationMinutes: a.DurationMinutes,
		Status:          string(a.Status),
		OccurredAt:      a.UpdatedAt.UTC(),
	})
	if err != nil {
		return Event{}, err
	}
	return Event{
		AggregateType: AggregateAppointment,
		AggregateID:   a.ID,
		EventType:     eventType,
		Payload:       payload,
	}, nil
}

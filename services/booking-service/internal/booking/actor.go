package booking

import (
	"fmt"
	"strings"

	"github.com/md-rashed-zaman/apptbook/libs/auth"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/model"
)

// Actor is the authenticated caller of an operation.
type Actor struct {
	UserID string
	Role   string
	// ProviderID names the provider profile a PROVIDER account owns. Empty
	// means the user id doubles as the provider id.
	ProviderID string
}

func (a Actor) IsAdmin() bool { return a.Role == auth.RoleAdmin }

func (a Actor) provider() string {
	if a.Role != auth.RoleProvider {
		return ""
	}
	if a.ProviderID != "" {
		return a.ProviderID
	}
	return a.UserID
}

func (a Actor) ownsProvider(providerID string) bool {
	p := a.provider()
	return p != "" && p == providerID
}

func (a Actor) bookingClient(requested string) (string, error) {
	requested = strings.TrimSpace(requested)
	switch a.Role {
	case auth.RoleClient:
		if requested != "" && requested != a.UserID {
			return "", fmt.Errorf("%w: clients book for themselves", model.ErrForbidden)
		}
		return a.UserID, nil
	case auth.RoleAdmin:
		if requested == "" {
			return "", fmt.Errorf("%w: client_id is required", model.ErrInvalidInput)
		}
		return requested, nil
	default:
		return "", fmt.Errorf("%w: only clients can book appointments", model.ErrForbidden)
	}
}

// canManage allows confirm, refuse and reschedule.
func (a Actor) canManage(appt model.Appointment) error {
	if a.IsAdmin() || a.ownsProvider(appt.ProviderID) {
		return nil
	}
	return fmt.Errorf("%w: appointment %s belongs to another provider", model.ErrForbidden, appt.ID)
}

func (a Actor) canCancel(appt model.Appointment) error {
	if a.Role == auth.RoleClient && a.UserID == appt.ClientID {
		return nil
	}
	return a.canManage(appt)
}

// canView hides foreign appointments behind ErrNotFound.
func (a Actor) canView(appt model.Appointment) error {
	if a.canCancel(appt) == nil {
		return nil
	}
	return fmt.Errorf("%w: appointment %s", model.ErrNotFound, appt.ID)
}

// windowOwner is the owner filter for window changes; admins see every window.
func (a Actor) windowOwner() (string, error) {
	if a.IsAdmin() {
		return "", nil
	}
	if p := a.provider(); p != "" {
		return p, nil
	}
	return "", fmt.Errorf("%w: only providers manage availability", model.ErrForbidden)
}

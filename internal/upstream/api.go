package upstream

import (
	"context"
	"time"

	"slot-sync-backend/internal/window"
)

// API is the subset of the scheduling vendor the sync engine reads. List
// calls for appointments and slots are silently truncated at the vendor's
// result cap.
type API interface {
	ListAppointmentTypes(ctx context.Context) ([]AppointmentType, error)
	ListResources(ctx context.Context) ([]Resource, error)
	ListAppointments(ctx context.Context, w window.Window, f AppointmentFilter) ([]Appointment, error)
	ListAvailableSlots(ctx context.Context, date time.Time, typeID, resourceID ID) ([]Slot, error)
}

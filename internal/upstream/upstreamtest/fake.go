// Package upstreamtest provides an in-memory scheduling vendor that
// truncates results at a cap the way the real one does.
package upstreamtest

import (
	"context"
	"sync"
	"time"

	"slot-sync-backend/internal/upstream"
	"slot-sync-backend/internal/window"
)

// SlotRecord is one open start time in the fake's dataset.
type SlotRecord struct {
	TypeID     upstream.ID
	ResourceID upstream.ID
	Time       time.Time
}

// Call records one request made to the fake.
type Call struct {
	Endpoint   string
	Window     window.Window
	Filter     upstream.AppointmentFilter
	Date       time.Time
	TypeID     upstream.ID
	ResourceID upstream.ID
}

// Fake implements upstream.API over fixed datasets. The *Func fields, when
// set, replace the dataset behavior of the matching call.
type Fake struct {
	Cap          int
	Types        []upstream.AppointmentType
	Resources    []upstream.Resource
	Appointments []upstream.Appointment
	Slots        []SlotRecord

	TypesErr     error
	ResourcesErr error

	AppointmentsFunc func(w window.Window, f upstream.AppointmentFilter) ([]upstream.Appointment, error)
	SlotsFunc        func(date time.Time, typeID, resourceID upstream.ID) ([]upstream.Slot, error)

	mu    sync.Mutex
	calls []Call
}

var _ upstream.API = (*Fake)(nil)

func (f *Fake) record(c Call) {
	f.mu.Lock()
	f.calls = append(f.calls, c)
	f.mu.Unlock()
}

// Calls returns a copy of every request made so far.
func (f *Fake) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Call, len(f.calls))
	copy(out, f.calls)
	return out
}

// CallsTo returns the requests made to one endpoint.
func (f *Fake) CallsTo(endpoint string) []Call {
	var out []Call
	for _, c := range f.Calls() {
		if c.Endpoint == endpoint {
			out = append(out, c)
		}
	}
	return out
}

func (f *Fake) truncate(n int) int {
	if f.Cap > 0 && n > f.Cap {
		return f.Cap
	}
	return n
}

func (f *Fake) ListAppointmentTypes(ctx context.Context) ([]upstream.AppointmentType, error) {
	f.record(Call{Endpoint: "appointment-types"})
	if f.TypesErr != nil {
		return nil, f.TypesErr
	}
	return f.Types, nil
}

func (f *Fake) ListResources(ctx context.Context) ([]upstream.Resource, error) {
	f.record(Call{Endpoint: "calendars"})
	if f.ResourcesErr != nil {
		return nil, f.ResourcesErr
	}
	return f.Resources, nil
}

func (f *Fake) ListAppointments(ctx context.Context, w window.Window, filter upstream.AppointmentFilter) ([]upstream.Appointment, error) {
	f.record(Call{Endpoint: "appointments", Window: w, Filter: filter})
	if f.AppointmentsFunc != nil {
		return f.AppointmentsFunc(w, filter)
	}

	var out []upstream.Appointment
	for _, a := range f.Appointments {
		if !w.Contains(a.Datetime.Time) {
			continue
		}
		if filter.TypeID != "" && a.AppointmentTypeID != filter.TypeID {
			continue
		}
		if filter.ResourceID != "" && a.CalendarID != filter.ResourceID {
			continue
		}
		if a.Canceled && !filter.IncludeCanceled {
			continue
		}
		out = append(out, a)
	}
	return out[:f.truncate(len(out))], nil
}

func (f *Fake) ListAvailableSlots(ctx context.Context, date time.Time, typeID, resourceID upstream.ID) ([]upstream.Slot, error) {
	f.record(Call{Endpoint: "availability/times", Date: date, TypeID: typeID, ResourceID: resourceID})
	if f.SlotsFunc != nil {
		return f.SlotsFunc(date, typeID, resourceID)
	}

	day := window.MustNew(date, date)
	var out []upstream.Slot
	for _, s := range f.Slots {
		if s.TypeID != typeID || !day.Contains(s.Time) {
			continue
		}
		if resourceID != "" && s.ResourceID != resourceID {
			continue
		}
		out = append(out, upstream.Slot{Time: upstream.Timestamp{Time: s.Time}, CalendarID: s.ResourceID})
	}
	return out[:f.truncate(len(out))], nil
}

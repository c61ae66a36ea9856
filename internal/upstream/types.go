package upstream

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// ID is a vendor identifier. The vendor sends numbers for most ids but
// strings for some, so both decode into ID.
type ID string

func (id *ID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = ID(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("id: %w", err)
	}
	if i, err := n.Int64(); err == nil {
		*id = ID(strconv.FormatInt(i, 10))
		return nil
	}
	*id = ID(n.String())
	return nil
}

func (id ID) String() string { return string(id) }

// timestampLayouts are the formats seen in vendor payloads.
var timestampLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05-0700",
	"2006-01-02T15:04:05",
}

// Timestamp decodes vendor date-times with or without a colon in the
// offset.
type Timestamp struct {
	time.Time
}

func (t *Timestamp) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("timestamp: %w", err)
	}
	if s == "" {
		t.Time = time.Time{}
		return nil
	}
	for _, layout := range timestampLayouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			t.Time = parsed
			return nil
		}
	}
	return fmt.Errorf("timestamp: unrecognized format %q", s)
}

// AppointmentType is one bookable service.
type AppointmentType struct {
	ID            ID     `json:"id"`
	Name          string `json:"name"`
	Category      string `json:"category"`
	SchedulingURL string `json:"schedulingUrl"`
	Active        bool   `json:"active"`
	CalendarIDs   []ID   `json:"calendarIDs"`
}

// Resource is an individually schedulable calendar (usually an employee).
type Resource struct {
	ID       ID     `json:"id"`
	Name     string `json:"name"`
	Location string `json:"location"`
}

// Appointment is a raw booking record.
type Appointment struct {
	ID                ID        `json:"id"`
	CalendarID        ID        `json:"calendarID"`
	Calendar          string    `json:"calendar"`
	AppointmentTypeID ID        `json:"appointmentTypeID"`
	Type              string    `json:"type"`
	Datetime          Timestamp `json:"datetime"`
	EndTime           Timestamp `json:"endTime"`
	Canceled          bool      `json:"canceled"`
	Rescheduled       bool      `json:"rescheduled"`
}

// Slot is one available start time.
type Slot struct {
	Time       Timestamp `json:"time"`
	CalendarID ID        `json:"calendarID"`
}

// AppointmentFilter scopes an appointment query. Empty ids mean "any".
type AppointmentFilter struct {
	TypeID          ID
	ResourceID      ID
	IncludeCanceled bool
}

func (f AppointmentFilter) String() string {
	return fmt.Sprintf("type=%s resource=%s canceled=%t", f.TypeID, f.ResourceID, f.IncludeCanceled)
}

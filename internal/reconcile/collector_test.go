package reconcile

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"slot-sync-backend/internal/apperr"
	"slot-sync-backend/internal/classify"
	"slot-sync-backend/internal/upstream"
	"slot-sync-backend/internal/upstream/upstreamtest"
	"slot-sync-backend/internal/window"
)

func newTestCollector(api upstream.API, cap int) *Collector {
	c := NewCollector(api, CollectorOptions{Cap: cap, DateBatchSize: 2})
	c.sleep = func(context.Context, time.Duration) {}
	return c
}

func slotsFor(typeID, resourceID upstream.ID, date time.Time, n int) []upstreamtest.SlotRecord {
	out := make([]upstreamtest.SlotRecord, n)
	for i := range out {
		out[i] = upstreamtest.SlotRecord{TypeID: typeID, ResourceID: resourceID, Time: date.Add(time.Duration(9*60+15*i) * time.Minute)}
	}
	return out
}

func TestCollect_CountsPerResource(t *testing.T) {
	d1 := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)
	d2 := d1.AddDate(0, 0, 1)
	fake := &upstreamtest.Fake{Cap: 100}
	fake.Slots = append(fake.Slots, slotsFor("7", "1", d1, 3)...)
	fake.Slots = append(fake.Slots, slotsFor("7", "2", d1, 2)...)
	fake.Slots = append(fake.Slots, slotsFor("7", "1", d2, 4)...)
	fake.Slots = append(fake.Slots, slotsFor("8", "1", d2, 9)...)

	set := NewSlotSet()
	st := newTestCollector(fake, 100).Collect(context.Background(), Request{
		Type:     upstream.AppointmentType{ID: "7"},
		Category: classify.Fitting,
		Window:   window.MustNew(d1, d2),
	}, set, nil)

	assert.Equal(t, 2, st.Queries)
	assert.Equal(t, Totals{
		{Date: "2025-07-01", ResourceID: "1", Category: classify.Fitting}: 3,
		{Date: "2025-07-01", ResourceID: "2", Category: classify.Fitting}: 2,
		{Date: "2025-07-02", ResourceID: "1", Category: classify.Fitting}: 4,
	}, set.Totals())
}

func TestCollect_DropsSlotsWithoutTime(t *testing.T) {
	d1 := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)
	fake := &upstreamtest.Fake{
		SlotsFunc: func(date time.Time, typeID, resourceID upstream.ID) ([]upstream.Slot, error) {
			return []upstream.Slot{
				{Time: upstream.Timestamp{Time: date.Add(9 * time.Hour)}, CalendarID: "1"},
				{},
			}, nil
		},
	}

	set := NewSlotSet()
	tally := apperr.NewTally(10)
	st := newTestCollector(fake, 100).Collect(context.Background(), Request{
		Type:     upstream.AppointmentType{ID: "7"},
		Category: classify.Fitting,
		Window:   window.MustNew(d1, d1),
	}, set, tally)

	assert.Equal(t, 1, st.Malformed)
	assert.Equal(t, Totals{{Date: "2025-07-01", ResourceID: "1", Category: classify.Fitting}: 1}, set.Totals())
	assert.Equal(t, 1, tally.Count(apperr.MalformedRecord))
}

func TestCollect_SameSlotAcrossTypesCountsOnce(t *testing.T) {
	d := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)
	fake := &upstreamtest.Fake{Cap: 100}
	fake.Slots = append(fake.Slots, slotsFor("7", "1", d, 3)...)
	fake.Slots = append(fake.Slots, slotsFor("8", "1", d, 5)...)

	set := NewSlotSet()
	c := newTestCollector(fake, 100)
	w := window.MustNew(d, d)
	c.Collect(context.Background(), Request{Type: upstream.AppointmentType{ID: "7"}, Category: classify.Fitting, Window: w}, set, nil)
	c.Collect(context.Background(), Request{Type: upstream.AppointmentType{ID: "8"}, Category: classify.Fitting, Window: w}, set, nil)

	assert.Equal(t, 5, set.Totals()[Key{Date: "2025-07-01", ResourceID: "1", Category: classify.Fitting}])
}

func TestCollect_CapHitFallsBackPerResource(t *testing.T) {
	d := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)
	fake := &upstreamtest.Fake{Cap: 10}
	fake.Slots = append(fake.Slots, slotsFor("7", "1", d, 8)...)
	fake.Slots = append(fake.Slots, slotsFor("7", "2", d, 6)...)

	set := NewSlotSet()
	st := newTestCollector(fake, 10).Collect(context.Background(), Request{
		Type:     upstream.AppointmentType{ID: "7", CalendarIDs: []upstream.ID{"1", "2"}},
		Category: classify.Measurement,
		Window:   window.MustNew(d, d),
	}, set, nil)

	assert.Equal(t, 1, st.CapHits)
	assert.Equal(t, 3, st.Queries)
	assert.Empty(t, st.Truncated)
	totals := set.Totals()
	assert.Equal(t, 8, totals[Key{Date: "2025-07-01", ResourceID: "1", Category: classify.Measurement}])
	assert.Equal(t, 6, totals[Key{Date: "2025-07-01", ResourceID: "2", Category: classify.Measurement}])
}

func TestCollect_FailedDateIsSkipped(t *testing.T) {
	d1 := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)
	d2 := d1.AddDate(0, 0, 1)
	fake := &upstreamtest.Fake{
		SlotsFunc: func(date time.Time, typeID, resourceID upstream.ID) ([]upstream.Slot, error) {
			if date.Equal(d1) {
				return nil, apperr.New(apperr.TransientAPI, "availability", "7", errors.New("HTTP 502"))
			}
			return []upstream.Slot{{Time: upstream.Timestamp{Time: d2.Add(9 * time.Hour)}, CalendarID: "1"}}, nil
		},
	}

	tally := apperr.NewTally(0)
	set := NewSlotSet()
	st := newTestCollector(fake, 100).Collect(context.Background(), Request{
		Type:     upstream.AppointmentType{ID: "7"},
		Category: classify.Fitting,
		Window:   window.MustNew(d1, d2),
	}, set, tally)

	assert.Equal(t, []string{"7@2025-07-01"}, st.FailedDates)
	assert.Equal(t, 1, tally.Count(apperr.TransientAPI))
	assert.Len(t, set.Totals(), 1)
}

func TestCollect_BatchesDatesWithDelay(t *testing.T) {
	start := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)
	fake := &upstreamtest.Fake{Cap: 100}
	c := NewCollector(fake, CollectorOptions{DateBatchSize: 2, BatchDelay: time.Second})
	var sleeps []time.Duration
	c.sleep = func(_ context.Context, d time.Duration) { sleeps = append(sleeps, d) }

	st := c.Collect(context.Background(), Request{
		Type:   upstream.AppointmentType{ID: "7"},
		Window: window.MustNew(start, start.AddDate(0, 0, 4)),
	}, NewSlotSet(), nil)

	assert.Equal(t, 5, st.Queries)
	assert.Equal(t, []time.Duration{time.Second, time.Second}, sleeps)
}

func TestCollect_StopsSchedulingAfterCancel(t *testing.T) {
	start := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)
	fake := &upstreamtest.Fake{Cap: 100}
	ctx, cancel := context.WithCancel(context.Background())
	c := newTestCollector(fake, 100)
	c.sleep = func(context.Context, time.Duration) { cancel() }

	st := c.Collect(ctx, Request{
		Type:   upstream.AppointmentType{ID: "7"},
		Window: window.MustNew(start, start.AddDate(0, 0, 5)),
	}, NewSlotSet(), nil)

	assert.Equal(t, 2, st.Queries, "only the first batch runs")
	assert.Equal(t, 4, st.Unscheduled)
	assert.Len(t, fake.CallsTo("availability/times"), 2)
}

func ExampleAvailable() {
	fmt.Println(Available(10, 3), Available(2, 5))
	// Output: 7 0
}

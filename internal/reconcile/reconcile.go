// Package reconcile turns availability totals and bookings into per-resource
// and per-group slot counts.
package reconcile

import (
	"sort"
	"time"

	"slot-sync-backend/internal/classify"
	"slot-sync-backend/internal/logging"
	"slot-sync-backend/internal/model"
	"slot-sync-backend/internal/parse"
	"slot-sync-backend/internal/window"
)

// Key identifies one per-resource count.
type Key struct {
	Date       string
	ResourceID string
	Category   classify.Category
}

// Totals maps a key to its number of theoretical slots.
type Totals map[Key]int

// Resource is the pass-scoped view of one calendar.
type Resource struct {
	ID    string
	Label string
	Group string
}

// Identified reports whether the resource can have its own counts.
func (r Resource) Identified() bool {
	return !parse.IsPlaceholder(r.ID)
}

// Directory resolves resource ids for one sync pass. It is built fresh from
// the vendor's resource listing on every run.
type Directory map[string]Resource

// NewDirectory indexes resources by id, deriving each group key from the
// resource's location or label.
func NewDirectory(resources []Resource) Directory {
	d := make(Directory, len(resources))
	for _, r := range resources {
		if r.Group == "" {
			r.Group = parse.Normalize(r.Label)
		}
		d[r.ID] = r
	}
	return d
}

// resolve returns the resource for id, falling back to what the booking
// itself says when the directory does not know it.
func (d Directory) resolve(id, label, group string) Resource {
	if r, ok := d[id]; ok && r.Identified() {
		return r
	}
	if group == "" && label != "" {
		group = parse.Normalize(label)
	}
	return Resource{ID: id, Label: label, Group: group}
}

// SlotCount is one reconciled row. Scope is a resource id or a group key.
type SlotCount struct {
	Date      string
	Scope     string
	Label     string
	Group     string
	Category  classify.Category
	Total     int
	Booked    int
	Available int
	// Resources is the number of distinct resources summed into a group row.
	Resources int
}

// Result holds both granularities plus the contributions that could not be
// attributed to a resource.
type Result struct {
	Resources []SlotCount
	Groups    []SlotCount
	// Skipped lists per-resource keys dropped for missing identity.
	Skipped []Key
}

// Available is the floor rule every row obeys.
func Available(total, booked int) int {
	if total-booked < 0 {
		return 0
	}
	return total - booked
}

type groupKey struct {
	date     string
	group    string
	category classify.Category
}

type counts struct {
	total  int
	booked int
}

type groupCounts struct {
	counts
	members map[string]struct{}
}

// Reconcile combines totals with the booked appointments. Bookings are dated
// by their start time in loc. Group rows are sums of the underlying totals
// and bookings, with Available recomputed from the sums.
func Reconcile(totals Totals, appointments []model.Appointment, dir Directory, loc *time.Location) Result {
	if loc == nil {
		loc = time.UTC
	}

	perResource := make(map[Key]*counts)
	perGroup := make(map[groupKey]*groupCounts)
	labels := make(map[string]Resource)
	skipped := make(map[Key]struct{})

	add := func(k Key, res Resource, total, booked int) {
		if res.Identified() {
			c, ok := perResource[k]
			if !ok {
				c = &counts{}
				perResource[k] = c
			}
			c.total += total
			c.booked += booked
			labels[res.ID] = res
		} else {
			skipped[k] = struct{}{}
		}

		if parse.IsPlaceholder(res.Group) {
			return
		}
		gk := groupKey{date: k.Date, group: res.Group, category: k.Category}
		g, ok := perGroup[gk]
		if !ok {
			g = &groupCounts{members: make(map[string]struct{})}
			perGroup[gk] = g
		}
		g.total += total
		g.booked += booked
		member := res.ID
		if !res.Identified() {
			member = "label:" + res.Label
		}
		g.members[member] = struct{}{}
	}

	// One identity per resource id, so totals and bookings of a calendar
	// missing from the directory land in the same group.
	known := make(map[string]Resource)
	for _, a := range appointments {
		if parse.IsPlaceholder(a.ResourceID) {
			continue
		}
		if r, ok := known[a.ResourceID]; ok && r.Group != "" {
			continue
		}
		known[a.ResourceID] = dir.resolve(a.ResourceID, a.ResourceLabel, a.GroupKey)
	}
	identity := func(id, label, group string) Resource {
		if r, ok := known[id]; ok {
			return r
		}
		return dir.resolve(id, label, group)
	}

	for k, n := range totals {
		add(k, identity(k.ResourceID, "", ""), n, 0)
	}
	for _, a := range appointments {
		if !a.Booked() {
			continue
		}
		k := Key{
			Date:       a.StartTime.In(loc).Format(window.DateLayout),
			ResourceID: a.ResourceID,
			Category:   a.Category,
		}
		add(k, identity(a.ResourceID, a.ResourceLabel, a.GroupKey), 0, 1)
	}

	var out Result
	for k, c := range perResource {
		res := labels[k.ResourceID]
		out.Resources = append(out.Resources, SlotCount{
			Date:      k.Date,
			Scope:     k.ResourceID,
			Label:     res.Label,
			Group:     res.Group,
			Category:  k.Category,
			Total:     c.total,
			Booked:    c.booked,
			Available: Available(c.total, c.booked),
			Resources: 1,
		})
	}
	for k, g := range perGroup {
		out.Groups = append(out.Groups, SlotCount{
			Date:      k.date,
			Scope:     k.group,
			Label:     k.group,
			Group:     k.group,
			Category:  k.category,
			Total:     g.total,
			Booked:    g.booked,
			Available: Available(g.total, g.booked),
			Resources: len(g.members),
		})
	}
	for k := range skipped {
		out.Skipped = append(out.Skipped, k)
	}

	sortCounts(out.Resources)
	sortCounts(out.Groups)
	sort.Slice(out.Skipped, func(i, j int) bool {
		a, b := out.Skipped[i], out.Skipped[j]
		if a.Date != b.Date {
			return a.Date < b.Date
		}
		if a.ResourceID != b.ResourceID {
			return a.ResourceID < b.ResourceID
		}
		return a.Category < b.Category
	})

	if len(out.Skipped) > 0 {
		logging.Warn().Int("keys", len(out.Skipped)).Msg("skipped per-resource counts without a resolvable resource id")
	}
	return out
}

func sortCounts(rows []SlotCount) {
	sort.Slice(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if a.Date != b.Date {
			return a.Date < b.Date
		}
		if a.Scope != b.Scope {
			return a.Scope < b.Scope
		}
		return a.Category < b.Category
	})
}

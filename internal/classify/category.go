package classify

import "fmt"

// Category is the closed set of business lines an appointment type can
// belong to.
type Category string

const (
	Measurement Category = "measurement"
	Fitting     Category = "fitting"
)

// Categories lists every valid category in rule priority order.
func Categories() []Category {
	return []Category{Measurement, Fitting}
}

// Valid reports whether c is a member of the closed enum.
func (c Category) Valid() bool {
	for _, known := range Categories() {
		if c == known {
			return true
		}
	}
	return false
}

// ParseCategory validates a configured category name.
func ParseCategory(s string) (Category, error) {
	c := Category(s)
	if !c.Valid() {
		return "", fmt.Errorf("unknown category %q", s)
	}
	return c, nil
}

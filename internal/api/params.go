package api

import (
	"fmt"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"slot-sync-backend/internal/classify"
	"slot-sync-backend/internal/window"
)

// dateRange reads the optional from/to query parameters as dates in loc.
// Either bound may be omitted.
func dateRange(c *gin.Context, loc *time.Location) (from, to time.Time, err error) {
	if s := c.Query("from"); s != "" {
		if from, err = time.ParseInLocation(window.DateLayout, s, loc); err != nil {
			return from, to, fmt.Errorf("invalid from date %q", s)
		}
	}
	if s := c.Query("to"); s != "" {
		if to, err = time.ParseInLocation(window.DateLayout, s, loc); err != nil {
			return from, to, fmt.Errorf("invalid to date %q", s)
		}
	}
	if !from.IsZero() && !to.IsZero() && to.Before(from) {
		return from, to, fmt.Errorf("to date %s is before from date %s", c.Query("to"), c.Query("from"))
	}
	return from, to, nil
}

func categoryParam(c *gin.Context) (classify.Category, error) {
	s := c.Query("category")
	if s == "" {
		return "", nil
	}
	return classify.ParseCategory(s)
}

func intParam(c *gin.Context, key string, def int) (int, error) {
	s := c.Query(key)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid %s %q", key, s)
	}
	return n, nil
}

// asDate re-expresses a date as the UTC midnight slot tables store.
func asDate(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

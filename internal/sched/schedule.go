package sched

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/footybrain/footyd/internal/persistence"
)

// Schedule yields successive fire instants for one catalog job.
type Schedule interface {
	// Next returns the first fire instant strictly after the given
	// time. A zero return means the schedule can never fire again.
	Next(after time.Time) time.Time
}

// Every fires at a fixed interval.
type Every time.Duration

// Next anchors the cadence to the previous fire, not to wall-clock
// boundaries.
func (e Every) Next(after time.Time) time.Time {
	return after.Add(time.Duration(e))
}

// ParseSchedule reads a catalog schedule string: a Go duration for
// interval jobs, a five-field cron expression for cron jobs.
func ParseSchedule(kind persistence.JobKind, spec string) (Schedule, error) {
	switch kind {
	case persistence.JobInterval:
		d, err := time.ParseDuration(spec)
		if err != nil {
			return nil, fmt.Errorf("invalid interval %q: %w", spec, err)
		}
		if d < time.Second {
			return nil, fmt.Errorf("interval %q is below the 1s floor", spec)
		}
		return Every(d), nil
	case persistence.JobCron:
		return ParseCron(spec)
	default:
		return nil, fmt.Errorf("unknown job kind %q", kind)
	}
}

// Cron is a parsed five-field crontab expression (minute, hour, day of
// month, month, day of week) evaluated at minute precision. Each field
// is a bitmask of the permitted values.
type Cron struct {
	minute uint64
	hour   uint64
	dom    uint64
	month  uint64
	dow    uint64

	// Crontab's day rule needs to know which day fields were written
	// as a bare star.
	domStar bool
	dowStar bool
}

var monthNames = map[string]int{
	"jan": 1, "feb": 2, "mar": 3, "apr": 4, "may": 5, "jun": 6,
	"jul": 7, "aug": 8, "sep": 9, "oct": 10, "nov": 11, "dec": 12,
}

var dayNames = map[string]int{
	"sun": 0, "mon": 1, "tue": 2, "wed": 3, "thu": 4, "fri": 5, "sat": 6,
}

// ParseCron parses a five-field crontab expression. Lists, ranges,
// steps and three-letter month/day names are accepted; in the day of
// week field both 0 and 7 mean Sunday.
func ParseCron(expr string) (*Cron, error) {
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return nil, fmt.Errorf("cron %q: want 5 fields, got %d", expr, len(fields))
	}

	c := &Cron{}
	specs := []struct {
		src    string
		lo, hi int
		names  map[string]int
		wrap   int
		mask   *uint64
		star   *bool
	}{
		{fields[0], 0, 59, nil, 0, &c.minute, nil},
		{fields[1], 0, 23, nil, 0, &c.hour, nil},
		{fields[2], 1, 31, nil, 0, &c.dom, &c.domStar},
		{fields[3], 1, 12, monthNames, 0, &c.month, nil},
		{fields[4], 0, 7, dayNames, 7, &c.dow, &c.dowStar},
	}
	for i, s := range specs {
		mask, star, err := parseField(s.src, s.lo, s.hi, s.names, s.wrap)
		if err != nil {
			return nil, fmt.Errorf("cron %q field %d: %w", expr, i+1, err)
		}
		*s.mask = mask
		if s.star != nil {
			*s.star = star
		}
	}
	return c, nil
}

// parseField parses one comma-separated field into a bitmask. wrap, when
// non-zero, folds values modulo wrap so 7 lands on Sunday's bit.
func parseField(src string, lo, hi int, names map[string]int, wrap int) (uint64, bool, error) {
	var mask uint64
	star := false
	for _, item := range strings.Split(src, ",") {
		m, isStar, err := parseItem(item, lo, hi, names, wrap)
		if err != nil {
			return 0, false, err
		}
		mask |= m
		star = star || isStar
	}
	if mask == 0 {
		return 0, false, fmt.Errorf("empty field %q", src)
	}
	return mask, star, nil
}

func parseItem(item string, lo, hi int, names map[string]int, wrap int) (uint64, bool, error) {
	step := 1
	if i := strings.IndexByte(item, '/'); i >= 0 {
		n, err := strconv.Atoi(item[i+1:])
		if err != nil || n <= 0 {
			return 0, false, fmt.Errorf("bad step in %q", item)
		}
		step = n
		item = item[:i]
	}

	from, to := lo, hi
	isStar := item == "*"
	if !isStar {
		var err error
		lohi := strings.SplitN(item, "-", 2)
		from, err = fieldValue(lohi[0], names)
		if err != nil {
			return 0, false, err
		}
		switch {
		case len(lohi) == 2:
			to, err = fieldValue(lohi[1], names)
			if err != nil {
				return 0, false, err
			}
		case step > 1:
			// "n/step" runs to the top of the field, vixie style.
			to = hi
		default:
			to = from
		}
	}
	if from < lo || to > hi || from > to {
		return 0, false, fmt.Errorf("value out of range in %q", item)
	}

	var mask uint64
	for v := from; v <= to; v += step {
		bit := v
		if wrap > 0 {
			bit = v % wrap
		}
		mask |= 1 << uint(bit)
	}
	// A bare star with a step restricts the field.
	return mask, isStar && step == 1, nil
}

func fieldValue(s string, names map[string]int) (int, error) {
	if n, err := strconv.Atoi(s); err == nil {
		return n, nil
	}
	if names != nil {
		if n, ok := names[strings.ToLower(s)]; ok {
			return n, nil
		}
	}
	return 0, fmt.Errorf("bad value %q", s)
}

func bitSet(mask uint64, v int) bool {
	return mask&(1<<uint(v)) != 0
}

// Next returns the first matching instant strictly after the given
// time, in its location. Expressions whose day and month constraints
// never coincide (e.g. Feb 30) return the zero time after a bounded
// scan.
func (c *Cron) Next(after time.Time) time.Time {
	t := after.Truncate(time.Minute).Add(time.Minute)
	limit := after.AddDate(5, 0, 0)

	for t.Before(limit) {
		if !bitSet(c.month, int(t.Month())) {
			t = time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location()).AddDate(0, 1, 0)
			continue
		}
		if !c.dayMatches(t) {
			t = time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location()).AddDate(0, 0, 1)
			continue
		}
		if !bitSet(c.hour, t.Hour()) {
			t = time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), 0, 0, 0, t.Location()).Add(time.Hour)
			continue
		}
		if !bitSet(c.minute, t.Minute()) {
			t = t.Add(time.Minute)
			continue
		}
		return t
	}
	return time.Time{}
}

// dayMatches applies crontab's day rule: when both day fields are
// restricted either may match, otherwise the restricted one decides.
func (c *Cron) dayMatches(t time.Time) bool {
	domOK := bitSet(c.dom, t.Day())
	dowOK := bitSet(c.dow, int(t.Weekday()))
	switch {
	case c.domStar && c.dowStar:
		return true
	case c.domStar:
		return dowOK
	case c.dowStar:
		return domOK
	default:
		return domOK || dowOK
	}
}

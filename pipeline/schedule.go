package pipeline

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/gorhill/cronexpr"
)

// Schedule yields the next run time after from. A zero time means the
// schedule never fires again.
type Schedule interface {
	Next(from time.Time) time.Time
}

// Duration is an ISO8601 duration such as P1DT12H or PT0.5S. Calendar parts
// are applied with time.AddDate, so P1M after January 31 lands in March.
type Duration struct {
	Years, Months, Weeks, Days int
	Hours, Minutes             int
	Seconds                    float64
}

var isoDuration = regexp.MustCompile(
	`^P(?:(\d+)Y)?(?:(\d+)M)?(?:(\d+)W)?(?:(\d+)D)?(?:T(?:(\d+)H)?(?:(\d+)M)?(?:(\d+(?:[.,]\d+)?)S)?)?$`)

// ParseDuration parses the PnYnMnWnDTnHnMnS form. Only seconds may be
// fractional.
func ParseDuration(s string) (Duration, error) {
	s = strings.TrimSpace(s)
	upper := strings.ToUpper(s)
	m := isoDuration.FindStringSubmatch(upper)
	if m == nil || upper == "P" || strings.HasSuffix(upper, "T") {
		return Duration{}, fmt.Errorf("unknown pattern %s", s)
	}

	ints := make([]int, 6)
	for i := range ints {
		if m[i+1] == "" {
			continue
		}
		n, err := strconv.Atoi(m[i+1])
		if err != nil {
			return Duration{}, fmt.Errorf("unknown pattern %s: %w", s, err)
		}
		ints[i] = n
	}

	var secs float64
	if m[7] != "" {
		f, err := strconv.ParseFloat(strings.Replace(m[7], ",", ".", 1), 64)
		if err != nil {
			return Duration{}, fmt.Errorf("unknown pattern %s: %w", s, err)
		}
		secs = f
	}

	return Duration{
		Years: ints[0], Months: ints[1], Weeks: ints[2], Days: ints[3],
		Hours: ints[4], Minutes: ints[5], Seconds: secs,
	}, nil
}

// Next returns from plus the duration.
func (d Duration) Next(from time.Time) time.Time {
	t := from.AddDate(d.Years, d.Months, d.Weeks*7+d.Days)
	clock := time.Duration(d.Hours)*time.Hour + time.Duration(d.Minutes)*time.Minute +
		time.Duration(math.Round(d.Seconds*float64(time.Second)))
	return t.Add(clock)
}

// String formats d back into ISO8601.
func (d Duration) String() string {
	var b strings.Builder
	b.WriteString("P")
	for _, part := range []struct {
		n      int
		suffix string
	}{{d.Years, "Y"}, {d.Months, "M"}, {d.Weeks, "W"}, {d.Days, "D"}} {
		if part.n != 0 {
			fmt.Fprintf(&b, "%d%s", part.n, part.suffix)
		}
	}
	if d.Hours != 0 || d.Minutes != 0 || d.Seconds != 0 {
		b.WriteString("T")
		if d.Hours != 0 {
			fmt.Fprintf(&b, "%dH", d.Hours)
		}
		if d.Minutes != 0 {
			fmt.Fprintf(&b, "%dM", d.Minutes)
		}
		if d.Seconds != 0 {
			b.WriteString(strconv.FormatFloat(d.Seconds, 'f', -1, 64) + "S")
		}
	}
	if b.Len() == 1 {
		return "PT0S"
	}
	return b.String()
}

// Cron is a cron expression schedule. Five fields are minute based, seven
// fields add seconds and years.
type Cron struct {
	source string
	expr   *cronexpr.Expression
}

// ParseCron parses a cron expression.
func ParseCron(s string) (*Cron, error) {
	expr, err := cronexpr.Parse(strings.TrimSpace(s))
	if err != nil {
		return nil, err
	}
	return &Cron{source: s, expr: expr}, nil
}

// Next returns the next matching time after from.
func (c *Cron) Next(from time.Time) time.Time {
	return c.expr.Next(from)
}

func (c *Cron) String() string {
	return c.source
}

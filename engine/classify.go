/*
classify.go - Shift hour classifier

PURPOSE:
  Splits a shift's worked time into the five pay buckets
  {day, night, saturday, sunday, bank_holiday} under a client's
  pay-time policy.

ALGORITHM:
  1. The shift is cut into contiguous sub-ranges at local midnight
     (an overnight shift yields exactly one cut per midnight crossed).
  2. Each sub-range is attributed by precedence:
       bank holiday > Sunday > Saturday > day/night split
     where the day/night split uses the policy's day window in local
     minutes of day.
  3. Breaks are subtracted afterwards: explicit intervals are
     classified the same way and subtracted bucket-by-bucket; a bare
     duration comes out of the largest bucket first, then in fixed
     precedence order (bank holiday, Sunday, Saturday, night, day).

TIMEZONE HANDLING:
  The UTC offset applied to a sub-range is the one in effect at noon
  of its local calendar date. A single local day therefore never spans
  two offsets, even on DST transition days.

  The largest-bucket-first break rule is a fixed contract inherited
  from the billing rules this engine implements; do not re-derive it.
*/
package engine

import (
	"time"

	"github.com/shopspring/decimal"
)

const minutesPerDay = 24 * 60

// Classifier splits shifts into pay buckets. The calendar supplies
// bank-holiday membership by local calendar date.
type Classifier struct {
	Calendar BankHolidayCalendar
}

func NewClassifier(cal BankHolidayCalendar) *Classifier {
	if cal == nil {
		cal = NoHolidays{}
	}
	return &Classifier{Calendar: cal}
}

// minuteBuckets accumulates whole minutes per bucket before the final
// conversion to 2dp hours.
type minuteBuckets struct {
	day, night, saturday, sunday, bankHoliday int
}

func (m *minuteBuckets) add(other minuteBuckets) {
	m.day += other.day
	m.night += other.night
	m.saturday += other.saturday
	m.sunday += other.sunday
	m.bankHoliday += other.bankHoliday
}

// subtractClamped removes classified break minutes bucket-by-bucket,
// never driving a bucket negative.
func (m *minuteBuckets) subtractClamped(other minuteBuckets) {
	m.day = clampZero(m.day - other.day)
	m.night = clampZero(m.night - other.night)
	m.saturday = clampZero(m.saturday - other.saturday)
	m.sunday = clampZero(m.sunday - other.sunday)
	m.bankHoliday = clampZero(m.bankHoliday - other.bankHoliday)
}

func clampZero(n int) int {
	if n < 0 {
		return 0
	}
	return n
}

// Classify splits the timesheet's shift into hour buckets under the
// given policy. The shift must have a positive duration and the policy
// day window must be well-formed.
func (c *Classifier) Classify(policy PayTimePolicy, ts Timesheet) (HourBuckets, error) {
	if !ts.EndAt.After(ts.StartAt) {
		return HourBuckets{}, &FieldError{Field: "end_at", Reason: "must be after start_at"}
	}
	if policy.DayStartMinute < 0 || policy.DayEndMinute > minutesPerDay ||
		policy.DayStartMinute >= policy.DayEndMinute {
		return HourBuckets{}, &FieldError{Field: "policy.day_window", Reason: "day start must precede day end within one day"}
	}
	loc, err := policy.Location()
	if err != nil {
		return HourBuckets{}, &FieldError{Field: "policy.timezone", Reason: err.Error()}
	}

	worked := c.classifyRange(policy, loc, ts.StartAt, ts.EndAt)

	for _, br := range ts.Break.Intervals {
		overlap := intersect(br, Interval{Start: ts.StartAt, End: ts.EndAt})
		if overlap == nil {
			continue
		}
		breakMinutes := c.classifyRange(policy, loc, overlap.Start, overlap.End)
		worked.subtractClamped(breakMinutes)
	}
	if ts.Break.Duration > 0 {
		subtractDuration(&worked, int(ts.Break.Duration/time.Minute))
	}

	return toHourBuckets(worked), nil
}

// classifyRange attributes every minute of [start, end) to a bucket.
func (c *Classifier) classifyRange(policy PayTimePolicy, loc *time.Location, start, end time.Time) minuteBuckets {
	var out minuteBuckets

	cur := start
	for cur.Before(end) {
		y, m, d := cur.In(loc).Date()
		date := NewDate(y, m, d)

		// One fixed offset per local calendar date, taken at noon so a
		// DST change at 01:00 or 02:00 cannot split the day.
		offset := offsetAtNoon(loc, y, m, d)
		midnight := time.Date(y, m, d, 0, 0, 0, 0, time.UTC).Add(-offset)
		nextMidnight := midnight.Add(minutesPerDay * time.Minute)

		segEnd := end
		if nextMidnight.Before(end) {
			segEnd = nextMidnight
		}

		startMin := int(cur.Sub(midnight) / time.Minute)
		endMin := int(segEnd.Sub(midnight) / time.Minute)
		out.add(c.classifySegment(policy, date, startMin, endMin))

		cur = segEnd
	}
	return out
}

// classifySegment attributes [startMin, endMin) of one local calendar
// day. Precedence: bank holiday, Sunday, Saturday, then the day/night
// split at the policy boundary.
func (c *Classifier) classifySegment(policy PayTimePolicy, date Date, startMin, endMin int) minuteBuckets {
	var out minuteBuckets
	total := endMin - startMin
	if total <= 0 {
		return out
	}

	if c.Calendar.IsBankHoliday(policy.HolidayCalendar, date) {
		out.bankHoliday = total
		return out
	}
	switch date.Weekday() {
	case time.Sunday:
		out.sunday = total
		return out
	case time.Saturday:
		out.saturday = total
		return out
	}

	out.day = overlapMinutes(startMin, endMin, policy.DayStartMinute, policy.DayEndMinute)
	out.night = total - out.day
	return out
}

// subtractDuration removes a bare break duration: largest bucket first
// (ties broken by precedence order), then remaining buckets in
// precedence order until the duration is exhausted.
func subtractDuration(m *minuteBuckets, minutes int) {
	if minutes <= 0 {
		return
	}
	order := []*int{&m.bankHoliday, &m.sunday, &m.saturday, &m.night, &m.day}

	largest := order[0]
	for _, b := range order[1:] {
		if *b > *largest {
			largest = b
		}
	}
	taken := minInt(minutes, *largest)
	*largest -= taken
	minutes -= taken

	for _, b := range order {
		if minutes == 0 {
			return
		}
		taken := minInt(minutes, *b)
		*b -= taken
		minutes -= taken
	}
}

func toHourBuckets(m minuteBuckets) HourBuckets {
	toHours := func(minutes int) decimal.Decimal {
		return decimal.NewFromInt(int64(minutes)).Div(decimal.NewFromInt(60)).Round(2)
	}
	return HourBuckets{
		Day:         toHours(m.day),
		Night:       toHours(m.night),
		Saturday:    toHours(m.saturday),
		Sunday:      toHours(m.sunday),
		BankHoliday: toHours(m.bankHoliday),
	}
}

func offsetAtNoon(loc *time.Location, y int, m time.Month, d int) time.Duration {
	_, off := time.Date(y, m, d, 12, 0, 0, 0, loc).Zone()
	return time.Duration(off) * time.Second
}

func overlapMinutes(aStart, aEnd, bStart, bEnd int) int {
	start := maxInt(aStart, bStart)
	end := minInt(aEnd, bEnd)
	return clampZero(end - start)
}

func intersect(a, b Interval) *Interval {
	start := a.Start
	if b.Start.After(start) {
		start = b.Start
	}
	end := a.End
	if b.End.Before(end) {
		end = b.End
	}
	if !end.After(start) {
		return nil
	}
	return &Interval{Start: start, End: end}
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

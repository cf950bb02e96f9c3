package ics

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/teambition/rrule-go"

	appLog "tmusync/internal/log"
)

const (
	// DefaultHorizonMonths bounds windowed expansion.
	DefaultHorizonMonths = 6

	maxOccurrencesPerRule = 5000
)

// weekdayTokens maps RRULE BYDAY tokens to Sunday=0 weekdays.
var weekdayTokens = map[string]time.Weekday{
	"SU": time.Sunday,
	"MO": time.Monday,
	"TU": time.Tuesday,
	"WE": time.Wednesday,
	"TH": time.Thursday,
	"FR": time.Friday,
	"SA": time.Saturday,
}

// rruleWeekdays is indexed by time.Weekday.
var rruleWeekdays = [7]rrule.Weekday{rrule.SU, rrule.MO, rrule.TU, rrule.WE, rrule.TH, rrule.FR, rrule.SA}

// fromRRuleDay converts rrule-go's Monday=0..Sunday=6 numbering.
func fromRRuleDay(d int) time.Weekday {
	return time.Weekday((d + 1) % 7)
}

// Occurrence is one concrete instance of a recurring event.
type Occurrence struct {
	Start time.Time
	End   time.Time
}

// Rule is a parsed recurrence rule bound to its event's original times.
type Rule struct {
	Raw      string
	Days     []time.Weekday // sorted, unique
	Until    time.Time      // zero when the rule has no UNTIL
	Count    int            // zero when the rule has no COUNT
	Interval int            // weeks (days for FREQ=DAILY) between meetings; 0 means 1
	Start    time.Time
	End      time.Time
	ExDates  []time.Time

	daily bool
	wkst  rrule.Weekday
}

// ParseRule reads BYDAY, UNTIL, COUNT and INTERVAL from raw. Without BYDAY
// the weekday of start is the only recurring day (every day for
// FREQ=DAILY). A date-only UNTIL covers that whole day in the event's zone.
func ParseRule(raw string, start, end time.Time) Rule {
	r := Rule{Raw: strings.TrimSpace(raw), Start: start, End: end}
	if r.Raw == "" {
		return r
	}
	body := r.Raw
	if len(body) >= 6 && strings.EqualFold(body[:6], "RRULE:") {
		body = body[6:]
	}

	loc := time.UTC
	if !start.IsZero() {
		loc = start.Location()
	}

	opt, err := rrule.StrToROptionInLocation(body, loc)
	if err == nil {
		for i := range opt.Byweekday {
			r.Days = append(r.Days, fromRRuleDay(opt.Byweekday[i].Day()))
		}
		r.Until = opt.Until
		r.Count = opt.Count
		r.Interval = opt.Interval
		r.daily = opt.Freq == rrule.DAILY
		r.wkst = opt.Wkst
	} else {
		appLog.Debug("rrule rejected rule; scanning tokens", "rrule", r.Raw, "err", err.Error())
		scanRule(&r, body, loc)
	}
	if r.Count < 0 {
		r.Count = 0
	}

	if tok := ruleValue(body, "UNTIL"); len(tok) == 8 && !r.Until.IsZero() {
		d := r.Until.In(loc)
		r.Until = time.Date(d.Year(), d.Month(), d.Day()+1, 0, 0, 0, 0, loc).Add(-time.Nanosecond)
	}

	if len(r.Days) == 0 {
		switch {
		case r.daily:
			r.Days = []time.Weekday{time.Sunday, time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday, time.Saturday}
		case !start.IsZero():
			r.Days = []time.Weekday{start.Weekday()}
		}
	}
	r.Days = uniqueDays(r.Days)
	return r
}

// scanRule is the tolerant fallback for rules rrule-go refuses, e.g. ones
// carrying vendor X- parts or a missing FREQ.
func scanRule(r *Rule, body string, loc *time.Location) {
	for _, part := range strings.Split(body, ";") {
		key, val, ok := strings.Cut(part, "=")
		if !ok {
			continue
		}
		key = strings.ToUpper(strings.TrimSpace(key))
		val = strings.ToUpper(strings.TrimSpace(val))
		switch key {
		case "FREQ":
			r.daily = val == "DAILY"
		case "BYDAY":
			for _, tok := range strings.Split(val, ",") {
				tok = strings.TrimLeft(strings.TrimSpace(tok), "+-0123456789")
				if d, ok := weekdayTokens[tok]; ok {
					r.Days = append(r.Days, d)
				}
			}
		case "UNTIL":
			if t, err := parseICSTime(val, loc); err == nil {
				r.Until = t
			}
		case "COUNT":
			r.Count, _ = strconv.Atoi(val)
		case "INTERVAL":
			r.Interval, _ = strconv.Atoi(val)
		case "WKST":
			if d, ok := weekdayTokens[val]; ok {
				r.wkst = rruleWeekdays[d]
			}
		}
	}
}

func ruleValue(body, key string) string {
	for _, part := range strings.Split(body, ";") {
		k, v, ok := strings.Cut(part, "=")
		if ok && strings.EqualFold(strings.TrimSpace(k), key) {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func uniqueDays(days []time.Weekday) []time.Weekday {
	if len(days) == 0 {
		return nil
	}
	seen := make(map[time.Weekday]bool, len(days))
	out := make([]time.Weekday, 0, len(days))
	for _, d := range days {
		if !seen[d] {
			seen[d] = true
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// IsRecurring reports whether the rule carries any recurrence text.
func (r Rule) IsRecurring() bool {
	return r.Raw != ""
}

// Expired reports whether the rule has no meeting left at or after now:
// UNTIL lies strictly before now, or the last of its COUNT meetings started
// before now.
func (r Rule) Expired(now time.Time) bool {
	if !r.Until.IsZero() && r.Until.Before(now) {
		return true
	}
	if r.Count > 0 {
		last, ok := r.lastOccurrence()
		return !ok || last.Before(now)
	}
	return false
}

// Duration is the original event length, never negative.
func (r Rule) Duration() time.Duration {
	if d := r.End.Sub(r.Start); d > 0 {
		return d
	}
	return 0
}

// Next returns the first meeting on day at or after max(ref, Start), at the
// event's own time of day. ok is false when the rule has no such meeting
// left.
func (r Rule) Next(day time.Weekday, ref time.Time) (start, end time.Time, ok bool) {
	if r.Start.IsZero() || len(r.Days) == 0 {
		return time.Time{}, time.Time{}, false
	}
	base := ref
	if r.Start.After(base) {
		base = r.Start
	}
	set, err := r.set()
	if err != nil {
		appLog.Error("rrule build failed", err, "rrule", r.Raw)
		return time.Time{}, time.Time{}, false
	}

	// Every weekday of the rule meets at least once per 7*interval days;
	// the second cycle covers a skipped EXDATE.
	loc := r.Start.Location()
	window := base.AddDate(0, 0, 14*r.interval())
	for _, t := range set.Between(base, window, true) {
		if t.In(loc).Weekday() == day {
			return t, t.Add(r.Duration()), true
		}
	}
	return time.Time{}, time.Time{}, false
}

// Occurrences expands the rule from its original start and returns the
// meetings between max(ref, Start) and the earlier of UNTIL and horizonEnd.
// COUNT and INTERVAL apply; EXDATEs are removed. Expired rules and rules
// without a start produce nothing.
func (r Rule) Occurrences(ref, horizonEnd time.Time) []Occurrence {
	if r.Start.IsZero() || len(r.Days) == 0 || r.Expired(ref) {
		return nil
	}

	base := ref
	if r.Start.After(base) {
		base = r.Start
	}
	limit := horizonEnd
	if !r.Until.IsZero() && r.Until.Before(limit) {
		limit = r.Until
	}
	if limit.Before(base) {
		return nil
	}

	set, err := r.set()
	if err != nil {
		appLog.Error("rrule build failed", err, "rrule", r.Raw)
		return nil
	}

	times := set.Between(base, limit, true)
	if len(times) > maxOccurrencesPerRule {
		appLog.Error("rrule expansion truncated", nil, "rrule", r.Raw, "cap", maxOccurrencesPerRule)
		times = times[:maxOccurrencesPerRule]
	}

	dur := r.Duration()
	out := make([]Occurrence, 0, len(times))
	for _, t := range times {
		out = append(out, Occurrence{Start: t, End: t.Add(dur)})
	}
	return out
}

func (r Rule) interval() int {
	if r.Interval < 1 {
		return 1
	}
	return r.Interval
}

// set builds the rule on Days anchored at the original DTSTART, so COUNT
// and INTERVAL are counted from the first meeting.
func (r Rule) set() (*rrule.Set, error) {
	loc := r.Start.Location()
	byDay := make([]rrule.Weekday, 0, len(r.Days))
	for _, d := range r.Days {
		byDay = append(byDay, rruleWeekdays[d])
	}

	freq := rrule.WEEKLY
	if r.daily {
		freq = rrule.DAILY
	}
	rr, err := rrule.NewRRule(rrule.ROption{
		Freq:      freq,
		Dtstart:   r.Start,
		Interval:  r.interval(),
		Wkst:      r.wkst,
		Count:     r.Count,
		Byweekday: byDay,
		Until:     r.Until,
	})
	if err != nil {
		return nil, err
	}

	set := &rrule.Set{}
	set.RRule(rr)
	for _, ex := range r.ExDates {
		set.ExDate(ex.In(loc))
	}
	return set, nil
}

// lastOccurrence is the final meeting of a COUNT-bounded rule.
func (r Rule) lastOccurrence() (time.Time, bool) {
	if r.Start.IsZero() || len(r.Days) == 0 || r.Count == 0 {
		return time.Time{}, false
	}
	set, err := r.set()
	if err != nil {
		appLog.Error("rrule build failed", err, "rrule", r.Raw)
		return time.Time{}, false
	}
	all := set.All()
	if len(all) == 0 {
		return time.Time{}, false
	}
	return all[len(all)-1], true
}

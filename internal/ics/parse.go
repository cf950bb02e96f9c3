package ics

import (
	"bufio"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	appLog "tmusync/internal/log"
)

// CalendarEvent is the typed form of one VEVENT. Recurrence is recorded but
// not expanded; see ParseRule.
type CalendarEvent struct {
	Source Source

	UID         string
	Title       string
	Description string
	Location    string
	URL         string

	// Start is zero when DTSTART could not be resolved.
	Start  time.Time
	End    time.Time
	AllDay bool

	RecurrenceRule string
	RecurrenceDays []time.Weekday
	ExDates        []time.Time
}

var textUnescaper = strings.NewReplacer(`\n`, "\n", `\N`, "\n", `\,`, ",", `\;`, ";", `\\`, `\`)

// ParseICS parses one ICS payload into CalendarEvents.
//
// A body without BEGIN:VCALENDAR/END:VCALENDAR markers is a *ParseError.
// When the strict parse fails on a body that does have the markers, each
// VEVENT block is parsed on its own and broken blocks are skipped.
func ParseICS(src Source, body []byte) ([]CalendarEvent, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, &ParseError{Source: src, Err: errors.New("empty ICS body")}
	}
	upper := bytes.ToUpper(body)
	if !bytes.Contains(upper, []byte("BEGIN:VCALENDAR")) || !bytes.Contains(upper, []byte("END:VCALENDAR")) {
		return nil, &ParseError{Source: src, Err: errors.New("missing VCALENDAR begin/end markers")}
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		appLog.Error("ics strict parse failed; parsing events individually", err, "id", src.ID)
		events := parseLenient(src, body)
		appLog.Info("ics lenient parse completed", "id", src.ID, "event_count", len(events))
		return events, nil
	}

	events := make([]CalendarEvent, 0, len(cal.Events()))
	for _, ve := range cal.Events() {
		events = append(events, parseVEvent(src, ve))
	}

	appLog.Info("ics parse completed", "id", src.ID, "event_count", len(events))
	return events, nil
}

// parseLenient cuts every BEGIN:VEVENT..END:VEVENT block out of body and
// parses it inside a minimal calendar wrapper.
func parseLenient(src Source, body []byte) []CalendarEvent {
	events := make([]CalendarEvent, 0)
	for i, block := range splitVEvents(body) {
		var b strings.Builder
		b.WriteString("BEGIN:VCALENDAR\r\nVERSION:2.0\r\nPRODID:-//tmusync//lenient//EN\r\n")
		b.WriteString(block)
		b.WriteString("END:VCALENDAR\r\n")

		cal, err := ical.ParseCalendar(strings.NewReader(b.String()))
		if err != nil {
			appLog.Error("ics vevent block skipped", err, "id", src.ID, "block", i)
			continue
		}
		for _, ve := range cal.Events() {
			events = append(events, parseVEvent(src, ve))
		}
	}
	return events
}

func splitVEvents(body []byte) []string {
	var (
		blocks []string
		cur    strings.Builder
		inside bool
	)
	sc := bufio.NewScanner(bytes.NewReader(body))
	sc.Buffer(make([]byte, 0, 64*1024), maxBodyBytes)
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		marker := strings.ToUpper(strings.TrimSpace(line))
		switch {
		case marker == "BEGIN:VEVENT":
			// A BEGIN without a matching END discards the partial block.
			cur.Reset()
			inside = true
			cur.WriteString(line + "\r\n")
		case marker == "END:VEVENT" && inside:
			cur.WriteString(line + "\r\n")
			blocks = append(blocks, cur.String())
			cur.Reset()
			inside = false
		case inside:
			cur.WriteString(line + "\r\n")
		}
	}
	return blocks
}

func parseVEvent(src Source, ve *ical.VEvent) CalendarEvent {
	out := CalendarEvent{Source: src}

	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
		out.Title = strings.TrimSpace(textUnescaper.Replace(p.Value))
	}
	if p := ve.GetProperty(ical.ComponentPropertyDescription); p != nil {
		out.Description = strings.TrimSpace(textUnescaper.Replace(p.Value))
	}
	if p := ve.GetProperty(ical.ComponentPropertyLocation); p != nil {
		out.Location = strings.TrimSpace(textUnescaper.Replace(p.Value))
	}
	if p := ve.GetProperty(ical.ComponentPropertyUrl); p != nil {
		out.URL = strings.TrimSpace(p.Value)
	}

	var rawStart string
	if dtStartProp := ve.GetProperty(ical.ComponentPropertyDtStart); dtStartProp != nil {
		rawStart = dtStartProp.Value
		if vs, ok := dtStartProp.ICalParameters["VALUE"]; ok && len(vs) > 0 && strings.EqualFold(vs[0], "DATE") {
			out.AllDay = true
		}
		if rawStart != "" && !strings.Contains(rawStart, "T") {
			out.AllDay = true
		}
	}

	if uidProp := ve.GetProperty(ical.ComponentPropertyUniqueId); uidProp != nil && uidProp.Value != "" {
		out.UID = uidProp.Value
	} else {
		sum := sha256.Sum256([]byte(out.Title + "|" + rawStart))
		out.UID = hex.EncodeToString(sum[:8]) + "@tmusync"
	}

	if rawStart != "" {
		if start, err := ve.GetStartAt(); err == nil {
			out.Start = start
		} else if start, err := ve.GetAllDayStartAt(); err == nil {
			out.Start = start
		} else {
			appLog.Debug("ics vevent start unresolved", "id", src.ID, "uid", out.UID, "dtstart", rawStart)
		}
	}
	if !out.Start.IsZero() {
		if end, err := ve.GetEndAt(); err == nil {
			out.End = end
		} else if end, err := ve.GetAllDayEndAt(); err == nil {
			out.End = end
		}
		if out.End.IsZero() || out.End.Before(out.Start) {
			out.End = out.Start
			if out.AllDay {
				out.End = out.Start.Add(24 * time.Hour)
			}
		}
	}

	if rruleProp := ve.GetProperty(ical.ComponentPropertyRrule); rruleProp != nil && strings.TrimSpace(rruleProp.Value) != "" {
		out.RecurrenceRule = strings.TrimSpace(rruleProp.Value)
		out.RecurrenceDays = ParseRule(out.RecurrenceRule, out.Start, out.End).Days
	}

	loc := time.UTC
	if !out.Start.IsZero() {
		loc = out.Start.Location()
	}
	for _, p := range ve.GetProperties(ical.ComponentPropertyExdate) {
		exLoc := loc
		if tzs, ok := p.ICalParameters["TZID"]; ok && len(tzs) > 0 {
			if l, err := time.LoadLocation(tzs[0]); err == nil {
				exLoc = l
			}
		}
		for _, part := range strings.Split(p.Value, ",") {
			if t, err := parseICSTime(part, exLoc); err == nil {
				out.ExDates = append(out.ExDates, t)
			}
		}
	}

	return out
}

// parseICSTime parses a DATE or DATE-TIME value. Floating values are
// interpreted in loc.
func parseICSTime(v string, loc *time.Location) (time.Time, error) {
	v = strings.TrimSpace(v)
	switch {
	case v == "":
		return time.Time{}, errors.New("empty time value")
	case strings.HasSuffix(v, "Z"):
		return time.Parse("20060102T150405Z", v)
	case strings.Contains(v, "T"):
		return time.ParseInLocation("20060102T150405", v, loc)
	default:
		return time.ParseInLocation("20060102", v, loc)
	}
}

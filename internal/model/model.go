package model

import (
	"fmt"
	"time"
)

// Sentinel course codes used when no code can be extracted. Class sessions
// use CodeUnknown; assignments are grouped under CodeGeneral.
const (
	CodeUnknown = "UNKNOWN"
	CodeGeneral = "General"
)

// SourceFeed identifies which kind of feed produced a record.
type SourceFeed string

const SourceICS SourceFeed = "ICS"

// Clock is a wall-clock time of day, independent of any date.
type Clock struct {
	Hour   int `json:"hour"`
	Minute int `json:"minute"`
}

// ClockOf returns the time of day of t in t's own location.
func ClockOf(t time.Time) Clock {
	return Clock{Hour: t.Hour(), Minute: t.Minute()}
}

// Minutes returns minutes since midnight.
func (c Clock) Minutes() int {
	return c.Hour*60 + c.Minute
}

func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute)
}

// Assignment is a one-off, forward-looking obligation taken from a feed.
type Assignment struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	DueDate     time.Time  `json:"due_date"`
	CourseCode  string     `json:"course_code"`
	CourseName  string     `json:"course_name,omitempty"`
	Description string     `json:"description,omitempty"`
	ExternalURL string     `json:"external_url,omitempty"`
	SourceFeed  SourceFeed `json:"source_feed"`

	// Set by the catalog matcher.
	MatchedCourseKey   string `json:"matched_course_key,omitempty"`
	MatchedCourseName  string `json:"matched_course_name,omitempty"`
	IsMatchedToCatalog bool   `json:"is_matched_to_catalog"`
}

// ClassOccurrence is one weekly class slot: a recurring event contributes
// one per weekday it recurs on; a one-off class event contributes exactly one.
// StartInstant/EndInstant are the next concrete meeting of that slot.
type ClassOccurrence struct {
	ID           string       `json:"id"`
	Title        string       `json:"title"`
	CourseCode   string       `json:"course_code"`
	CourseName   string       `json:"course_name,omitempty"`
	DayOfWeek    time.Weekday `json:"day_of_week"`
	StartTime    Clock        `json:"start_time"`
	EndTime      Clock        `json:"end_time"`
	StartInstant time.Time    `json:"start_instant"`
	EndInstant   time.Time    `json:"end_instant"`
	Location     string       `json:"location,omitempty"`
}

// Hours returns the slot length in hours. A slot whose end clock is before
// its start clock is treated as crossing midnight.
func (c ClassOccurrence) Hours() float64 {
	mins := c.EndTime.Minutes() - c.StartTime.Minutes()
	if mins < 0 {
		mins += 24 * 60
	}
	return float64(mins) / 60
}

// Session is a single concrete class meeting inside the expansion window.
type Session struct {
	SourceID   string    `json:"source_id"`
	UID        string    `json:"uid"`
	Title      string    `json:"title"`
	CourseCode string    `json:"course_code"`
	Location   string    `json:"location,omitempty"`
	Start      time.Time `json:"start"`
	End        time.Time `json:"end"`
}

// CatalogEntry is one course from the authoritative catalog. Key may be a
// cross-listed pair such as "CP8307/CPS843".
type CatalogEntry struct {
	Key   string `json:"key" yaml:"key"`
	Title string `json:"title" yaml:"title"`
}

// MatchTier records which matching strategy reconciled a course code.
type MatchTier string

const (
	TierExact      MatchTier = "exact"
	TierNormalized MatchTier = "normalized"
	TierPartial    MatchTier = "partial"
	TierNone       MatchTier = "none"
)

// CourseCodeMatch is the outcome of matching one assignment course code
// against the catalog. DisplayCode is the code to show for the match; for
// cross-listed keys it is the component the assignment feed already uses.
type CourseCodeMatch struct {
	AssignmentCourseCode string    `json:"assignment_course_code"`
	MatchedCatalogKey    string    `json:"matched_catalog_key,omitempty"`
	MatchedCatalogTitle  string    `json:"matched_catalog_title,omitempty"`
	DisplayCode          string    `json:"display_code,omitempty"`
	MatchTier            MatchTier `json:"match_tier"`
}

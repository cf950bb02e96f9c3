// Package classify tags calendar events as assignments, class sessions or
// noise.
package classify

import (
	"regexp"
	"time"

	"tmusync/internal/ics"
)

// Tag is the classification of one event.
type Tag int

const (
	Ignore Tag = iota
	Assignment
	ClassSession
)

func (t Tag) String() string {
	switch t {
	case Assignment:
		return "assignment"
	case ClassSession:
		return "class_session"
	default:
		return "ignore"
	}
}

// Keywords match whole words, plurals and numbered forms such as "Lab2",
// "Quiz_3" or "Midterms".
var (
	classKeywords      = regexp.MustCompile(`(?i)\b(lecture|lec|lab|laboratory|tutorial|tut|seminar|sem|class|section)(?:e?s|_?\d+)?\b`)
	assignmentKeywords = regexp.MustCompile(`(?i)\b(due|assignment|quiz|quizzes|exam|test|midterm|final|project|submission|deadline|homework|paper|essay|report)(?:e?s|_?\d+)?\b`)
)

// Classifier applies keyword and recurrence heuristics relative to Now.
type Classifier struct {
	Now time.Time
}

// IsClassLike reports a class-session keyword in the title or any
// recurrence rule.
func IsClassLike(ev ics.CalendarEvent) bool {
	return ev.RecurrenceRule != "" || classKeywords.MatchString(ev.Title)
}

// IsAssignmentLike reports an assignment keyword in the title or description.
func IsAssignmentLike(ev ics.CalendarEvent) bool {
	return assignmentKeywords.MatchString(ev.Title) || assignmentKeywords.MatchString(ev.Description)
}

// Classify tags ev. Class signals win over assignment signals, and
// assignments dated before the start of Now's day are dropped.
func (c Classifier) Classify(ev ics.CalendarEvent) Tag {
	if ev.Start.IsZero() {
		return Ignore
	}
	if IsClassLike(ev) {
		return ClassSession
	}
	if IsAssignmentLike(ev) && !ev.Start.Before(c.startOfDay()) {
		return Assignment
	}
	return Ignore
}

func (c Classifier) startOfDay() time.Time {
	n := c.Now
	return time.Date(n.Year(), n.Month(), n.Day(), 0, 0, 0, 0, n.Location())
}

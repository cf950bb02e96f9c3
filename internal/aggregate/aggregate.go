// Package aggregate merges per-feed results into one deduplicated view.
package aggregate

import (
	"sort"

	"tmusync/internal/model"
)

// Failure stages.
const (
	StageFetch = "fetch"
	StageParse = "parse"
)

// Failure records why one feed contributed nothing.
type Failure struct {
	FeedID string `json:"feed_id"`
	Stage  string `json:"stage"`
	Error  string `json:"error"`
}

// FeedResult is everything one feed produced.
type FeedResult struct {
	FeedID      string
	Assignments []model.Assignment
	Classes     []model.ClassOccurrence
	Sessions    []model.Session
}

// Result is the merged output of a refresh.
type Result struct {
	Assignments      []model.Assignment      `json:"assignments"`
	Classes          []model.ClassOccurrence `json:"classes"`
	Sessions         []model.Session         `json:"sessions"`
	Failures         []Failure               `json:"failures"`
	WeeklyClassHours float64                 `json:"weekly_class_hours"`
}

type assignmentKey struct {
	title string
	due   int64
}

type classKey struct {
	code  string
	day   int
	start int
}

type sessionKey struct {
	code  string
	title string
	start int64
}

// Aggregator collects feed results. Merging is order-independent: on a key
// collision the record with the smaller ID is kept.
type Aggregator struct {
	assignments map[assignmentKey]model.Assignment
	classes     map[classKey]model.ClassOccurrence
	sessions    map[sessionKey]model.Session
	failures    []Failure
}

func New() *Aggregator {
	return &Aggregator{
		assignments: make(map[assignmentKey]model.Assignment),
		classes:     make(map[classKey]model.ClassOccurrence),
		sessions:    make(map[sessionKey]model.Session),
	}
}

// Add merges one feed's records.
func (a *Aggregator) Add(r FeedResult) {
	for _, as := range r.Assignments {
		k := assignmentKey{title: as.Title, due: as.DueDate.UnixNano()}
		if prev, ok := a.assignments[k]; !ok || as.ID < prev.ID {
			a.assignments[k] = as
		}
	}
	for _, c := range r.Classes {
		k := classKey{code: c.CourseCode, day: int(c.DayOfWeek), start: c.StartTime.Minutes()}
		if prev, ok := a.classes[k]; !ok || c.ID < prev.ID {
			a.classes[k] = c
		}
	}
	for _, s := range r.Sessions {
		k := sessionKey{code: s.CourseCode, title: s.Title, start: s.Start.UnixNano()}
		if prev, ok := a.sessions[k]; !ok || s.UID < prev.UID {
			a.sessions[k] = s
		}
	}
}

// AddFailure records a feed that could not be used.
func (a *Aggregator) AddFailure(f Failure) {
	a.failures = append(a.failures, f)
}

// Result returns the merged, sorted view.
func (a *Aggregator) Result() Result {
	res := Result{
		Assignments: make([]model.Assignment, 0, len(a.assignments)),
		Classes:     make([]model.ClassOccurrence, 0, len(a.classes)),
		Sessions:    make([]model.Session, 0, len(a.sessions)),
		Failures:    append([]Failure{}, a.failures...),
	}
	for _, as := range a.assignments {
		res.Assignments = append(res.Assignments, as)
	}
	for _, c := range a.classes {
		res.Classes = append(res.Classes, c)
	}
	for _, s := range a.sessions {
		res.Sessions = append(res.Sessions, s)
	}

	sort.Slice(res.Assignments, func(i, j int) bool {
		x, y := res.Assignments[i], res.Assignments[j]
		if !x.DueDate.Equal(y.DueDate) {
			return x.DueDate.Before(y.DueDate)
		}
		return x.Title < y.Title
	})
	sort.Slice(res.Classes, func(i, j int) bool {
		x, y := res.Classes[i], res.Classes[j]
		if x.DayOfWeek != y.DayOfWeek {
			return x.DayOfWeek < y.DayOfWeek
		}
		if x.StartTime.Minutes() != y.StartTime.Minutes() {
			return x.StartTime.Minutes() < y.StartTime.Minutes()
		}
		return x.CourseCode < y.CourseCode
	})
	sort.Slice(res.Sessions, func(i, j int) bool {
		x, y := res.Sessions[i], res.Sessions[j]
		if !x.Start.Equal(y.Start) {
			return x.Start.Before(y.Start)
		}
		if x.CourseCode != y.CourseCode {
			return x.CourseCode < y.CourseCode
		}
		return x.Title < y.Title
	})
	sort.Slice(res.Failures, func(i, j int) bool {
		if res.Failures[i].FeedID != res.Failures[j].FeedID {
			return res.Failures[i].FeedID < res.Failures[j].FeedID
		}
		return res.Failures[i].Stage < res.Failures[j].Stage
	})

	res.WeeklyClassHours = WeeklyClassHours(res.Classes)
	return res
}

// WeeklyClassHours sums the length of each distinct weekly slot.
func WeeklyClassHours(classes []model.ClassOccurrence) float64 {
	total := 0.0
	for _, c := range classes {
		total += c.Hours()
	}
	return total
}

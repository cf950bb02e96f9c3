package classify

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"tmusync/internal/ics"
)

var now = time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)

func TestClassify(t *testing.T) {
	tomorrow := now.AddDate(0, 0, 1)
	earlierToday := time.Date(2026, 10, 15, 8, 0, 0, 0, time.UTC)
	lastWeek := now.AddDate(0, 0, -7)

	tests := []struct {
		name string
		ev   ics.CalendarEvent
		want Tag
	}{
		{
			name: "recurring seminar mentioning a test stays a class",
			ev:   ics.CalendarEvent{Title: "Midterm Test Review Seminar", Start: tomorrow, RecurrenceRule: "FREQ=WEEKLY;BYDAY=TH"},
			want: ClassSession,
		},
		{
			name: "recurring event without keywords is a class",
			ev:   ics.CalendarEvent{Title: "CPS843", Start: tomorrow, RecurrenceRule: "FREQ=WEEKLY"},
			want: ClassSession,
		},
		{
			name: "lecture keyword",
			ev:   ics.CalendarEvent{Title: "CPS843 - LEC", Start: lastWeek},
			want: ClassSession,
		},
		{
			name: "assignment due tomorrow",
			ev:   ics.CalendarEvent{Title: "CPS843 Assignment 2 Due", Start: tomorrow},
			want: Assignment,
		},
		{
			name: "keyword only in description",
			ev:   ics.CalendarEvent{Title: "CPS843 checkpoint", Description: "Project milestone", Start: tomorrow},
			want: Assignment,
		},
		{
			name: "due earlier today still counts",
			ev:   ics.CalendarEvent{Title: "Quiz 4", Start: earlierToday},
			want: Assignment,
		},
		{
			name: "past assignment dropped",
			ev:   ics.CalendarEvent{Title: "Quiz 3", Start: lastWeek},
			want: Ignore,
		},
		{
			name: "keyword inside a word does not count",
			ev:   ics.CalendarEvent{Title: "Syllabus contest", Start: tomorrow},
			want: Ignore,
		},
		{
			name: "no start",
			ev:   ics.CalendarEvent{Title: "Final Exam"},
			want: Ignore,
		},
		{
			name: "neither",
			ev:   ics.CalendarEvent{Title: "Club social", Start: tomorrow},
			want: Ignore,
		},
	}

	c := Classifier{Now: now}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.want.String(), c.Classify(tt.ev).String()); diff != "" {
				t.Errorf("Classify (-want +got):\n%s", diff)
			}
		})
	}
}

func TestKeywordForms(t *testing.T) {
	tests := []struct {
		title          string
		wantClass      bool
		wantAssignment bool
	}{
		{"CPS843 Quiz1", false, true},
		{"Quizzes close", false, true},
		{"MTH110 Midterms", false, true},
		{"Assignment3 submission", false, true},
		{"Homework_2", false, true},
		{"Finals week", false, true},
		{"CPS843 Lab2", true, false},
		{"Lectures resume", true, false},
		{"Tutorials cancelled", true, false},
		{"Syllabus", false, false},
		{"Programming contest", false, false},
		{"Labyrinth tour", false, false},
	}
	for _, tt := range tests {
		t.Run(tt.title, func(t *testing.T) {
			ev := ics.CalendarEvent{Title: tt.title, Start: now.AddDate(0, 0, 1)}
			if diff := cmp.Diff(tt.wantClass, IsClassLike(ev)); diff != "" {
				t.Errorf("IsClassLike (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(tt.wantAssignment, IsAssignmentLike(ev)); diff != "" {
				t.Errorf("IsAssignmentLike (-want +got):\n%s", diff)
			}
		})
	}
}

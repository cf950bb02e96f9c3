// Package pipeline runs one calendar refresh: every feed is fetched and
// parsed concurrently, its events are classified and turned into
// assignments, weekly class slots and concrete sessions, and the merged
// result is reconciled against the course catalog.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"tmusync/internal/aggregate"
	"tmusync/internal/classify"
	"tmusync/internal/coursecode"
	"tmusync/internal/ics"
	appLog "tmusync/internal/log"
	"tmusync/internal/match"
	"tmusync/internal/model"
	"tmusync/internal/palette"
)

const defaultMaxConcurrent = 4

// idSpace namespaces the deterministic record IDs.
var idSpace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("urn:tmusync:record"))

// Fetcher is satisfied by *ics.Fetcher.
type Fetcher interface {
	FetchOne(ctx context.Context, src ics.Source) (ics.FetchResult, error)
}

// Request is the input of one refresh.
type Request struct {
	Sources []ics.Source
	Catalog []model.CatalogEntry

	// Now anchors classification and expansion; time.Now() if zero.
	Now time.Time

	// Location defines "today"; Now's own location if nil.
	Location *time.Location

	HorizonMonths int
	MaxConcurrent int
	Colors        []string
}

// Result is the reconciled output of a refresh.
type Result struct {
	GeneratedAt time.Time `json:"generated_at"`
	aggregate.Result
	Matches []model.CourseCodeMatch `json:"matches"`
	Colors  map[string]string       `json:"colors"`
}

// Runner executes refreshes against a Fetcher.
type Runner struct {
	fetcher Fetcher
}

func New(f Fetcher) *Runner {
	return &Runner{fetcher: f}
}

type feedOutcome struct {
	feed    aggregate.FeedResult
	failure *aggregate.Failure
}

// Run performs one refresh. Feed failures are reported in the result and
// never fail the run; only cancellation of ctx does.
func (r *Runner) Run(ctx context.Context, req Request) (Result, error) {
	now := req.Now
	if now.IsZero() {
		now = time.Now()
	}
	if req.Location != nil {
		now = now.In(req.Location)
	}
	horizon := req.HorizonMonths
	if horizon <= 0 {
		horizon = ics.DefaultHorizonMonths
	}
	limit := req.MaxConcurrent
	if limit <= 0 {
		limit = defaultMaxConcurrent
	}

	appLog.Info("refresh start", "feeds", len(req.Sources), "now", now.Format(time.RFC3339))

	outcomes := make([]feedOutcome, len(req.Sources))
	var g errgroup.Group
	g.SetLimit(limit)
	for i, src := range req.Sources {
		g.Go(func() error {
			outcomes[i] = r.processFeed(ctx, src, now, horizon)
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return Result{}, fmt.Errorf("refresh cancelled: %w", err)
	}

	agg := aggregate.New()
	for _, o := range outcomes {
		if o.failure != nil {
			agg.AddFailure(*o.failure)
			continue
		}
		agg.Add(o.feed)
	}
	merged := agg.Result()

	catalog := match.NewCatalog(req.Catalog, match.AssignmentCodes(merged.Assignments))
	enriched, matches := catalog.Enrich(merged.Assignments)
	merged.Assignments = enriched

	res := Result{
		GeneratedAt: now,
		Result:      merged,
		Matches:     matches,
		Colors:      palette.New(req.Colors).Assign(courseCodes(merged)),
	}

	appLog.Info("refresh done",
		"assignments", len(res.Assignments),
		"classes", len(res.Classes),
		"sessions", len(res.Sessions),
		"failures", len(res.Failures),
		"weekly_hours", res.WeeklyClassHours,
	)
	return res, nil
}

func (r *Runner) processFeed(ctx context.Context, src ics.Source, now time.Time, horizonMonths int) feedOutcome {
	fetched, err := r.fetcher.FetchOne(ctx, src)
	if err != nil {
		appLog.Error("feed fetch failed", err, "id", src.ID)
		return feedOutcome{failure: failureFor(src, err)}
	}

	events, err := ics.ParseICS(src, fetched.Body)
	if err != nil {
		appLog.Error("feed parse failed", err, "id", src.ID)
		return feedOutcome{failure: failureFor(src, err)}
	}

	feed := Build(src.ID, events, now, now.AddDate(0, horizonMonths, 0))
	appLog.Debug("feed processed",
		"id", src.ID,
		"events", len(events),
		"assignments", len(feed.Assignments),
		"classes", len(feed.Classes),
		"from_cache", fetched.FromCache,
	)
	return feedOutcome{feed: feed}
}

func failureFor(src ics.Source, err error) *aggregate.Failure {
	stage := aggregate.StageFetch
	var perr *ics.ParseError
	if errors.As(err, &perr) {
		stage = aggregate.StageParse
	}
	return &aggregate.Failure{FeedID: src.ID, Stage: stage, Error: err.Error()}
}

// Build turns the parsed events of one feed into records. Sessions are
// expanded from now up to horizonEnd.
func Build(feedID string, events []ics.CalendarEvent, now, horizonEnd time.Time) aggregate.FeedResult {
	out := aggregate.FeedResult{FeedID: feedID}
	cls := classify.Classifier{Now: now}

	for _, ev := range events {
		switch cls.Classify(ev) {
		case classify.Assignment:
			out.Assignments = append(out.Assignments, assignmentFrom(feedID, ev))
		case classify.ClassSession:
			classes, sessions := classesFrom(feedID, ev, now, horizonEnd)
			out.Classes = append(out.Classes, classes...)
			out.Sessions = append(out.Sessions, sessions...)
		}
	}
	return out
}

func assignmentFrom(feedID string, ev ics.CalendarEvent) model.Assignment {
	code := coursecode.ForAssignment(ev.Location, ev.Title)
	return model.Assignment{
		ID:          recordID(feedID, ev.UID, ev.Start.UTC().Format(time.RFC3339)),
		Title:       ev.Title,
		DueDate:     ev.Start,
		CourseCode:  code.Code,
		CourseName:  code.Name,
		Description: ev.Description,
		ExternalURL: ev.URL,
		SourceFeed:  model.SourceICS,
	}
}

func classesFrom(feedID string, ev ics.CalendarEvent, now, horizonEnd time.Time) ([]model.ClassOccurrence, []model.Session) {
	code := coursecode.ForClass(ev.Location, ev.Title)
	newClass := func(start, end time.Time) model.ClassOccurrence {
		return model.ClassOccurrence{
			ID:           recordID(feedID, ev.UID, start.Weekday().String()),
			Title:        ev.Title,
			CourseCode:   code.Code,
			CourseName:   code.Name,
			DayOfWeek:    start.Weekday(),
			StartTime:    model.ClockOf(start),
			EndTime:      model.ClockOf(end),
			StartInstant: start,
			EndInstant:   end,
			Location:     ev.Location,
		}
	}
	newSession := func(start, end time.Time) model.Session {
		return model.Session{
			SourceID:   feedID,
			UID:        ev.UID,
			Title:      ev.Title,
			CourseCode: code.Code,
			Location:   ev.Location,
			Start:      start,
			End:        end,
		}
	}

	if ev.RecurrenceRule == "" {
		classes := []model.ClassOccurrence{newClass(ev.Start, ev.End)}
		var sessions []model.Session
		if !ev.End.Before(now) && ev.Start.Before(horizonEnd) {
			sessions = append(sessions, newSession(ev.Start, ev.End))
		}
		return classes, sessions
	}

	rule := ics.ParseRule(ev.RecurrenceRule, ev.Start, ev.End)
	rule.ExDates = ev.ExDates
	if rule.Expired(now) {
		appLog.Debug("class rule expired", "id", feedID, "uid", ev.UID, "until", rule.Until.Format(time.RFC3339))
		return nil, nil
	}

	var classes []model.ClassOccurrence
	for _, day := range rule.Days {
		start, end, ok := rule.Next(day, now)
		if !ok {
			continue
		}
		classes = append(classes, newClass(start, end))
	}

	var sessions []model.Session
	for _, occ := range rule.Occurrences(now, horizonEnd) {
		sessions = append(sessions, newSession(occ.Start, occ.End))
	}
	return classes, sessions
}

// recordID is stable across refreshes for the same feed record.
func recordID(parts ...string) string {
	var b []byte
	for i, p := range parts {
		if i > 0 {
			b = append(b, '|')
		}
		b = append(b, p...)
	}
	return uuid.NewSHA1(idSpace, b).String()
}

func courseCodes(r aggregate.Result) []string {
	seen := make(map[string]bool)
	var codes []string
	add := func(c string) {
		if !seen[c] {
			seen[c] = true
			codes = append(codes, c)
		}
	}
	for _, a := range r.Assignments {
		if a.IsMatchedToCatalog {
			add(a.MatchedCourseKey)
		} else {
			add(a.CourseCode)
		}
	}
	for _, c := range r.Classes {
		add(c.CourseCode)
	}
	return codes
}

package ics

import "fmt"

// FetchError reports a network failure, timeout or non-OK response for one
// feed. Callers may retry; the fetcher never does.
type FetchError struct {
	Source     Source
	StatusCode int // zero when no response was received
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: status %d: %v", e.Source.ID, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fetch %s: %v", e.Source.ID, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// ParseError reports a feed body that is not calendar text at all.
type ParseError struct {
	Source Source
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: %v", e.Source.ID, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

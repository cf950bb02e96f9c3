package ics

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	appLog "tmusync/internal/log"
)

func init() {
	appLog.SetOutput(io.Discard)
}

const sampleCalendar = "BEGIN:VCALENDAR\r\nVERSION:2.0\r\nEND:VCALENDAR\r\n"

func TestFetchOne(t *testing.T) {
	tests := []struct {
		name       string
		handler    http.HandlerFunc
		timeout    time.Duration
		wantBody   string
		wantStatus int
		wantErr    bool
	}{
		{
			name: "ok",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "text/calendar")
				_, _ = io.WriteString(w, sampleCalendar)
			},
			wantBody: sampleCalendar,
		},
		{
			name: "server error",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				http.Error(w, "boom", http.StatusInternalServerError)
			},
			wantErr:    true,
			wantStatus: http.StatusInternalServerError,
		},
		{
			name: "timeout",
			handler: func(w http.ResponseWriter, r *http.Request) {
				select {
				case <-r.Context().Done():
				case <-time.After(2 * time.Second):
				}
			},
			timeout: 50 * time.Millisecond,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			f := NewFetcher(srv.Client(), "", tt.timeout)
			res, err := f.FetchOne(context.Background(), Source{ID: "d2l", URL: srv.URL + "/feed.ics"})

			if tt.wantErr {
				var fe *FetchError
				if !errors.As(err, &fe) {
					t.Fatalf("expected *FetchError, got %v", err)
				}
				if diff := cmp.Diff(tt.wantStatus, fe.StatusCode); diff != "" {
					t.Errorf("status (-want +got):\n%s", diff)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if diff := cmp.Diff(tt.wantBody, string(res.Body)); diff != "" {
				t.Errorf("body (-want +got):\n%s", diff)
			}
		})
	}
}

func TestFetchOneEmptyURL(t *testing.T) {
	f := NewFetcher(nil, "", 0)
	_, err := f.FetchOne(context.Background(), Source{ID: "blank"})
	var fe *FetchError
	if !errors.As(err, &fe) {
		t.Fatalf("expected *FetchError, got %v", err)
	}
}

func TestFetchOneUsesCacheOnNotModified(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.Header.Get("If-None-Match") == `"v1"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		_, _ = io.WriteString(w, sampleCalendar)
	}))
	defer srv.Close()

	f := NewFetcher(srv.Client(), t.TempDir(), time.Second)
	src := Source{ID: "d2l", URL: srv.URL + "/feed.ics"}

	first, err := f.FetchOne(context.Background(), src)
	if err != nil {
		t.Fatalf("first fetch: %v", err)
	}
	if first.FromCache {
		t.Error("first fetch should not come from cache")
	}

	second, err := f.FetchOne(context.Background(), src)
	if err != nil {
		t.Fatalf("second fetch: %v", err)
	}
	if !second.FromCache {
		t.Error("second fetch should come from cache")
	}
	if diff := cmp.Diff(sampleCalendar, string(second.Body)); diff != "" {
		t.Errorf("cached body (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(int32(2), hits.Load()); diff != "" {
		t.Errorf("server hits (-want +got):\n%s", diff)
	}
}

func TestRedactURL(t *testing.T) {
	tests := map[string]string{
		"https://d2l.example.ca/d2l/le/calendar/feed/user/feed.ics?token=abc": "https://d2l.example.ca/...(redacted)",
		"not a url": "ics://...(redacted)",
	}
	for in, want := range tests {
		if diff := cmp.Diff(want, redactURL(in)); diff != "" {
			t.Errorf("redactURL(%q) (-want +got):\n%s", in, diff)
		}
	}
}

package log

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	SetLevel(LevelInfo)
	t.Cleanup(func() { SetLevel(LevelInfo) })

	Debug("hidden debug line")
	Info("ics fetch start", "id", "d2l", "event_count", 3)
	Error("ics parse failed", errors.New("boom"), "id", "d2l")

	out := buf.String()
	if strings.Contains(out, "hidden debug line") {
		t.Errorf("debug line emitted at info level:\n%s", out)
	}
	for _, want := range []string{"ics fetch start", "id=d2l", "event_count=3", "ics parse failed", "boom"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}

	buf.Reset()
	SetLevel(LevelDebug)
	Debug("visible debug line")
	if !strings.Contains(buf.String(), "visible debug line") {
		t.Errorf("debug line not emitted at debug level:\n%s", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]Level{
		"debug":   LevelDebug,
		" ERROR ": LevelError,
		"info":    LevelInfo,
		"verbose": LevelInfo,
		"":        LevelInfo,
	}
	for in, want := range tests {
		if diff := cmp.Diff(want, ParseLevel(in)); diff != "" {
			t.Errorf("ParseLevel(%q) (-want +got):\n%s", in, diff)
		}
	}
}

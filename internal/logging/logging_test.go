package logging

import (
	"bytes"
	"context"
	"log"
	"log/slog"
	"strings"
	"testing"
)

func TestTraditionalHandlerFormat(t *testing.T) {
	var buf bytes.Buffer
	h := &TraditionalHandler{logger: log.New(&buf, "", 0), level: slog.LevelInfo}
	logger := slog.New(h).With("job_id", "rectify-1")

	logger.Debug("hidden")
	logger.Info("frame written", "tag", "left")

	got := buf.String()
	if strings.Contains(got, "hidden") {
		t.Fatalf("debug line leaked: %q", got)
	}
	want := "[INFO] frame written [job_id=rectify-1 tag=left]\n"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestLogProgressEveryTen(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(&TraditionalHandler{logger: log.New(&buf, "", 0), level: slog.LevelInfo})
	for i := 1; i <= 23; i++ {
		LogProgress(logger, "j", "cam5", i, 23)
	}
	if n := strings.Count(buf.String(), "progress"); n != 3 {
		t.Fatalf("logged %d progress lines, want 3:\n%s", n, buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]slog.Level{"debug": slog.LevelDebug, "WARN": slog.LevelWarn, "error": slog.LevelError, "": slog.LevelInfo} {
		if got := parseLevel(in); got != want {
			t.Fatalf("parseLevel(%q) = %v", in, got)
		}
	}
	if (&TraditionalHandler{level: slog.LevelWarn}).Enabled(context.Background(), slog.LevelInfo) {
		t.Fatal("info enabled at warn level")
	}
}

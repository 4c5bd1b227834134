package logging

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestComponentTagsAndDisable(t *testing.T) {
	var buf bytes.Buffer
	SetLogger(slog.New(slog.NewTextHandler(&buf, nil)))

	log := Component("session")
	log.Info("opened")
	if !strings.Contains(buf.String(), "component=session") {
		t.Fatalf("expected component attr, got %q", buf.String())
	}

	buf.Reset()
	Disable()
	defer Enable()
	log.Info("suppressed")
	if buf.Len() != 0 {
		t.Fatalf("expected no output while disabled, got %q", buf.String())
	}

	Enable()
	log.Info("back")
	if !strings.Contains(buf.String(), "back") {
		t.Fatalf("expected output after Enable, got %q", buf.String())
	}
}

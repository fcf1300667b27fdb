package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"hospitalcore/internal/core"
	"hospitalcore/pkg/domain"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		if err := json.Unmarshal([]byte(line), &m); err != nil {
			t.Fatalf("decode %q: %v", line, err)
		}
		out = append(out, m)
	}
	return out
}

func TestNewRejectsBadSettings(t *testing.T) {
	if _, err := New("loud", "json", nil); err == nil {
		t.Fatalf("expected level error")
	}
	if _, err := New("info", "xml", nil); err == nil {
		t.Fatalf("expected format error")
	}
}

func TestAdapterWritesStructuredFields(t *testing.T) {
	var buf bytes.Buffer
	log, err := New("debug", "json", &buf)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	a := NewAdapter(log)
	a.Warn("remote write failed", "entity", domain.EntityLabOrder, "id", "lab-1", "version", uint64(3), "timeout", true, "error", errors.New("reset"), "duration", 1500*time.Millisecond)
	a.Debug("dangling", "orphan")

	lines := decodeLines(t, &buf)
	if len(lines) != 2 {
		t.Fatalf("expected two lines, got %d", len(lines))
	}
	first := lines[0]
	if first["level"] != "warn" || first["message"] != "remote write failed" {
		t.Fatalf("unexpected level/message %v", first)
	}
	if first["entity"] != "lab_order" || first["id"] != "lab-1" || first["version"] != float64(3) || first["timeout"] != true {
		t.Fatalf("unexpected fields %v", first)
	}
	if first["error"] != "reset" || first["duration"] != float64(1500) {
		t.Fatalf("unexpected error/duration %v", first)
	}
	if lines[1]["!BADKEY"] != "orphan" {
		t.Fatalf("odd argument should be kept: %v", lines[1])
	}
}

func TestLevelFilters(t *testing.T) {
	var buf bytes.Buffer
	log, err := New("warn", "", &buf)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	a := NewAdapter(log)
	a.Debug("hidden")
	a.Info("hidden")
	a.Error("shown")
	if lines := decodeLines(t, &buf); len(lines) != 1 || lines[0]["message"] != "shown" {
		t.Fatalf("unexpected output %v", lines)
	}
}

func TestConsoleFormat(t *testing.T) {
	var buf bytes.Buffer
	log, err := New("info", "console", &buf)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	NewAdapter(log).Info("service started", "driver", "sqlite")
	if out := buf.String(); !strings.Contains(out, "service started") || !strings.Contains(out, "driver=") {
		t.Fatalf("unexpected console output %q", out)
	}
}

func TestAuditRecorderWithService(t *testing.T) {
	var buf bytes.Buffer
	log, err := New("info", "json", &buf)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	svc := core.NewInMemoryService(nil, core.WithAuditRecorder(NewAuditRecorder(log)), core.WithLogger(NewAdapter(log)))
	ctx := context.Background()
	if _, err := svc.CreateUser(ctx, domain.User{Name: "dr.njeri", Role: domain.RoleDoctor}); err != nil {
		t.Fatalf("create user: %v", err)
	}
	_, _ = svc.CreateUser(ctx, domain.User{Name: "", Role: domain.RoleDoctor})

	var audits []map[string]any
	for _, line := range decodeLines(t, &buf) {
		if line["component"] == "audit" {
			audits = append(audits, line)
		}
	}
	if len(audits) != 2 {
		t.Fatalf("expected two audit lines, got %d", len(audits))
	}
	if audits[0]["operation"] != "create_user" || audits[0]["status"] != "success" || audits[0]["entity"] != "user" {
		t.Fatalf("unexpected audit line %v", audits[0])
	}
	if audits[1]["level"] != "warn" || !strings.Contains(audits[1]["error"].(string), "name") {
		t.Fatalf("failed operation should be a warning with its error: %v", audits[1])
	}
}

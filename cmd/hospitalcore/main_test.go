package main

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"hospitalcore/internal/core"
	"hospitalcore/internal/projection"
	"hospitalcore/pkg/domain"
)

func TestSeedPopulatesEveryQueue(t *testing.T) {
	svc := core.NewInMemoryService(nil)
	ctx := context.Background()
	now := time.Date(2026, time.March, 14, 8, 0, 0, 0, time.UTC)

	summary, err := seed(ctx, svc, now)
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	if summary.Skipped || len(summary.Users) != 8 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	view := svc.Store()
	doctor := summary.Users[string(domain.RoleDoctor)]
	if got := len(projection.DoctorToday(view, doctor, now)); got != 2 {
		t.Fatalf("expected 2 appointments today, got %d", got)
	}
	if got := len(projection.LabQueue(view)); got != 1 {
		t.Fatalf("expected 1 queued lab order, got %d", got)
	}
	if got := len(projection.PharmacyQueue(view)); got != 1 {
		t.Fatalf("expected 1 pending prescription, got %d", got)
	}
	if got := projection.SummarizeClaims(projection.ClaimsMatching(view, "", "")); got.Total != 1 || got.Pending != 1 {
		t.Fatalf("unexpected claims: %+v", got)
	}
	if got := len(projection.SurgeryQueue(view)); got != 1 {
		t.Fatalf("expected 1 open surgery, got %d", got)
	}

	again, err := seed(ctx, svc, now)
	if err != nil || !again.Skipped {
		t.Fatalf("second seed should be skipped: %+v, %v", again, err)
	}
}

func runCLI(t *testing.T, dir string, args ...string) (string, error) {
	t.Helper()
	t.Setenv("HOSPITALCORE_DURABLE_DRIVER", "sqlite")
	t.Setenv("HOSPITALCORE_SQLITE_PATH", filepath.Join(dir, "hospitalcore.db"))
	t.Setenv("HOSPITALCORE_LOG_LEVEL", "error")
	var out, errOut bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(append(args, "--env-file", filepath.Join(dir, "missing.env")))
	err := root.Execute()
	return out.String(), err
}

func TestCLISeedThenQueryClaims(t *testing.T) {
	dir := t.TempDir()
	if _, err := runCLI(t, dir, "seed"); err != nil {
		if strings.Contains(err.Error(), "open sqlite durable store") {
			t.Skipf("sqlite unavailable: %v", err)
		}
		t.Fatalf("seed: %v", err)
	}

	out, err := runCLI(t, dir, "claims", "--search", "amina")
	if err != nil {
		t.Fatalf("claims: %v", err)
	}
	var claims claimsOutput
	if err := json.Unmarshal([]byte(out), &claims); err != nil {
		t.Fatalf("decode claims output %q: %v", out, err)
	}
	if claims.Summary.Total != 1 || len(claims.Claims) != 1 || claims.Claims[0].PatientName != "Amina Hassan" {
		t.Fatalf("unexpected claims output: %+v", claims)
	}

	out, err = runCLI(t, dir, "claims", "--status", "approved")
	if err != nil {
		t.Fatalf("claims: %v", err)
	}
	if err := json.Unmarshal([]byte(out), &claims); err != nil {
		t.Fatalf("decode claims output: %v", err)
	}
	if claims.Summary.Total != 0 || len(claims.Claims) != 0 {
		t.Fatalf("no claim is approved: %+v", claims)
	}

	out, err = runCLI(t, dir, "seed")
	if err != nil || !strings.Contains(out, `"skipped": true`) {
		t.Fatalf("reseed should skip: %q, %v", out, err)
	}
}

func TestCLIOTReportRejectsBadDate(t *testing.T) {
	_, err := runCLI(t, t.TempDir(), "ot-report", "--from", "14/03/2026")
	if err == nil || !strings.Contains(err.Error(), "--from") {
		t.Fatalf("expected date error, got %v", err)
	}
}

func TestCLIUnknownDriver(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("HOSPITALCORE_DURABLE_DRIVER", "mongo")
	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"claims", "--env-file", filepath.Join(dir, "missing.env")})
	if err := root.Execute(); err == nil || !strings.Contains(err.Error(), "unknown durable driver") {
		t.Fatalf("expected config error, got %v", err)
	}
}

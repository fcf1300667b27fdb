package core

import (
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"golang.org/x/tools/go/packages"
)

// TestOnlyCoreImportsDurableBackends ensures that durable backends are reached
// through OpenDurableStore. Other packages depend on the DurableStore
// interface; the binary wires the backends through core.
func TestOnlyCoreImportsDurableBackends(t *testing.T) {
	durablePrefix := "hospitalcore/internal/infra/durable"
	allowed := []string{"hospitalcore/internal/core", durablePrefix}

	cfg := &packages.Config{Mode: packages.NeedName | packages.NeedImports, Tests: true}
	pkgs, err := packages.Load(cfg, "hospitalcore/...")
	if err != nil {
		t.Fatalf("load packages: %v", err)
	}

	seen := make(map[string]struct{})
	for _, pkg := range pkgs {
		if importHasPrefix(pkg.PkgPath, allowed...) {
			continue
		}
		for importPath := range pkg.Imports {
			if importHasPrefix(importPath, durablePrefix) {
				seen[filepath.Join(pkg.PkgPath, "...")+": "+importPath] = struct{}{}
			}
		}
	}
	reportViolations(t, seen, "durable backend")
}

// TestProjectionsUseNoInfra keeps read models off the storage layer:
// projections read through domain views and core helpers only.
func TestProjectionsUseNoInfra(t *testing.T) {
	cfg := &packages.Config{Mode: packages.NeedName | packages.NeedImports}
	pkgs, err := packages.Load(cfg, "hospitalcore/internal/projection")
	if err != nil {
		t.Fatalf("load packages: %v", err)
	}
	seen := make(map[string]struct{})
	for _, pkg := range pkgs {
		for importPath := range pkg.Imports {
			if importHasPrefix(importPath, "hospitalcore/internal/infra") {
				seen[pkg.PkgPath+": "+importPath] = struct{}{}
			}
		}
	}
	reportViolations(t, seen, "infra")
}

func reportViolations(t *testing.T, seen map[string]struct{}, what string) {
	t.Helper()
	if len(seen) == 0 {
		return
	}
	violations := make([]string, 0, len(seen))
	for v := range seen {
		violations = append(violations, v)
	}
	sort.Strings(violations)
	for _, v := range violations {
		t.Errorf("forbidden import of %s package: %s", what, v)
	}
	t.Fatalf("found %d forbidden imports of %s packages", len(violations), what)
}

func importHasPrefix(path string, prefixes ...string) bool {
	for _, p := range prefixes {
		if path == p || strings.HasPrefix(path, p+"/") {
			return true
		}
	}
	return false
}

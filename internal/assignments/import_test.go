package assignments

import (
	"context"
	"strings"
	"testing"
)

func TestImportCSVAssignsRows(t *testing.T) {
	repo := newStubRepo()
	svc, _, _ := newTestService(repo, stubRoles{known: map[string]bool{"r1": true, "r2": true}})

	csv := strings.Join([]string{
		"user_id,role_id,scope,scope_values,reason",
		"u1,r1,organization,,onboarding",
		"u2,r2,department,eng;ops,team lead",
		"u3,ghost,organization,,",
		"u4,r1",
	}, "\n")

	results, err := svc.ImportCSV(context.Background(), strings.NewReader(csv), "admin")
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if len(results) != 4 {
		t.Fatalf("expected 4 row results, got %d", len(results))
	}
	if !results[0].OK || !results[1].OK {
		t.Fatalf("valid rows failed: %+v", results[:2])
	}
	if results[2].OK || results[3].OK {
		t.Fatalf("invalid rows succeeded: %+v", results[2:])
	}
	if got := len(repo.created); got != 2 {
		t.Fatalf("expected 2 created assignments, got %d", got)
	}
	if vals := repo.created[1].ScopeValues; len(vals) != 2 || vals[0] != "eng" || vals[1] != "ops" {
		t.Fatalf("scope values not split: %+v", vals)
	}
}

func TestImportCSVNeverSetsDeadline(t *testing.T) {
	repo := newStubRepo()
	svc, _, _ := newTestService(repo, stubRoles{known: map[string]bool{"r1": true}})

	// A file with a trailing date column: the extra cell is ignored, never
	// parsed into a deadline.
	csv := "u1,r1,organization,,migrated,2020-01-01T00:00:00Z\n"
	results, err := svc.ImportCSV(context.Background(), strings.NewReader(csv), "admin")
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if len(results) != 1 || !results[0].OK {
		t.Fatalf("unexpected results: %+v", results)
	}
	if repo.created[0].ValidUntil != nil {
		t.Fatal("imported assignment must be open-ended")
	}
}

func TestImportCSVWithoutHeader(t *testing.T) {
	repo := newStubRepo()
	svc, _, _ := newTestService(repo, stubRoles{known: map[string]bool{"r1": true}})

	results, err := svc.ImportCSV(context.Background(), strings.NewReader("u1,r1,personal\n"), "admin")
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if len(results) != 1 || !results[0].OK {
		t.Fatalf("headerless file should import, got %+v", results)
	}
}

package rbac

import (
	"testing"
	"time"
)

func TestParsePermission(t *testing.T) {
	p, err := ParsePermission("documents:read")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if p.Scope != ScopeOrganization {
		t.Fatalf("omitted scope must default to organization, got %s", p.Scope)
	}

	p, err = ParsePermission("Tasks:Approve:Department")
	if err != nil {
		t.Fatalf("parse mixed case: %v", err)
	}
	if p.Resource != ResourceTasks || p.Action != ActionApprove || p.Scope != ScopeDepartment {
		t.Fatalf("unexpected permission: %+v", p)
	}

	for _, bad := range []string{"", "documents", "documents:fly", "ships:read", "a:b:c:d"} {
		if _, err := ParsePermission(bad); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}

func TestPermissionSetList(t *testing.T) {
	set := NewPermissionSet(
		Permission{ResourceTasks, ActionRead, ScopeOrganization},
		Permission{ResourceDocuments, ActionRead, ScopeOrganization},
		Permission{ResourceDocuments, ActionRead, ScopeOrganization},
	)
	list := set.List()
	if len(list) != 2 {
		t.Fatalf("duplicates must collapse, got %d", len(list))
	}
	if list[0].Resource != ResourceDocuments {
		t.Fatalf("list must be sorted, got %+v", list)
	}
}

func TestAssignmentEffectiveness(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	cases := []struct {
		name      string
		active    bool
		until     *time.Time
		effective bool
	}{
		{"active open-ended", true, nil, true},
		{"active not yet expired", true, &future, true},
		{"active but expired", true, &past, false},
		{"revoked open-ended", false, nil, false},
		{"revoked and expired", false, &past, false},
	}
	for _, tc := range cases {
		a := Assignment{IsActive: tc.active, ValidUntil: tc.until}
		if got := a.IsEffective(now); got != tc.effective {
			t.Errorf("%s: IsEffective=%v, want %v", tc.name, got, tc.effective)
		}
	}
}

func TestAssignmentMatchesScope(t *testing.T) {
	a := Assignment{Scope: ScopeDepartment, ScopeValues: []string{"eng", "ops"}}
	if !a.MatchesScope(ScopeDepartment, "eng") {
		t.Fatal("listed value must match")
	}
	if a.MatchesScope(ScopeDepartment, "sales") {
		t.Fatal("unlisted value must not match")
	}
	if a.MatchesScope(ScopeProject, "eng") {
		t.Fatal("different scope kind must not match")
	}

	unrestricted := Assignment{Scope: ScopeDepartment}
	if !unrestricted.MatchesScope(ScopeDepartment, "anything") {
		t.Fatal("empty scope values mean unrestricted within the scope kind")
	}
}

package domain

import "testing"

func TestRoleValid(t *testing.T) {
	t.Parallel()

	for _, role := range []Role{RoleSystem, RoleUser, RoleAssistant} {
		if !role.Valid() {
			t.Errorf("expected role %s to be valid", role)
		}
	}
	if Role("moderator").Valid() {
		t.Error("expected unknown role to be invalid")
	}
}

func TestNewTurnAssignsUniqueIDs(t *testing.T) {
	t.Parallel()

	a := NewTurn(RoleUser, "one")
	b := NewTurn(RoleUser, "two")
	if a.ID == "" || b.ID == "" {
		t.Fatal("expected non-empty IDs")
	}
	if a.ID == b.ID {
		t.Error("expected unique IDs per turn")
	}
	if a.CreatedAt.IsZero() {
		t.Error("expected creation time to be set")
	}
}

package domain

import (
	"testing"
	"time"

	apperrors "github.com/louisbranch/supplyflow/internal/platform/errors"
)

func TestNormalizePhone(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    string
		wantErr bool
	}{
		{name: "international", raw: "+998901234567", want: "+998901234567"},
		{name: "international with spaces", raw: "+998 90 123-45-67", want: "+998901234567"},
		{name: "without plus", raw: "998901234567", want: "+998901234567"},
		{name: "local with zero", raw: "012345678", want: "+998012345678"},
		{name: "too short", raw: "+99890123", wantErr: true},
		{name: "foreign", raw: "+79001234567", wantErr: true},
		{name: "empty", raw: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizePhone(tt.raw)
			if tt.wantErr {
				if !apperrors.IsKind(err, apperrors.KindValidation) {
					t.Fatalf("NormalizePhone(%q) error = %v, want validation error", tt.raw, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("NormalizePhone(%q) unexpected error: %v", tt.raw, err)
			}
			if got != tt.want {
				t.Fatalf("NormalizePhone(%q) = %q, want %q", tt.raw, got, tt.want)
			}
		})
	}
}

func TestParseRole(t *testing.T) {
	role, err := ParseRole(" Seller ")
	if err != nil {
		t.Fatalf("parse role: %v", err)
	}
	if role != RoleSeller {
		t.Fatalf("role = %q, want %q", role, RoleSeller)
	}
	if _, err := ParseRole("supervisor"); !apperrors.IsKind(err, apperrors.KindValidation) {
		t.Fatalf("ParseRole(supervisor) error = %v, want validation", err)
	}
	if RoleAdmin.SelfRegistrable() {
		t.Fatal("admin should not be self-registrable")
	}
	if !RoleSeller.AutoApproved() || RoleBuyer.AutoApproved() || RoleWarehouse.AutoApproved() {
		t.Fatal("only sellers and admins are auto-approved")
	}
}

func TestUserActive(t *testing.T) {
	rejectedAt := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		name  string
		user  User
		roles []Role
		want  bool
	}{
		{name: "approved buyer", user: User{Role: RoleBuyer, Approved: true}, roles: []Role{RoleBuyer}, want: true},
		{name: "any role", user: User{Role: RoleWarehouse, Approved: true}, want: true},
		{name: "wrong role", user: User{Role: RoleSeller, Approved: true}, roles: []Role{RoleBuyer}, want: false},
		{name: "pending", user: User{Role: RoleBuyer}, roles: []Role{RoleBuyer}, want: false},
		{name: "rejected", user: User{Role: RoleBuyer, Approved: true, RejectedAt: &rejectedAt}, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.user.Active(tt.roles...); got != tt.want {
				t.Fatalf("Active() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSameSite(t *testing.T) {
	if !SameSite("  Tower  A ", "tower a") {
		t.Fatal("expected case and space insensitive match")
	}
	if SameSite("", "") {
		t.Fatal("blank sites must not match")
	}
	if SameSite("Tower A", "Tower B") {
		t.Fatal("different sites must not match")
	}
}

package identity

import (
	"errors"
	"testing"

	"github.com/okynn/senderctl/internal/testutil/testlog"
)

func TestNewNormalizesNumber(t *testing.T) {
	testlog.Start(t)
	id, err := New("alice", "+62 812-3456-789")
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if id.Number != "628123456789" {
		t.Fatalf("unexpected number: %q", id.Number)
	}
	if id.Tenant != "alice" {
		t.Fatalf("unexpected tenant: %q", id.Tenant)
	}
}

func TestValidateNumberBoundaries(t *testing.T) {
	testlog.Start(t)
	cases := []struct {
		number string
		ok     bool
	}{
		{"62812345", true},
		{"628123456789012", true},
		{"6281234", false},
		{"6281234567890123", false},
		{"0628123456", false},
		{"62812x4567", false},
		{"", false},
	}
	for _, tc := range cases {
		err := ValidateNumber(tc.number)
		if tc.ok && err != nil {
			t.Fatalf("number %q: unexpected error %v", tc.number, err)
		}
		if !tc.ok && !errors.Is(err, ErrInvalidNumber) {
			t.Fatalf("number %q: expected ErrInvalidNumber, got %v", tc.number, err)
		}
	}
}

func TestValidateTenant(t *testing.T) {
	testlog.Start(t)
	for _, tenant := range []string{"alice", "staff:700123", "bob_2", "team.ops"} {
		if err := ValidateTenant(tenant); err != nil {
			t.Fatalf("tenant %q: unexpected error %v", tenant, err)
		}
	}
	for _, tenant := range []string{"", "staff:", "a/b", "bad tenant", "../alice"} {
		if err := ValidateTenant(tenant); !errors.Is(err, ErrInvalidTenant) {
			t.Fatalf("tenant %q: expected ErrInvalidTenant, got %v", tenant, err)
		}
	}
}

func TestIsStaff(t *testing.T) {
	testlog.Start(t)
	if !IsStaff("staff:700123") {
		t.Fatalf("expected staff namespace")
	}
	if IsStaff("alice") {
		t.Fatalf("expected regular tenant")
	}
}

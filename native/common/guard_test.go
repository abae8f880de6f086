package common

import (
	"errors"
	"testing"
)

func TestCallGuardRejectsReentry(t *testing.T) {
	guard := NewCallGuard()
	release, err := guard.Enter("escrow/refund")
	if err != nil {
		t.Fatalf("enter: %v", err)
	}
	if _, err := guard.Enter("escrow/refund"); !errors.Is(err, ErrReentrantCall) {
		t.Fatalf("expected ErrReentrantCall, got %v", err)
	}
	// A different scope is unaffected.
	otherRelease, err := guard.Enter("escrow/deposit")
	if err != nil {
		t.Fatalf("enter other scope: %v", err)
	}
	otherRelease()
	release()
	release() // double release is harmless
	if _, err := guard.Enter("escrow/refund"); err != nil {
		t.Fatalf("re-enter after release: %v", err)
	}
}

func TestAuthorityRequire(t *testing.T) {
	auth := NewAuthority()
	admin := [20]byte{0x01}
	stranger := [20]byte{0x02}
	auth.Grant(RoleAdmin, admin)
	if err := auth.Require(RoleAdmin, admin); err != nil {
		t.Fatalf("admin should pass: %v", err)
	}
	if err := auth.Require(RoleAdmin, stranger); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	auth.Revoke(RoleAdmin, admin)
	if err := auth.Require(RoleAdmin, admin); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("revoked admin should fail, got %v", err)
	}
}

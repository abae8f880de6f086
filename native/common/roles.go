package common

import (
	"errors"
	"sync"
)

// Role identifies a capability granted to an address.
type Role string

const (
	// RoleAdmin may flip administrative switches: refund enablement,
	// validator management, escrow sweeps.
	RoleAdmin Role = "admin"
	// RoleRouter identifies the investment routing surface allowed to call
	// into the offering engine on behalf of investors.
	RoleRouter Role = "router"
)

// ErrUnauthorized is returned when the caller lacks the required capability.
var ErrUnauthorized = errors.New("caller not authorized")

// Authority is an explicit capability object passed into each engine instead
// of implicit caller-identity checks sprinkled through methods. It owns the
// role grants and nothing else.
type Authority struct {
	mu     sync.RWMutex
	grants map[Role]map[[20]byte]struct{}
}

// NewAuthority constructs an empty authority.
func NewAuthority() *Authority {
	return &Authority{grants: make(map[Role]map[[20]byte]struct{})}
}

// Grant records the capability for the address.
func (a *Authority) Grant(role Role, addr [20]byte) {
	if a == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.grants == nil {
		a.grants = make(map[Role]map[[20]byte]struct{})
	}
	if _, ok := a.grants[role]; !ok {
		a.grants[role] = make(map[[20]byte]struct{})
	}
	a.grants[role][addr] = struct{}{}
}

// Revoke removes the capability from the address.
func (a *Authority) Revoke(role Role, addr [20]byte) {
	if a == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if holders, ok := a.grants[role]; ok {
		delete(holders, addr)
	}
}

// Allowed reports whether the address holds the capability.
func (a *Authority) Allowed(role Role, addr [20]byte) bool {
	if a == nil {
		return false
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	holders, ok := a.grants[role]
	if !ok {
		return false
	}
	_, ok = holders[addr]
	return ok
}

// Require returns ErrUnauthorized unless the address holds the capability.
func (a *Authority) Require(role Role, addr [20]byte) error {
	if a.Allowed(role, addr) {
		return nil
	}
	return ErrUnauthorized
}

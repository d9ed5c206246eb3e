// Package authz holds the authorization checks applied to every trade action:
// role matching against a trade's own parties, derived-account integrity,
// degenerate-input screening, call-chain guarding and capability tokens.
package authz

import (
	"fmt"

	coreerrors "localmoney/core/errors"
)

// Role identifies the capacity in which an actor submits an action.
type Role uint8

const (
	RoleNone Role = iota
	RoleBuyer
	RoleSeller
	RoleArbitrator
	RoleSystem
)

func (r Role) String() string {
	switch r {
	case RoleBuyer:
		return "buyer"
	case RoleSeller:
		return "seller"
	case RoleArbitrator:
		return "arbitrator"
	case RoleSystem:
		return "system"
	default:
		return "none"
	}
}

// Parties are the principals bound to a single trade plus the operator
// identity allowed to submit system actions.
type Parties struct {
	Buyer      [20]byte
	Seller     [20]byte
	Arbitrator [20]byte
	System     [20]byte
}

func (p Parties) address(role Role) ([20]byte, bool) {
	switch role {
	case RoleBuyer:
		return p.Buyer, true
	case RoleSeller:
		return p.Seller, true
	case RoleArbitrator:
		return p.Arbitrator, true
	case RoleSystem:
		return p.System, true
	default:
		return [20]byte{}, false
	}
}

// RequireRole returns the first of roles that actor holds on this trade. The
// zero address never matches.
func RequireRole(parties Parties, actor [20]byte, roles ...Role) (Role, error) {
	if actor == ([20]byte{}) {
		return RoleNone, fmt.Errorf("%w: empty actor", coreerrors.ErrUnauthorized)
	}
	for _, role := range roles {
		addr, ok := parties.address(role)
		if ok && addr == actor {
			return role, nil
		}
	}
	return RoleNone, fmt.Errorf("%w: actor %x holds none of %v", coreerrors.ErrUnauthorized, actor, roles)
}

// Distinct reports the pairwise-distinct party errors of a new trade.
func Distinct(buyer, seller, arbitrator [20]byte) error {
	if buyer == seller {
		return coreerrors.ErrSelfTradeNotAllowed
	}
	if arbitrator == buyer || arbitrator == seller {
		return coreerrors.ErrInvalidArbitratorAssign
	}
	return nil
}

package authz

import (
	"fmt"
	"sync"

	coreerrors "localmoney/core/errors"
)

// Protected resources may not be touched while a collaborator call is open.
const (
	ResourceSystem = "system"
	ResourceToken  = "token"
	ResourceRent   = "rent"
)

var defaultProtected = map[string]struct{}{
	ResourceSystem: {},
	ResourceToken:  {},
	ResourceRent:   {},
}

// CallGuard tracks the chain of open calls between services and rejects
// re-entry and protected-resource access from inside a chain.
type CallGuard struct {
	mu        sync.Mutex
	chain     []string
	protected map[string]struct{}
}

// NewCallGuard returns a guard protecting the system, token and rent resources
// plus any extra names supplied.
func NewCallGuard(extra ...string) *CallGuard {
	protected := make(map[string]struct{}, len(defaultProtected)+len(extra))
	for name := range defaultProtected {
		protected[name] = struct{}{}
	}
	for _, name := range extra {
		protected[name] = struct{}{}
	}
	return &CallGuard{protected: protected}
}

// Enter opens a call from caller into target. The returned function closes it.
func (g *CallGuard) Enter(caller, target string) (func(), error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if caller == target {
		return nil, fmt.Errorf("%w: %s calling itself", coreerrors.ErrReentrancyDetected, caller)
	}
	for _, open := range g.chain {
		if open == target {
			return nil, fmt.Errorf("%w: %s already on call chain", coreerrors.ErrReentrancyDetected, target)
		}
	}
	if len(g.chain) == 0 {
		g.chain = append(g.chain, caller)
	}
	g.chain = append(g.chain, target)
	depth := len(g.chain)
	return func() {
		g.mu.Lock()
		defer g.mu.Unlock()
		if len(g.chain) >= depth {
			g.chain = g.chain[:depth-1]
		}
		if len(g.chain) == 1 {
			g.chain = g.chain[:0]
		}
	}, nil
}

// Touch fails when resource is protected and a call chain is open.
func (g *CallGuard) Touch(resource string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.chain) == 0 {
		return nil
	}
	if _, ok := g.protected[resource]; ok {
		return fmt.Errorf("%w: %s touched inside call chain", coreerrors.ErrUnauthorizedCpiCall, resource)
	}
	return nil
}

// Depth reports the number of open calls.
func (g *CallGuard) Depth() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.chain) == 0 {
		return 0
	}
	return len(g.chain) - 1
}

package common

import (
	"fmt"

	coreerrors "localmoney/core/errors"
)

// PauseView reports whether an operator has paused a module.
type PauseView interface {
	IsPaused(module string) bool
}

// Guard rejects the call when the named module is paused.
func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return fmt.Errorf("%w: %s", coreerrors.ErrModulePaused, module)
	}
	return nil
}

package common

import "errors"

// ErrModulePaused is returned by Guard while the module's mutating
// operations are administratively disabled.
var ErrModulePaused = errors.New("module paused")

// PauseView reports the pause status per module name.
type PauseView interface {
	IsPaused(module string) bool
}

// Guard rejects the call when the named module is paused. A nil view means
// pausing is not configured and everything passes.
func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return ErrModulePaused
	}
	return nil
}

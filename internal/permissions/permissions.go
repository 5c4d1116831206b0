// Package permissions checks that the process may use the microphone and
// receive global hotkeys.
package permissions

import (
	"errors"
	"fmt"

	"github.com/petems/voxgate/internal/audio"
)

// Microphone authorization states as reported by macOS.
const (
	PermissionNotDetermined = 0
	PermissionRestricted    = 1
	PermissionDenied        = 2
	PermissionAuthorized    = 3
)

// ErrAccessibility means global hotkeys cannot be received.
var ErrAccessibility = errors.New("accessibility permission not granted; allow it in System Settings > Privacy & Security > Accessibility")

func accessibilityError(granted bool) error {
	if granted {
		return nil
	}
	return ErrAccessibility
}

// statusError maps an authorization state to an error wrapping
// audio.ErrDeviceUnavailable, or nil when access is granted.
func statusError(status int) error {
	switch status {
	case PermissionAuthorized:
		return nil
	case PermissionNotDetermined:
		return fmt.Errorf("%w: microphone permission not yet granted", audio.ErrDeviceUnavailable)
	case PermissionRestricted:
		return fmt.Errorf("%w: microphone access is restricted", audio.ErrDeviceUnavailable)
	case PermissionDenied:
		return fmt.Errorf("%w: microphone access denied; allow it in System Settings > Privacy & Security > Microphone", audio.ErrDeviceUnavailable)
	default:
		return fmt.Errorf("%w: unknown microphone permission state %d", audio.ErrDeviceUnavailable, status)
	}
}

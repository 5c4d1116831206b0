package permissions

import (
	"testing"

	"github.com/petems/voxgate/internal/audio"
	"github.com/stretchr/testify/assert"
)

func TestStatusError(t *testing.T) {
	assert.NoError(t, statusError(PermissionAuthorized))

	for _, s := range []int{PermissionNotDetermined, PermissionRestricted, PermissionDenied, 42} {
		assert.ErrorIs(t, statusError(s), audio.ErrDeviceUnavailable, "status %d", s)
	}
}

func TestAccessibilityError(t *testing.T) {
	assert.NoError(t, accessibilityError(true))
	assert.ErrorIs(t, accessibilityError(false), ErrAccessibility)
}

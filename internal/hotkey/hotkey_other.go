//go:build !darwin && !(linux && cgo)

package hotkey

// New reports ErrUnsupported where no backend exists.
func New() (Manager, error) {
	return nil, ErrUnsupported
}

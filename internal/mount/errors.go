package mount

import "fmt"

// Kind classifies mount failures for callers that branch on them.
type Kind int

const (
	// NotFound: the mount source does not exist.
	NotFound Kind = iota
	// MountFailed: the mount operation itself failed.
	MountFailed
	// Busy: the resource could not be detached even with forced, lazy
	// unmount semantics.
	Busy
)

func (k Kind) String() string {
	switch k {
	case NotFound:
		return "not found"
	case MountFailed:
		return "mount failed"
	case Busy:
		return "busy"
	default:
		return "unknown"
	}
}

// MountError describes a failed mount or unmount operation.
type MountError struct {
	Kind Kind
	Path string
	Err  error
}

func (e *MountError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("mount %s: %s", e.Path, e.Kind)
	}
	return fmt.Sprintf("mount %s: %s: %v", e.Path, e.Kind, e.Err)
}

func (e *MountError) Unwrap() error {
	return e.Err
}

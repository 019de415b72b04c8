package pipeline

import "fmt"

// UsageError marks operator mistakes (missing arguments, unknown stage
// names) as opposed to stage failures. The CLI prints usage help for
// these before exiting non-zero.
type UsageError struct {
	Msg string
}

func (e *UsageError) Error() string {
	return e.Msg
}

// Usagef constructs a UsageError.
func Usagef(format string, args ...any) error {
	return &UsageError{Msg: fmt.Sprintf(format, args...)}
}

package pairs

import (
	"errors"
	"fmt"
)

// ErrPairNotFound is returned by lookups that require a match.
var ErrPairNotFound = errors.New("pair not found")

// FetchError records a failed page fetch for a network.
type FetchError struct {
	Network string
	Cursor  string
	Err     error
}

func (e *FetchError) Error() string {
	if e.Cursor == "" {
		return fmt.Sprintf("fetch pairs for %s: %v", e.Network, e.Err)
	}
	return fmt.Sprintf("fetch pairs for %s after %s: %v", e.Network, e.Cursor, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

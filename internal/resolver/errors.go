package resolver

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound matches every resolution failure via errors.Is.
var ErrNotFound = errors.New("protocol not found")

// NotFoundError reports an unresolvable name together with the closest
// catalog entries, best first.
type NotFoundError struct {
	Query       string
	Suggestions []string
}

func (e *NotFoundError) Error() string {
	if len(e.Suggestions) == 0 {
		return fmt.Sprintf("protocol %q not found", e.Query)
	}
	return fmt.Sprintf("protocol %q not found; closest matches: %s", e.Query, strings.Join(e.Suggestions, ", "))
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// Suggestions extracts the hint list from a resolution error, if any.
func Suggestions(err error) []string {
	var nf *NotFoundError
	if errors.As(err, &nf) {
		return nf.Suggestions
	}
	return nil
}

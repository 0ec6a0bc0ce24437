// File: internal/terms/errors.go
package terms

import (
	"errors"
	"fmt"
)

// ErrDataSource marks a term provider that was unreachable or answered with
// something other than the expected payload. Callers may retry the whole fetch.
var ErrDataSource = errors.New("term data source error")

// SourceError describes a failed provider call.
type SourceError struct {
	Provider   string
	URL        string
	StatusCode int
	Err        error
}

func (e *SourceError) Error() string {
	switch {
	case e.Err != nil && e.StatusCode != 0:
		return fmt.Sprintf("%s provider: %s (status %d): %v", e.Provider, e.URL, e.StatusCode, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s provider: %s: %v", e.Provider, e.URL, e.Err)
	default:
		return fmt.Sprintf("%s provider: %s returned status %d", e.Provider, e.URL, e.StatusCode)
	}
}

func (e *SourceError) Unwrap() error { return e.Err }

// Is makes every SourceError match ErrDataSource.
func (e *SourceError) Is(target error) bool { return target == ErrDataSource }

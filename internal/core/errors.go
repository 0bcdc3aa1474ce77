package core

import (
	"errors"
	"fmt"
	"strings"
)

var ErrUnknownColumn = errors.New("unknown column")

// FetchError reports a transport failure or a non-2xx response from a source.
type FetchError struct {
	Source     string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Err != nil:
		return fmt.Sprintf("fetch %s: status %d: %v", e.Source, e.StatusCode, e.Err)
	case e.StatusCode != 0:
		return fmt.Sprintf("fetch %s: status %d", e.Source, e.StatusCode)
	default:
		return fmt.Sprintf("fetch %s: %v", e.Source, e.Err)
	}
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// SchemaError reports required columns that are absent from the whole payload.
type SchemaError struct {
	Missing []string
}

func (e *SchemaError) Error() string {
	return "schema: missing columns " + strings.Join(e.Missing, ", ")
}

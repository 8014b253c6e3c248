package sheet

import (
	"errors"
	"fmt"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported spreadsheet format")
	ErrEmptySheet        = errors.New("spreadsheet has no data rows")
	ErrUnreadable        = errors.New("spreadsheet could not be decoded")
	ErrTooLarge          = errors.New("spreadsheet exceeds size limit")
)

// ParseError reports why an uploaded file could not become a ParsedTable.
type ParseError struct {
	FileName string
	Kind     error
	Err      error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("parse %s: %v: %v", e.FileName, e.Kind, e.Err)
	}
	return fmt.Sprintf("parse %s: %v", e.FileName, e.Kind)
}

// Is matches the classification sentinel so callers can use errors.Is.
func (e *ParseError) Is(target error) bool {
	return target == e.Kind
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

func newParseError(fileName string, kind, cause error) *ParseError {
	return &ParseError{FileName: fileName, Kind: kind, Err: cause}
}

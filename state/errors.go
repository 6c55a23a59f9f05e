package state

import (
	"strings"

	"github.com/teranos/statesync/errors"
)

// ShapeError reports a state or update that violates the shape rules. The
// store is left unchanged when one is returned.
type ShapeError struct {
	// Path is the dotted path of the offending value, empty for the root
	Path   string
	Reason string
}

func (e *ShapeError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Path == "" {
		return "invalid state shape: " + e.Reason
	}
	return "invalid state shape at " + e.Path + ": " + e.Reason
}

// Unwrap lets errors.Is(err, errors.ErrShape) match any ShapeError
func (e *ShapeError) Unwrap() error {
	return errors.ErrShape
}

func shapeErrorAt(path []string, reason string) error {
	return &ShapeError{Path: strings.Join(path, "."), Reason: reason}
}

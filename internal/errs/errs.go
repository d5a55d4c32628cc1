// Copyright (c) 2024 Netskope, Inc. All rights reserved.

package errs

import (
	"errors"
	"fmt"
)

// Error kinds. Every failure that ends a run wraps exactly one of these.
var (
	ErrConfiguration  = errors.New("configuration error")
	ErrAuthentication = errors.New("authentication error")
	ErrRemoteLookup   = errors.New("remote lookup error")
	ErrIO             = errors.New("I/O error")
	ErrUnexpected     = errors.New("unexpected error")
)

var kinds = []error{ErrConfiguration, ErrAuthentication, ErrRemoteLookup, ErrIO, ErrUnexpected}

// Wrap tags err with kind. A nil err produces a kind error carrying only msg.
func Wrap(kind error, msg string, err error) error {
	if err == nil {
		return fmt.Errorf("%w: %s", kind, msg)
	}
	return fmt.Errorf("%w: %s: %w", kind, msg, err)
}

// New returns a kind error with a formatted message.
func New(kind error, format string, args ...any) error {
	return fmt.Errorf("%w: %s", kind, fmt.Sprintf(format, args...))
}

// KindOf returns the first kind err wraps, or ErrUnexpected.
func KindOf(err error) error {
	for _, k := range kinds {
		if errors.Is(err, k) {
			return k
		}
	}
	return ErrUnexpected
}

package storage

import "errors"

var (
	ErrNotFound    = errors.New("storage: not found")
	ErrInvalidName = errors.New("storage: invalid object name")
	ErrCIDMismatch = errors.New("storage: cid mismatch")
	ErrImmutable   = errors.New("storage: immutable object mismatch")
)

func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

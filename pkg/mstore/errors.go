package mstore

import "errors"

// ErrNotFound is returned when an object does not exist in the store.
var ErrNotFound = errors.New("mstore: object not found")

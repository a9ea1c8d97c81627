package repository

import "errors"

// ErrNotFound indicates the session slot holds no record.
var ErrNotFound = errors.New("repository: not found")

// ErrCorrupt indicates a stored record could not be decoded.
var ErrCorrupt = errors.New("repository: corrupt record")

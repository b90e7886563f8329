package entities

import "errors"

// ErrNotFound is returned by repositories when no row matches.
var ErrNotFound = errors.New("not found")

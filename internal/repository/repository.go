package repository

import "errors"

// ErrStaleOrder reports that a guarded ordering update matched no row,
// meaning another request reordered the course's lessons concurrently.
var ErrStaleOrder = errors.New("lesson order changed concurrently")

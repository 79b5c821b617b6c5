package aggregate

import "errors"

// ErrInvalidShares indicates a share map with an empty key or a
// non-finite or negative weight.
var ErrInvalidShares = errors.New("invalid shares")

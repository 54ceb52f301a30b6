package repository

import "errors"

// ErrRateLimited is matched (errors.Is) by upstream errors caused by a 429
// or an active local backoff.
var ErrRateLimited = errors.New("upstream rate limited")

// Package upstream holds the shared pieces of the hospital service
// clients. Each clinical system (pharmacy, laboratory, admissions) gets
// its own sub-package; callers treat ErrUnavailable as a signal to
// degrade gracefully rather than fail the whole request.
package upstream

import "errors"

// ErrUnavailable indicates the upstream system could not be reached or
// answered with a server error. Billing keeps working without the
// source and reports a warning instead.
var ErrUnavailable = errors.New("upstream service unavailable")

// Package errs defines the sentinel error taxonomy shared by every
// component so callers can branch with errors.Is instead of string
// matching.
package errs

import "errors"

var (
	// ErrUnsupportedSymbol is returned when a symbol is not in the
	// exchange's tradable catalog or fails normalization.
	ErrUnsupportedSymbol = errors.New("unsupported symbol")

	// ErrRateLimited is returned when a REST call was throttled by the
	// local rate budget or rejected by the exchange with a 429.
	ErrRateLimited = errors.New("rate limited")

	// ErrStateConflict is returned when a transactional state mutation
	// (position open/close, breaker trigger) observed a precondition
	// that no longer holds.
	ErrStateConflict = errors.New("state conflict")

	// ErrReconciliationRequired is returned when an order's terminal
	// state could not be established automatically (timeout racing a
	// fill) and a human or a reconciliation job must resolve it.
	ErrReconciliationRequired = errors.New("reconciliation required")

	// ErrFatalConfig is returned when configuration is missing or
	// invalid in a way the process cannot safely run without.
	ErrFatalConfig = errors.New("fatal configuration error")

	// ErrStale is returned when a read would serve data past its
	// staleness threshold.
	ErrStale = errors.New("data stale")

	// ErrBreakerTripped is returned when an operation is blocked by an
	// active circuit breaker.
	ErrBreakerTripped = errors.New("circuit breaker tripped")

	// ErrNotFound is returned by store lookups that find no row.
	ErrNotFound = errors.New("not found")

	// ErrCredentialsMissing is returned when a live trading operation is
	// attempted without API credentials configured.
	ErrCredentialsMissing = errors.New("exchange credentials missing")

	// ErrExchangeError is returned when the exchange itself reports a
	// non-transient error for a private API call.
	ErrExchangeError = errors.New("exchange error")
)

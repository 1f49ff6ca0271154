// Scoped error handling for ADI-touching code paths
// https://github.com/kestrel-debug/kestrel
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package kresult replaces the setjmp/longjmp "exception" facility described
// in spec.md's Design Notes (§9, "Non-local error returns") with a plain
// Go result type threaded through every ADI path. Nothing here unwinds the
// stack; WithDP is a scoped helper that guarantees the sticky DP error
// is cleared on every exit, success or failure, the way the original
// exception facility guaranteed it on every catch.
package kresult

// ErrorClearer is satisfied by anything that can report and clear a sticky
// protocol fault (adi.DP implements it). Kept as a narrow interface here so
// this package never imports adi, avoiding an import cycle.
type ErrorClearer interface {
	// StickyError returns the current sticky fault state without
	// modifying it.
	StickyError() error
	// ClearStickyError writes ABORT (or equivalent) to clear the sticky
	// fault bit(s).
	ClearStickyError() error
}

// WithDP runs fn, then unconditionally clears any sticky error the DP
// accumulated during fn, the way the original exception facility cleared
// sticky bits on every catch (spec.md §5, "The sticky DP error must be
// cleared on catch"). The returned error is fn's error if it returned one,
// otherwise any error encountered while clearing the sticky bit.
func WithDP(dp ErrorClearer, fn func() error) error {
	err := fn()
	if clearErr := dp.ClearStickyError(); clearErr != nil && err == nil {
		err = clearErr
	}
	return err
}

// Try runs fn and returns its error. It exists so call sites read the same
// whether or not they need try/with semantics, matching the source's use of
// a uniform exception-catching idiom at every ADI call site.
func Try(fn func() error) error {
	return fn()
}

// Retry calls fn up to attempts times, stopping as soon as fn returns a nil
// error or an error that shouldRetry reports false for. It is used for the
// WAIT-ACK retry loop (spec.md §4.2: "A WAIT ACK causes up to a bounded
// number of retries (>= 100) with a brief quiesce").
func Retry(attempts int, shouldRetry func(error) bool, fn func() (bool, error)) (bool, error) {
	var err error
	var ok bool
	for i := 0; i < attempts; i++ {
		ok, err = fn()
		if err == nil {
			return ok, nil
		}
		if !shouldRetry(err) {
			return ok, err
		}
	}
	return ok, err
}

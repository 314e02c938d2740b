// Package xbuild carries the small set of build-time switches the rest of
// the module relies on: whether this is a debug build (in which internal
// consistency violations panic loudly) and the human-readable release name
// used in log banners.
package xbuild

import "fmt"

// Release identifies the kind of build. This module has a single
// "standard" release; there is no "testing" or "dev" variant.
const Release = "standard"

// Critical should be called when the module has encountered an
// unrecoverable inconsistency: a violated invariant that, if ignored,
// would silently corrupt wallet state. In a DEBUG build it panics so the
// failure surfaces immediately in tests; in a standard build it returns a
// formatted error-ish string for the caller to log, since a wallet should
// never crash a user's node over a bug it can still report.
func Critical(v ...interface{}) string {
	s := fmt.Sprint(v...)
	if DEBUG {
		panic("Critical: " + s)
	}
	return s
}

// Severe behaves like Critical but is used for violations that are bugs
// but not immediately corrupting (e.g. a defensive check that "should
// never" trigger). It only panics in DEBUG builds.
func Severe(v ...interface{}) string {
	s := fmt.Sprint(v...)
	if DEBUG {
		panic("Severe: " + s)
	}
	return s
}

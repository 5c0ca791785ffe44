// Package monitoring carries the diagnostic logger used by the simulation
// core. Library packages log through Logf so commands and tests can redirect
// or silence them.
package monitoring

import "log"

// Logf defaults to log.Printf.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces Logf. Passing nil installs a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

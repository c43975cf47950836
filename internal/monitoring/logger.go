// Package monitoring provides the module's diagnostic logging hook.
package monitoring

import "log"

// Logf is the package-level diagnostic logger for filter runs. It
// defaults to log.Printf but may be replaced by SetLogger. Tests or
// embedding programs can redirect or mute it.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. Passing nil will set a no-op
// logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// Component returns a logger that prefixes every line with the component
// name in brackets, e.g. "[RunStore] opened runs.db".
func Component(name string) func(format string, v ...interface{}) {
	prefix := "[" + name + "] "
	return func(format string, v ...interface{}) {
		Logf(prefix+format, v...)
	}
}

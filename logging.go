package fiberscript

import "github.com/sirupsen/logrus"

// log is the package-level diagnostic logger. The core never logs at
// Info level or above on its own behalf; a host that wants visibility
// into collections, call dispatch or task suspension turns on Debug
// or Trace and optionally swaps the logger via SetLogger.
var log = logrus.WithField("component", "fiberscript")

// SetLogger lets an embedding host route the engine's diagnostic
// output into its own logging pipeline.
func SetLogger(entry *logrus.Entry) {
	if entry == nil {
		return
	}
	log = entry
}

// LogInfo and LogDebug render a script-supplied argument list as a
// single logrus message, for a host library's "log" directive bridge.
func LogInfo(args []Value)  { log.Info(debugJoin(args)) }
func LogDebug(args []Value) { log.Debug(debugJoin(args)) }

func debugJoin(args []Value) string {
	out := ""
	for i, a := range args {
		if i > 0 {
			out += " "
		}
		if s, ok := a.AsGoString(); ok {
			out += s
		} else {
			out += a.Debug()
		}
	}
	return out
}

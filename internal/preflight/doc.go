// Package preflight cleans up before a formatting run starts. Crashed
// or abandoned runs can leave formatting server processes and lock
// files behind; left alone they pile up and eventually starve the
// machine. Preflight enumerates other instances of the server, ages
// them against a staleness threshold, and acts according to a
// configured policy, from report-only up to terminating everything the
// current user owns.
//
// Preflight only ever acts on processes it enumerated itself during
// the current invocation. It never touches a PID it learned about any
// other way, so it cannot race a concurrent run that started after
// enumeration.
package preflight

// Package memorystore provides the in-memory sessions.Store used for
// single-process deployments. Records live only as long as the process and
// are removed by an idle-expiry sweep when not accessed within the
// configured window.
package memorystore

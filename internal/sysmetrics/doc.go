// Package sysmetrics samples host and per-daemon OS metrics.
//
// Ownership boundary:
// - per-process cpu, memory and io counters
// - per-device disk io counters and mount point lookup
// - host cpu, memory and load summary
// - daemon process discovery by name
package sysmetrics

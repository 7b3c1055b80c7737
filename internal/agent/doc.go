// Package agent collects ceph perf counters on one node and ships them to a
// collector.
//
// Ownership boundary:
// - report assembly (perf dump/schema, counter selection, os metrics)
// - one-shot and interval (daemon) collection
// - the daemon control listener (verified agent.stop / agent.collect)
package agent

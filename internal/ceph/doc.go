// Package ceph wraps the ceph command line for perf counter collection and
// cluster host discovery.
//
// Ownership boundary:
// - admin socket discovery and perf dump/schema retrieval
// - counter selection
// - osd/mon/mds host discovery
// - per-daemon config, pid and data path lookups
package ceph

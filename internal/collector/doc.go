// Package collector drives one collection run across cluster hosts.
//
// Ownership boundary:
// - target host resolution (static list and ceph role discovery)
// - agent deploy, launch and verified stop fan-out over remote runners
// - report intake from the receive loop and result assembly
package collector

// Package tools provides local command execution shared by the cluster
// client and the agent.
//
// Ownership boundary:
// - command execution helpers (stdout, stderr, exit code)
package tools

// Package remote runs commands and copies files on cluster hosts.
//
// Ownership boundary:
// - local and ssh command execution with shell-escaped argument joining
// - file upload to remote hosts
// - detached (background) launches
package remote

// Package app holds the process-wide runtime pieces shared by the daemon and
// the CLI: the lifecycle notification hub and the default logger.
package app

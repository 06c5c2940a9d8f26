//go:build windows

package scheduler

import "os"

// On Windows FindProcess opens a handle and fails for unknown pids.
func processAlive(pid int) bool {
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	_ = p.Release()
	return true
}

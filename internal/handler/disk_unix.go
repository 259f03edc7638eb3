//go:build linux || darwin

package handler

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// DiskUsagePercent returns the used share of the filesystem containing path,
// computed the way df does: used / (used + available to unprivileged users).
func DiskUsagePercent(path string) (float64, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return 0, fmt.Errorf("statfs %s: %w", path, err)
	}

	bsize := uint64(st.Bsize)
	used := (st.Blocks - st.Bfree) * bsize
	avail := st.Bavail * bsize
	if used+avail == 0 {
		return 0, nil
	}
	return float64(used) / float64(used+avail) * 100, nil
}

//go:build !linux && !darwin

package handler

import "errors"

// DiskUsagePercent is not supported on this platform.
func DiskUsagePercent(string) (float64, error) {
	return 0, errors.New("disk usage is not supported on this platform")
}

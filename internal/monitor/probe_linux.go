//go:build linux

package monitor

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// hostStats reads memory usage and the one-minute load average.
func hostStats() (map[string]float64, error) {
	var si unix.Sysinfo_t
	if err := unix.Sysinfo(&si); err != nil {
		return nil, fmt.Errorf("sysinfo: %w", err)
	}
	unit := uint64(si.Unit)
	if unit == 0 {
		unit = 1
	}
	total := uint64(si.Totalram) * unit
	free := (uint64(si.Freeram) + uint64(si.Bufferram)) * unit

	out := map[string]float64{
		// Loads are fixed-point with 16 fractional bits.
		"load_1m": float64(si.Loads[0]) / 65536,
	}
	if total > 0 {
		out["memory_usage_percent"] = float64(total-free) / float64(total) * 100
	}
	return out, nil
}

//go:build linux

package sysinfo

import (
	"github.com/prometheus/procfs"
	"golang.org/x/sys/unix"
)

// memoryInfo returns the resident size of this process and the total RAM.
func memoryInfo() (used, total uint64, ok bool) {
	proc, err := procfs.Self()
	if err != nil {
		return 0, 0, false
	}
	stat, err := proc.Stat()
	if err != nil {
		return 0, 0, false
	}

	var si unix.Sysinfo_t
	if err := unix.Sysinfo(&si); err == nil {
		total = uint64(si.Totalram) * uint64(si.Unit)
	}
	return uint64(stat.ResidentMemory()), total, true
}

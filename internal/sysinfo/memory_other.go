//go:build !linux

package sysinfo

import "runtime"

// memoryInfo falls back to the Go heap figures; total RAM is unknown.
func memoryInfo() (used, total uint64, ok bool) {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return ms.Sys, 0, true
}

// Copyright (C) 2025 whisp-net
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.

// SPDX-License-Identifier: LGPL-3.0-or-later

package health

import (
	"fmt"
	"runtime"
	"syscall"
)

const (
	// Thresholds for system resource health, shared by CheckSystem and
	// SystemHealthCheck.
	MemoryThresholdHealthy  = 70.0 // percent
	MemoryThresholdDegraded = 85.0
	DiskThresholdHealthy    = 70.0
	DiskThresholdDegraded   = 85.0
)

// CheckSystem samples process memory, goroutine count, and disk usage of
// the current working directory.
func CheckSystem() *SystemResources {
	resources := &SystemResources{Status: StatusHealthy}

	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	resources.MemoryUsedMB = m.Alloc / 1024 / 1024
	resources.MemoryTotalMB = m.Sys / 1024 / 1024
	if resources.MemoryTotalMB > 0 {
		resources.MemoryPercent = float64(resources.MemoryUsedMB) / float64(resources.MemoryTotalMB) * 100
	}

	resources.GoRoutines = runtime.NumGoroutine()

	var stat syscall.Statfs_t
	if err := syscall.Statfs(".", &stat); err == nil {
		totalBytes := stat.Blocks * uint64(stat.Bsize)
		freeBytes := stat.Bfree * uint64(stat.Bsize)
		usedBytes := totalBytes - freeBytes

		resources.DiskTotalGB = totalBytes / 1024 / 1024 / 1024
		resources.DiskUsedGB = usedBytes / 1024 / 1024 / 1024
		if resources.DiskTotalGB > 0 {
			resources.DiskPercent = float64(resources.DiskUsedGB) / float64(resources.DiskTotalGB) * 100
		}
	} else {
		resources.Error = fmt.Sprintf("failed to get disk stats: %v", err)
	}

	switch {
	case resources.MemoryPercent >= MemoryThresholdDegraded || resources.DiskPercent >= DiskThresholdDegraded:
		resources.Status = StatusUnhealthy
	case resources.MemoryPercent >= MemoryThresholdHealthy || resources.DiskPercent >= DiskThresholdHealthy:
		resources.Status = StatusDegraded
	}

	return resources
}

// Package sysinfo samples the local hardware characteristics consumed by
// the shard router's capacity heuristic.
package sysinfo

import (
	"context"
	"runtime"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// StorageClass is a coarse classification of the backing storage for a data
// directory, used as a multiplier in the shard-count heuristic.
type StorageClass int

const (
	StorageUnknown StorageClass = iota
	StorageHDD
	StorageSSD
	StorageNVMe
)

// Snapshot holds the inputs to the shard-count heuristic.
type Snapshot struct {
	PhysicalCores int
	LogicalCores  int
	MemGiB        float64
	Storage       StorageClass
}

// Sample reads the current machine's CPU and memory characteristics.
// Storage classification is left to the caller (DetectStorageClass), since
// it depends on the data directory path, not the whole machine.
func Sample(ctx context.Context) Snapshot {
	s := Snapshot{
		LogicalCores: runtime.NumCPU(),
	}

	if counts, err := cpu.CountsWithContext(ctx, false); err == nil && counts > 0 {
		s.PhysicalCores = counts
	} else {
		s.PhysicalCores = s.LogicalCores
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		s.MemGiB = float64(vm.Total) / (1 << 30)
	}

	return s
}

// DetectStorageClass reports the storage class backing dir. gopsutil does
// not expose a portable "is this NVMe" signal, so it always returns
// StorageUnknown, which the heuristic treats the same as a hybrid/unknown
// disk (multiplier 1.0). No configuration setting overrides it.
func DetectStorageClass(dir string) StorageClass {
	return StorageUnknown
}

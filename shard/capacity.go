package shard

import (
	"context"
	"math"
	"os"
	"path/filepath"

	"github.com/d1424da/gofilesearch/internal/sysinfo"
)

// clamp restricts v to [lo, hi].
func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// ComputeShardCount is the capacity heuristic used the first time a data
// directory is initialized. N is then frozen for the directory's lifetime
// (see LoadRouter).
func ComputeShardCount(ctx context.Context, dataDir string) int {
	snap := sysinfo.Sample(ctx)
	storage := sysinfo.DetectStorageClass(dataDir)
	return computeShardCount(snap, storage, existingDataSizeMul(dataDir))
}

func computeShardCount(snap sysinfo.Snapshot, storage sysinfo.StorageClass, sizeMul float64) int {
	c := snap.PhysicalCores
	l := float64(snap.LogicalCores)
	m := snap.MemGiB

	var base float64
	switch {
	case c >= 20:
		base = math.Min(l, 48)
	case c >= 16:
		base = math.Min(l, 40)
	case c >= 12:
		base = math.Min(l, 32)
	case c >= 8:
		base = math.Min(0.8*l, 24)
	case c >= 6:
		base = math.Min(0.75*l, 16)
	case c >= 4:
		base = math.Min(0.6*l, 12)
	default:
		base = math.Max(2, float64(c))
	}

	var memMul float64
	switch {
	case m >= 128:
		memMul = 2.2
	case m >= 64:
		memMul = 2.0
	case m >= 32:
		memMul = 1.7
	case m >= 16:
		memMul = 1.4
	case m >= 8:
		memMul = 1.0
	case m >= 4:
		memMul = 0.8
	default:
		memMul = 0.6
	}

	var storageMul float64
	switch storage {
	case sysinfo.StorageNVMe:
		storageMul = 1.4
	case sysinfo.StorageSSD:
		storageMul = 1.2
	case sysinfo.StorageHDD:
		storageMul = 0.7
	default:
		storageMul = 1.0
	}

	if sizeMul < 1.0 {
		sizeMul = 1.0
	}
	if sizeMul > 2.0 {
		sizeMul = 2.0
	}

	n := int(math.Round(base * memMul * storageMul * sizeMul))
	return clamp(n, 2, 64)
}

// existingDataSizeMul grows with however much shard data already exists on
// disk, within [1.0, 2.0], so that a data directory that has accumulated a
// lot of content (but is being re-initialized from scratch, e.g. after its
// shard_count marker was removed) tends toward a larger N. A brand-new directory has no
// shards yet and returns the floor, 1.0.
func existingDataSizeMul(dataDir string) float64 {
	storageDir := filepath.Join(dataDir, "data_storage")
	entries, err := os.ReadDir(storageDir)
	if err != nil {
		return 1.0
	}

	var total int64
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if info, err := e.Info(); err == nil {
			total += info.Size()
		}
	}

	const gib = 1 << 30
	mul := 1.0 + float64(total)/(8*gib) // +1.0 every ~8 GiB of existing shard data
	if mul > 2.0 {
		mul = 2.0
	}
	return mul
}

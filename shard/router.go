package shard

import (
	"context"
	"crypto/md5"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// shardCountFile records the N chosen at first initialization of a data
// directory, so that restarts route the same path to the same shard even
// if the heuristic's machine-dependent inputs later change: once chosen
// and populated, N is invariant for the lifetime of the data directory.
const shardCountFile = "shard_count"

// Router maps a file path to one of N shard indices via a stable hash.
// It is a pure function of (path, N); N itself is resolved once per data
// directory and never changes afterward.
type Router struct {
	n int
}

// LoadRouter resolves N for dataDir: if a shard_count marker already exists,
// it is read and trusted; otherwise N is computed by the capacity heuristic
// and persisted so future runs agree.
func LoadRouter(ctx context.Context, dataDir string) (*Router, error) {
	markerPath := filepath.Join(dataDir, shardCountFile)

	if data, err := os.ReadFile(markerPath); err == nil {
		n, perr := strconv.Atoi(strings.TrimSpace(string(data)))
		if perr != nil || n < 2 || n > 64 {
			return nil, errors.Errorf("corrupt shard count marker %q: %q", markerPath, data)
		}
		return &Router{n: n}, nil
	} else if !os.IsNotExist(err) {
		return nil, errors.Wrap(err, "reading shard count marker")
	}

	n := ComputeShardCount(ctx, dataDir)
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, errors.Wrap(err, "creating data directory")
	}
	if err := os.WriteFile(markerPath, []byte(strconv.Itoa(n)), 0o644); err != nil {
		return nil, errors.Wrap(err, "persisting shard count marker")
	}
	return &Router{n: n}, nil
}

// NewRouter builds a Router for an already-known shard count, e.g. for
// tests or tools that need to address a shard without touching disk.
func NewRouter(n int) *Router {
	return &Router{n: n}
}

// N returns the (fixed) number of shards.
func (r *Router) N() int { return r.n }

// Index returns the shard index for path: MD5(path) mod N, matching the
// existing data layout.
func (r *Router) Index(path string) int {
	sum := md5.Sum([]byte(path))
	// The whole 128-bit digest, read as a big-endian integer, is reduced
	// mod N.
	v := new(big.Int).SetBytes(sum[:])
	return int(v.Mod(v, big.NewInt(int64(r.n))).Int64())
}

// ShardFileName returns the on-disk file name for shard i.
func ShardFileName(i int) string {
	return fmt.Sprintf("complete_search_db_%d.db", i)
}

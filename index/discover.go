package index

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/d1424da/gofilesearch/extract"
)

// fileEntry is one discovered file, classified and ready for the
// category-scheduled extraction phase.
type fileEntry struct {
	Path     string
	Info     os.FileInfo
	Category Category
	NameOnly bool // size >= extract.NameOnlyThreshold
}

// skipNames are exact base names skipped unconditionally.
var skipNames = map[string]bool{
	".DS_Store":   true,
	"Thumbs.db":   true,
	"desktop.ini": true,
}

func shouldSkipPath(path string) bool {
	base := filepath.Base(path)
	if skipNames[base] {
		return true
	}
	if strings.HasPrefix(base, "._") {
		return true // macOS AppleDouble
	}
	for _, part := range strings.Split(filepath.ToSlash(path), "/") {
		if strings.HasPrefix(part, ".") && part != "." && part != ".." {
			return true // any path containing a dot-prefixed directory
		}
	}
	return false
}

// discover walks root and emits every accepted, non-skipped file,
// classified by size, streaming entries to the caller as they are found so
// the quick-start phase can begin before the walk completes. Files directly
// under root are handled first; then each top-level subdirectory is walked
// concurrently, at most ParallelWalkThreshold walks at a time.
func discover(ctx context.Context, root string, cfg Config, emit func(fileEntry)) error {
	topDirs, topFiles, err := immediateChildren(root)
	if err != nil {
		return err
	}

	var mu sync.Mutex
	collect := func(path string, info os.FileInfo) {
		if info.IsDir() || shouldSkipPath(path) {
			return
		}
		ext := strings.ToLower(filepath.Ext(path))
		if _, ok := cfg.Extensions[ext]; !ok {
			return
		}
		fe := classifyEntry(path, info)
		mu.Lock()
		emit(fe)
		mu.Unlock()
	}

	for _, f := range topFiles {
		if info, err := f.Info(); err == nil {
			collect(filepath.Join(root, f.Name()), info)
		}
	}

	if len(topDirs) == 0 {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	sem := make(chan struct{}, minInt(len(topDirs), maxInt(cfg.ParallelWalkThreshold, 1)))
	for _, d := range topDirs {
		dir := filepath.Join(root, d.Name())
		g.Go(func() error {
			sem <- struct{}{}
			defer func() { <-sem }()
			return walkSubtree(gctx, dir, collect)
		})
	}
	return g.Wait()
}

func walkSubtree(ctx context.Context, dir string, collect func(string, os.FileInfo)) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if ctx.Err() != nil {
			return filepath.SkipAll
		}
		if err != nil {
			return nil // a single unreadable entry doesn't abort the walk
		}
		if d.IsDir() {
			if shouldSkipPath(path) && path != dir {
				return filepath.SkipDir
			}
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		collect(path, info)
		return nil
	})
}

func immediateChildren(root string) (dirs, files []os.DirEntry, err error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, nil, err
	}
	for _, e := range entries {
		if e.IsDir() {
			if !shouldSkipPath(e.Name()) {
				dirs = append(dirs, e)
			}
		} else {
			files = append(files, e)
		}
	}
	return dirs, files, nil
}

func classifyEntry(path string, info os.FileInfo) fileEntry {
	return fileEntry{
		Path:     path,
		Info:     info,
		Category: ClassifySize(info.Size()),
		NameOnly: info.Size() >= extract.NameOnlyThreshold,
	}
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func statFile(path string) (os.FileInfo, error) {
	return os.Stat(path)
}

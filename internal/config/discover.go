package config

import (
	"os"
	"path/filepath"
)

// FileName is the config file every process looks for.
const FileName = "toolmesh.toml"

// SearchPaths returns TOML files to auto-discover (first match wins).
// Tools run with their own directory as cwd, so the binary directory and its
// parents are tried before the cwd fallbacks. Paths are deduplicated via filepath.Abs.
func SearchPaths() []string {
	candidates := []string{
		FileName,
		filepath.Join("config", FileName),
		filepath.Join("..", FileName),
		filepath.Join("..", "..", FileName),
	}

	var paths []string
	if exe, err := os.Executable(); err == nil {
		binDir := filepath.Dir(exe)
		paths = append(paths,
			filepath.Join(binDir, FileName),
			filepath.Join(binDir, "..", FileName),
			filepath.Join(binDir, "..", "..", FileName),
		)
	}
	paths = append(paths, candidates...)

	seen := make(map[string]bool, len(paths))
	deduped := make([]string, 0, len(paths))
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			abs = p
		}
		if seen[abs] {
			continue
		}
		seen[abs] = true
		deduped = append(deduped, p)
	}
	return deduped
}

// Discover returns the first existing file from SearchPaths, or nil.
func Discover() []string {
	for _, path := range SearchPaths() {
		if _, err := os.Stat(path); err == nil {
			return []string{path}
		}
	}
	return nil
}

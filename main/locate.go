package main

import (
	"os"
	"path/filepath"

	"golang.org/x/exp/slices"
)

// Snapshot family prefixes in the proc0 subtree.
const (
	varPattern  = "VAR*"
	pvarPattern = "PVAR*"
)

// natCompare orders strings naturally: runs of digits compare by numeric
// value, so VAR9 sorts before VAR10. Ties between equal numeric runs fall
// back to the shorter (fewer leading zeros) run first.
func natCompare(a, b string) int {
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		ca, cb := a[i], b[j]
		da, db := isDigit(ca), isDigit(cb)
		switch {
		case da && db:
			na, ni := digitRun(a, i)
			nb, nj := digitRun(b, j)
			if c := compareDigits(na, nb); c != 0 {
				return c
			}
			i, j = ni, nj
		case da != db:
			// Digits sort before letters, matching byte order.
			if ca < cb {
				return -1
			}
			return 1
		default:
			if ca != cb {
				if ca < cb {
					return -1
				}
				return 1
			}
			i++
			j++
		}
	}
	switch {
	case len(a)-i < len(b)-j:
		return -1
	case len(a)-i > len(b)-j:
		return 1
	}
	return 0
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

// digitRun returns the digit substring starting at i and the index just
// past it.
func digitRun(s string, i int) (string, int) {
	j := i
	for j < len(s) && isDigit(s[j]) {
		j++
	}
	return s[i:j], j
}

func compareDigits(a, b string) int {
	ta, tb := trimZeros(a), trimZeros(b)
	if len(ta) != len(tb) {
		if len(ta) < len(tb) {
			return -1
		}
		return 1
	}
	if ta != tb {
		if ta < tb {
			return -1
		}
		return 1
	}
	// Same value; fewer leading zeros first.
	if len(a) != len(b) {
		if len(a) < len(b) {
			return -1
		}
		return 1
	}
	return 0
}

func trimZeros(s string) string {
	for len(s) > 1 && s[0] == '0' {
		s = s[1:]
	}
	return s
}

// snapshotNeeded reports whether any requested field still lacks an
// exported artifact for the given snapshot. Artifact existence is the sole
// idempotency marker.
func snapshotNeeded(outDir, varfile string, fieldNames []string) bool {
	for _, name := range fieldNames {
		pattern := filepath.Join(outDir, artifactPrefix(name, varfile)+".*")
		matches, err := filepath.Glob(pattern)
		if err != nil || len(matches) == 0 {
			return true
		}
	}
	return false
}

// discoverSnapshots scans <sourceDir>/data/proc0 for snapshot files matching
// pattern, keeps those with at least one missing artifact in outDir, and
// returns the basenames in natural-sort order. A positive batch caps the
// result to the first batch entries.
func discoverSnapshots(sourceDir, pattern string, fieldNames []string, outDir string, batch int) ([]string, error) {
	src, err := expandLocalPath(sourceDir)
	if err != nil {
		return nil, err
	}
	matches, err := filepath.Glob(filepath.Join(src, "data", "proc0", pattern))
	if err != nil {
		return nil, err
	}
	needed := make([]string, 0, len(matches))
	for _, path := range matches {
		name := filepath.Base(path)
		if snapshotNeeded(outDir, name, fieldNames) {
			needed = append(needed, name)
		}
	}
	slices.SortFunc(needed, natCompare)
	if batch > 0 && len(needed) > batch {
		needed = needed[:batch]
	}
	return needed, nil
}

// shardDirs lists the per-rank proc* directories holding a snapshot's shards.
func shardDirs(sourceDir string) ([]string, error) {
	src, err := expandLocalPath(sourceDir)
	if err != nil {
		return nil, err
	}
	matches, err := filepath.Glob(filepath.Join(src, "data", "proc*"))
	if err != nil {
		return nil, err
	}
	dirs := make([]string, 0, len(matches))
	for _, m := range matches {
		if info, err := os.Stat(m); err == nil && info.IsDir() {
			dirs = append(dirs, m)
		}
	}
	slices.SortFunc(dirs, natCompare)
	return dirs, nil
}

package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gonum.org/v1/gonum/floats"
)

func artifactPrefix(field, varfile string) string {
	return "exported__" + field + "__" + varfile
}

// fieldSummary holds the per-field statistics recorded alongside each
// exported artifact.
type fieldSummary struct {
	Min, Max, Mean float64
}

func summarize(f Field) fieldSummary {
	if len(f.Data) == 0 {
		return fieldSummary{}
	}
	return fieldSummary{
		Min:  floats.Min(f.Data),
		Max:  floats.Max(f.Data),
		Mean: floats.Sum(f.Data) / float64(len(f.Data)),
	}
}

// exportSnapshot loads one snapshot and writes an artifact per requested
// field into outDir. An empty field list prints the available names
// instead. Unknown field names are reported and skipped; a failed read or
// write is returned to the caller, which uses it to gate deletion of the
// originals.
func exportSnapshot(r Reader, fieldNames []string, varfile, dataDir, outDir string, particle, verbose bool) ([]artifactRecord, error) {
	snap, err := r.Read(dataDir, varfile, particle)
	if err != nil {
		fmt.Printf("Error reading snapshot %s: %v\n", varfile, err)
		return nil, err
	}

	if len(fieldNames) == 0 {
		fmt.Printf("Fields stored in snapshot file %s: %s\n", varfile, strings.Join(snap.Names(), ", "))
		return nil, nil
	}

	var artifacts []artifactRecord
	for _, name := range fieldNames {
		field, ok := snap.Field(name)
		if !ok {
			fmt.Printf("Unknown field %q in snapshot %s, skipping\n", name, varfile)
			continue
		}
		var path string
		if field.IsScalar() {
			if len(field.Data) != 1 {
				return artifacts, fmt.Errorf("scalar field %q in snapshot %s carries %d values", name, varfile, len(field.Data))
			}
			path = filepath.Join(outDir, artifactPrefix(name, varfile)+".txt")
			err = writeScalarTxt(path, field.Data[0])
		} else {
			path = filepath.Join(outDir, artifactPrefix(name, varfile)+".npy")
			err = writeNPY(path, field.Shape, field.Data)
		}
		if err != nil {
			return artifacts, fmt.Errorf("write %s: %w", path, err)
		}
		sum := summarize(field)
		var size int64
		if info, err := os.Stat(path); err == nil {
			size = info.Size()
		}
		artifacts = append(artifacts, artifactRecord{
			Snapshot:  varfile,
			Field:     name,
			Path:      path,
			Bytes:     size,
			Min:       sum.Min,
			Max:       sum.Max,
			Mean:      sum.Mean,
			CreatedAt: time.Now().UTC(),
		})
		if verbose {
			fmt.Printf("Exported %s (min %g, max %g, mean %g)\n", filepath.Base(path), sum.Min, sum.Max, sum.Mean)
		}
	}
	return artifacts, nil
}

type exportResult struct {
	Artifacts []artifactRecord
	Err       error
}

// exportAll exports the given snapshots with at most batchSize concurrent
// workers. Results are positional: results[i] belongs to varfiles[i].
func exportAll(r Reader, fieldNames, varfiles []string, dataDir, outDir string, batchSize int, particle, verbose bool) []exportResult {
	if batchSize < 1 {
		batchSize = 1
	}
	results := make([]exportResult, len(varfiles))
	sem := make(chan struct{}, batchSize)
	done := make(chan struct{})
	for i, varfile := range varfiles {
		i, varfile := i, varfile
		sem <- struct{}{}
		go func() {
			defer func() {
				<-sem
				done <- struct{}{}
			}()
			arts, err := exportSnapshot(r, fieldNames, varfile, dataDir, outDir, particle, verbose)
			results[i] = exportResult{Artifacts: arts, Err: err}
		}()
	}
	for range varfiles {
		<-done
	}
	return results
}

// shardResult records the outcome of removing one per-rank shard of a
// snapshot, so callers can tell partial from total success.
type shardResult struct {
	Path string
	Err  error
}

// deleteOriginalSnapshot removes the snapshot's shard from every proc*
// directory. Each shard is attempted independently; a shard that is
// already gone counts as removed.
func deleteOriginalSnapshot(varfile, sourceDir string) ([]shardResult, error) {
	dirs, err := shardDirs(sourceDir)
	if err != nil {
		return nil, err
	}
	results := make([]shardResult, 0, len(dirs))
	for _, dir := range dirs {
		path := filepath.Join(dir, varfile)
		err := os.Remove(path)
		if err != nil && errors.Is(err, os.ErrNotExist) {
			err = nil
		}
		results = append(results, shardResult{Path: path, Err: err})
	}
	return results, nil
}

func countDeleted(results []shardResult) int {
	var n int
	for _, r := range results {
		if r.Err == nil {
			n++
		}
	}
	return n
}

func reportShardResults(varfile string, results []shardResult) {
	deleted := countDeleted(results)
	switch {
	case len(results) == 0:
		fmt.Printf("No shard directories found for snapshot %s\n", varfile)
	case deleted == len(results):
		fmt.Printf("Original snapshot %s deleted (%d shards)\n", varfile, deleted)
	case deleted == 0:
		fmt.Printf("Original snapshot %s NOT deleted\n", varfile)
	default:
		fmt.Printf("Original snapshot %s partially deleted (%d of %d shards)\n", varfile, deleted, len(results))
		for _, r := range results {
			if r.Err != nil {
				fmt.Printf("  %s: %v\n", r.Path, r.Err)
			}
		}
	}
}

package main

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ncruces/go-strftime"
)

// cycleOptions collects everything one discover/export/analyze cycle needs.
// All paths and knobs are explicit; nothing is read from ambient state.
type cycleOptions struct {
	Daemon          string // daemon name for history records, may be empty
	Source          string // simulation source directory
	OutDir          string // where artifacts are written
	Varnames        []string
	Pvarnames       []string
	Varfiles        []string // explicit field snapshots, disables discovery
	Pvarfiles       []string // explicit particle snapshots, disables discovery
	Verbose         bool
	DaemonMode      bool
	DeleteOriginals bool
	OneBatchAtATime bool
	WaitTime        int // minutes between cycles in daemon mode
	BatchSize       int
	Analysis        string
	AnalysisDir     string

	Reader  Reader
	History *historyDB // optional, nil disables run recording

	sleep func(time.Duration) // test seam, defaults to time.Sleep
}

// runExport is the cycle driver: DISCOVER -> EXPORT -> ANALYZE and, in
// daemon mode, WAIT and repeat. Explicit snapshot lists force a single
// pass and bypass discovery.
func runExport(opts cycleOptions) error {
	if opts.DaemonMode && (len(opts.Varfiles) > 0 || len(opts.Pvarfiles) > 0) {
		fmt.Println("Explicit snapshot names given, turning off daemon mode")
		opts.DaemonMode = false
	}
	if opts.BatchSize < 1 {
		opts.BatchSize = 1
	}
	if opts.sleep == nil {
		opts.sleep = time.Sleep
	}
	skipVar := len(opts.Varfiles) == 0 && len(opts.Varnames) == 0
	skipPvar := len(opts.Pvarfiles) == 0 && len(opts.Pvarnames) == 0

	for {
		started := time.Now().UTC()
		var exported, failed, deleted int
		var artifacts []artifactRecord

		runFamily := func(names, files []string, pattern string, particle bool) error {
			varfiles := files
			if len(varfiles) == 0 {
				if opts.Verbose {
					fmt.Printf("Looking for %s files ...\n", strings.TrimSuffix(pattern, "*"))
				}
				batch := 0
				if opts.OneBatchAtATime {
					batch = opts.BatchSize
				}
				var err error
				varfiles, err = discoverSnapshots(opts.Source, pattern, names, opts.OutDir, batch)
				if err != nil {
					return err
				}
				if opts.Verbose && len(varfiles) > 0 {
					fmt.Printf("New or incompletely exported snapshot(s) found: %s\n", strings.Join(varfiles, ", "))
				}
			}
			results := exportAll(opts.Reader, names, varfiles, opts.Source, opts.OutDir, opts.BatchSize, particle, opts.Verbose)
			for i, res := range results {
				if res.Err != nil {
					failed++
					continue
				}
				exported++
				artifacts = append(artifacts, res.Artifacts...)
				if opts.DeleteOriginals {
					shards, err := deleteOriginalSnapshot(varfiles[i], opts.Source)
					if err != nil {
						fmt.Printf("Unable to delete originals of %s: %v\n", varfiles[i], err)
						continue
					}
					deleted += countDeleted(shards)
					if opts.Verbose {
						reportShardResults(varfiles[i], shards)
					}
				}
			}
			return nil
		}

		if !skipVar {
			if err := runFamily(opts.Varnames, opts.Varfiles, varPattern, false); err != nil {
				return err
			}
		}
		if !skipPvar {
			if err := runFamily(opts.Pvarnames, opts.Pvarfiles, pvarPattern, true); err != nil {
				return err
			}
		}

		if opts.Analysis != "" {
			if err := runAnalysis(opts.Analysis, opts.AnalysisDir); err != nil {
				fmt.Printf("Analysis command failed: %v\n", err)
			}
		}

		if opts.History != nil {
			rec := cycleRecord{
				ID:         uuid.NewString(),
				Daemon:     opts.Daemon,
				Source:     opts.Source,
				StartedAt:  started,
				FinishedAt: time.Now().UTC(),
				Exported:   exported,
				Failed:     failed,
				Deleted:    deleted,
			}
			if err := opts.History.recordCycle(rec, artifacts); err != nil {
				fmt.Printf("Unable to record cycle history: %v\n", err)
			}
		}

		if progressEnabled(opts.Verbose) {
			fmt.Printf("Cycle done: %d exported, %d failed, %d shards deleted\n", exported, failed, deleted)
		}

		if !opts.DaemonMode {
			return nil
		}
		if opts.Verbose {
			fmt.Println("Waiting for next attempt at finding new snapshots ...")
		}
		opts.sleep(time.Duration(opts.WaitTime) * time.Minute)
	}
}

// trimQuotes removes one pair of matching enclosing quotes, if present.
func trimQuotes(s string) string {
	if len(s) >= 2 {
		first, last := s[0], s[len(s)-1]
		if first == last && (first == '\'' || first == '"') {
			return s[1 : len(s)-1]
		}
	}
	return s
}

// runAnalysis executes the analysis command in dir, appending its combined
// output to a log file named after the command. Failures are returned for
// reporting but never stop the cycle.
func runAnalysis(command, dir string) error {
	args := strings.Fields(trimQuotes(command))
	if len(args) == 0 {
		return nil
	}
	logPath := filepath.Join(dir, filepath.Base(args[0])+".output")
	logFile, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open analysis log: %w", err)
	}
	defer logFile.Close()
	fmt.Fprintf(logFile, "==== %s ====\n", strftime.Format("%Y/%m/%d %H:%M:%S", time.Now()))

	cmd := exec.Command(args[0], args[1:]...)
	cmd.Dir = dir
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s: %w", args[0], err)
	}
	return nil
}

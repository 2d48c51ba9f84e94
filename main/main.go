package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/mattn/go-isatty"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		return
	}

	switch os.Args[1] {
	case "defaults":
		if err := cmdDefaults(os.Args[2:]); err != nil {
			log.Fatalf("snapcollate defaults: %v", err)
		}
	case "setup":
		if err := cmdSetup(os.Args[2:]); err != nil {
			log.Fatalf("snapcollate setup: %v", err)
		}
	case "copy":
		if err := cmdCopy(os.Args[2:]); err != nil {
			log.Fatalf("snapcollate copy: %v", err)
		}
	case "modify":
		if err := cmdModify(os.Args[2:]); err != nil {
			log.Fatalf("snapcollate modify: %v", err)
		}
	case "start":
		if err := cmdStart(os.Args[2:]); err != nil {
			log.Fatalf("snapcollate start: %v", err)
		}
	case "stop":
		if err := cmdStop(os.Args[2:]); err != nil {
			log.Fatalf("snapcollate stop: %v", err)
		}
	case "inspect":
		if err := cmdInspect(os.Args[2:]); err != nil {
			log.Fatalf("snapcollate inspect: %v", err)
		}
	case "remove":
		if err := cmdRemove(os.Args[2:]); err != nil {
			log.Fatalf("snapcollate remove: %v", err)
		}
	case "list":
		if err := cmdList(os.Args[2:]); err != nil {
			log.Fatalf("snapcollate list: %v", err)
		}
	case "direct":
		if err := cmdDirect(os.Args[2:]); err != nil {
			log.Fatalf("snapcollate direct: %v", err)
		}
	case "history":
		if err := cmdHistory(os.Args[2:]); err != nil {
			log.Fatalf("snapcollate history: %v", err)
		}
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`Usage:
  snapcollate defaults [flags]
  snapcollate setup    <name> [flags]
  snapcollate copy     <src-name> <dest-name>
  snapcollate modify   <name> [flags]
  snapcollate start    <name> [flags]
  snapcollate stop     <name>
  snapcollate inspect  <name>
  snapcollate remove   <name> [--force]
  snapcollate list
  snapcollate direct   [flags]
  snapcollate history  [cycle-id] [--limit N]

Commands:
  defaults Write default scheduler settings (group, queue, resources, ...).
  setup    Create a named daemon configuration for PBS execution.
  copy     Duplicate a daemon configuration under a new name.
  modify   Change fields of an existing daemon configuration in place.
  start    Submit a daemon to PBS via qsub and record the active job.
  stop     Delete a daemon's PBS job via qdel.
  inspect  Show a daemon's configuration and scheduler status.
  remove   Delete a daemon configuration.
  list     List configured daemons.
  direct   Run the discover/export/analyze cycle directly, bypassing PBS.
  history  Show recorded export cycles, or one cycle's artifacts.

Examples:
  snapcollate defaults --group s1234
  snapcollate setup run42 --source /nobackup/sim/run42 --target ~/collated/run42 \
    --varnames "rho ux uy uz" --delete_originals --one_batch_at_a_time --batch_size 4
  snapcollate start run42 --queue long
  snapcollate direct --directory /nobackup/sim/run42 --varnames rho --daemon_mode

Notes:
  - Configurations live under ~/.snapcollate (override with SNAPCOLLATE_DIR).
  - direct needs the external snapshot reader on PATH (default pc-read-var,
    override with --reader or SNAPCOLLATE_READER).
  - Explicit --varfiles/--pvarfiles disable discovery and daemon mode.`)
}

var stdoutIsTTY = isatty.IsTerminal(os.Stdout.Fd())

// progressEnabled gates per-cycle summary lines: always in verbose mode,
// otherwise only when talking to a terminal rather than a scheduler log.
func progressEnabled(verbose bool) bool {
	return verbose || stdoutIsTTY
}

// cmdDirect is the standalone export entry point, also what the generated
// PBS run script invokes.
func cmdDirect(args []string) error {
	fs := flag.NewFlagSet("direct", flag.ExitOnError)
	var (
		directory       = fs.String("directory", ".", "Directory of the simulation input data")
		target          = fs.String("target", ".", "Directory artifacts are written to")
		name            = fs.String("name", "", "Daemon name to tag history records with")
		verbose         = fs.Bool("verbose", false, "Verbose output")
		daemonMode      = fs.Bool("daemon_mode", false, "Keep looping, rediscovering snapshots after each wait")
		waitTime        = fs.Int("wait_time", defaultWaitTime, "Minutes between discovery cycles in daemon mode")
		analysis        = fs.String("analysis", "", "Analysis command to run after each export cycle")
		analysisDir     = fs.String("analysis_dir", ".", "Directory the analysis command runs in")
		deleteOriginals = fs.Bool("delete_originals", false, "Delete original snapshots after successful export")
		oneBatch        = fs.Bool("one_batch_at_a_time", false, "Process one batch of snapshots per cycle")
		batchSize       = fs.Int("batch_size", defaultBatchSize, "Number of snapshots exported in parallel")
		readerCmd       = fs.String("reader", "", "Snapshot reader command (default pc-read-var)")
		noHistory       = fs.Bool("no_history", false, "Do not record cycles in the history database")

		varnames, pvarnames, varfiles, pvarfiles multiStringFlag
	)
	fs.Var(&varnames, "varnames", "Field name(s) to export; empty lists available names")
	fs.Var(&varfiles, "varfiles", "Explicit snapshot file name(s); disables discovery")
	fs.Var(&pvarnames, "pvarnames", "Particle field name(s) to export; empty lists available names")
	fs.Var(&pvarfiles, "pvarfiles", "Explicit particle snapshot file name(s); disables discovery")
	if err := fs.Parse(args); err != nil {
		return err
	}

	vnames := defaultVarnames
	if varnames.set {
		vnames = varnames.Values()
	}
	pnames := defaultPvarnames
	if pvarnames.set {
		pnames = pvarnames.Values()
	}

	reader, err := newExecReader(*readerCmd)
	if err != nil {
		return err
	}

	sourceDir, err := expandLocalPath(*directory)
	if err != nil {
		return fmt.Errorf("directory: %w", err)
	}
	outDir, err := expandLocalPath(*target)
	if err != nil {
		return fmt.Errorf("target: %w", err)
	}

	var history *historyDB
	if !*noHistory {
		dir, err := configDir()
		if err == nil {
			history, err = openHistoryDB(dir)
		}
		if err != nil {
			fmt.Printf("History recording disabled: %v\n", err)
			history = nil
		}
	}
	if history != nil {
		defer history.Close()
	}

	return runExport(cycleOptions{
		Daemon:          *name,
		Source:          sourceDir,
		OutDir:          outDir,
		Varnames:        vnames,
		Pvarnames:       pnames,
		Varfiles:        varfiles.Values(),
		Pvarfiles:       pvarfiles.Values(),
		Verbose:         *verbose,
		DaemonMode:      *daemonMode,
		DeleteOriginals: *deleteOriginals,
		OneBatchAtATime: *oneBatch,
		WaitTime:        *waitTime,
		BatchSize:       *batchSize,
		Analysis:        *analysis,
		AnalysisDir:     *analysisDir,
		Reader:          reader,
		History:         history,
	})
}

func cmdHistory(args []string) error {
	var cycleID string
	if len(args) > 0 && args[0] != "" && args[0][0] != '-' {
		cycleID = args[0]
		args = args[1:]
	}
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	limit := fs.Int("limit", 20, "Number of cycles to list")
	if err := fs.Parse(args); err != nil {
		return err
	}
	dir, err := configDir()
	if err != nil {
		return err
	}
	history, err := openHistoryDB(dir)
	if err != nil {
		return fmt.Errorf("open history database: %w", err)
	}
	defer history.Close()

	if cycleID != "" {
		artifacts, err := history.listArtifacts(cycleID)
		if err != nil {
			return err
		}
		if len(artifacts) == 0 {
			fmt.Printf("No artifacts recorded for cycle %s\n", cycleID)
			return nil
		}
		printArtifacts(artifacts)
		return nil
	}

	cycles, err := history.listCycles(*limit)
	if err != nil {
		return err
	}
	if len(cycles) == 0 {
		fmt.Println("No export cycles recorded yet.")
		return nil
	}
	printCycles(cycles)
	return nil
}

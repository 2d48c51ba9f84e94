package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"
)

// splitLeadingName peels the positional daemon name off the front of the
// argument list so the remaining flags can be parsed normally.
func splitLeadingName(command string, args []string) (string, []string, error) {
	if len(args) == 0 || strings.HasPrefix(args[0], "-") {
		return "", nil, fmt.Errorf("usage: snapcollate %s <name> [flags]", command)
	}
	return args[0], args[1:], nil
}

func cmdDefaults(args []string) error {
	fs := flag.NewFlagSet("defaults", flag.ExitOnError)
	var d Defaults
	fs.StringVar(&d.Group, "group", "", "Group ID (required)")
	fs.StringVar(&d.Resources, "resources", defaultResources, "Resource string")
	fs.StringVar(&d.Environment, "environment", defaultEnvironment, "Command line for setting up the environment")
	fs.IntVar(&d.Lifetime, "lifetime", defaultLifetime, "Lifetime in hours")
	fs.StringVar(&d.Queue, "queue", defaultQueue, "Name of the scheduler queue")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if d.Group == "" {
		fs.Usage()
		return fmt.Errorf("group is required")
	}
	dir, err := configDir()
	if err != nil {
		return err
	}
	if err := writeDefaults(dir, d); err != nil {
		return fmt.Errorf("write defaults: %w", err)
	}
	fmt.Printf("Defaults written to %s\n", defaultsPath(dir))
	return nil
}

func cmdSetup(args []string) error {
	name, rest, err := splitLeadingName("setup", args)
	if err != nil {
		return err
	}
	dir, err := configDir()
	if err != nil {
		return err
	}
	defaults := readDefaults(dir)

	fs := flag.NewFlagSet("setup", flag.ExitOnError)
	var (
		source          = fs.String("source", "", "Source directory (required)")
		target          = fs.String("target", "", "Target directory (required)")
		group           = fs.String("group", defaults.Group, "Group ID")
		resources       = fs.String("resources", defaults.Resources, "Resource string")
		environment     = fs.String("environment", defaults.Environment, "Command line for setting up the environment")
		lifetime        = fs.Int("lifetime", defaults.Lifetime, "Lifetime in hours")
		queue           = fs.String("queue", defaults.Queue, "Name of the scheduler queue")
		force           = fs.Bool("force", false, "Override an existing daemon configuration")
		verbose         = fs.Bool("verbose", false, "Verbose output")
		analysis        = fs.String("analysis", "", "Analysis command to run after each export cycle")
		analysisDir     = fs.String("analysis_dir", "", "Analysis directory (default: same as target)")
		deleteOriginals = fs.Bool("delete_originals", false, "Delete original snapshots after successful export")
		waitTime        = fs.Int("wait_time", defaultWaitTime, "Minutes between snapshot discovery cycles")
		oneBatch        = fs.Bool("one_batch_at_a_time", false, "Process one batch of snapshots per cycle")
		batchSize       = fs.Int("batch_size", defaultBatchSize, "Number of snapshots exported in parallel")
		varnames        multiStringFlag
		pvarnames       multiStringFlag
	)
	fs.Var(&varnames, "varnames", "Field name(s) to export; may be repeated")
	fs.Var(&pvarnames, "pvarnames", "Particle field name(s) to export; may be repeated")
	if err := fs.Parse(rest); err != nil {
		return err
	}
	if *source == "" || *target == "" {
		fs.Usage()
		return fmt.Errorf("source and target are required")
	}

	configPath := daemonConfigPath(dir, name)
	if _, err := os.Stat(configPath); err == nil && !*force {
		fmt.Printf("Existing configuration found for daemon %q. Rerun with --force to override it.\n", name)
		return nil
	}

	src, err := expandLocalPath(*source)
	if err != nil {
		return fmt.Errorf("source: %w", err)
	}
	tgt, err := expandLocalPath(*target)
	if err != nil {
		return fmt.Errorf("target: %w", err)
	}
	adir := tgt
	if *analysisDir != "" {
		if adir, err = expandLocalPath(*analysisDir); err != nil {
			return fmt.Errorf("analysis_dir: %w", err)
		}
	}

	vnames := defaultVarnames
	if varnames.set {
		vnames = varnames.Values()
	}
	pnames := defaultPvarnames
	if pvarnames.set {
		pnames = pvarnames.Values()
	}

	cfg := &DaemonConfig{
		Name:            name,
		Source:          src,
		Target:          tgt,
		Lifetime:        *lifetime,
		Group:           *group,
		Resources:       *resources,
		Environment:     *environment,
		Queue:           *queue,
		Varnames:        joinNames(vnames),
		Pvarnames:       joinNames(pnames),
		Verbose:         *verbose,
		Analysis:        *analysis,
		AnalysisDir:     adir,
		DeleteOriginals: *deleteOriginals,
		WaitTime:        *waitTime,
		OneBatchAtATime: *oneBatch,
		BatchSize:       *batchSize,
	}
	if err := saveDaemonConfig(dir, cfg); err != nil {
		return fmt.Errorf("save configuration: %w", err)
	}
	fmt.Printf("Daemon %q has been set up.\n", name)
	return nil
}

func cmdCopy(args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: snapcollate copy <src-name> <dest-name>")
	}
	srcName, destName := args[0], args[1]
	dir, err := configDir()
	if err != nil {
		return err
	}
	if _, err := os.Stat(daemonConfigPath(dir, destName)); err == nil {
		return fmt.Errorf("destination daemon %q already exists", destName)
	}
	cfg, err := loadDaemonConfig(dir, srcName)
	if err != nil {
		return err
	}
	cfg.Name = destName
	if err := saveDaemonConfig(dir, cfg); err != nil {
		return fmt.Errorf("save configuration: %w", err)
	}
	fmt.Printf("Daemon %q has been created from %q.\n", destName, srcName)
	return nil
}

func cmdModify(args []string) error {
	name, rest, err := splitLeadingName("modify", args)
	if err != nil {
		return err
	}
	fs := flag.NewFlagSet("modify", flag.ExitOnError)
	var (
		source      = fs.String("source", "", "Source directory (default: no change)")
		target      = fs.String("target", "", "Target directory (default: no change)")
		group       = fs.String("group", "", "Group ID (default: no change)")
		resources   = fs.String("resources", "", "Resource string (default: no change)")
		environment = fs.String("environment", "", "Environment setup command (default: no change)")
		queue       = fs.String("queue", "", "Scheduler queue (default: no change)")

		analysis, analysisDir              stringFlag
		lifetime, waitTime, batchSize      intFlag
		verbose, deleteOriginals, oneBatch boolFlag
		varnames, pvarnames                multiStringFlag
	)
	fs.Var(&analysis, "analysis", "Analysis command; an empty value clears it (default: no change)")
	fs.Var(&analysisDir, "analysis_dir", "Analysis directory; an empty value resets it to the target (default: no change)")
	fs.Var(&lifetime, "lifetime", "Lifetime in hours (default: no change)")
	fs.Var(&waitTime, "wait_time", "Minutes between discovery cycles (default: no change)")
	fs.Var(&batchSize, "batch_size", "Snapshots exported in parallel (default: no change)")
	fs.Var(&verbose, "verbose", "Verbose output, true or false (default: no change)")
	fs.Var(&deleteOriginals, "delete_originals", "Delete originals after export, true or false (default: no change)")
	fs.Var(&oneBatch, "one_batch_at_a_time", "One batch per cycle, true or false (default: no change)")
	fs.Var(&varnames, "varnames", "Field name(s) to export (default: no change)")
	fs.Var(&pvarnames, "pvarnames", "Particle field name(s) to export (default: no change)")
	if err := fs.Parse(rest); err != nil {
		return err
	}

	dir, err := configDir()
	if err != nil {
		return err
	}
	cfg, err := loadDaemonConfig(dir, name)
	if err != nil {
		return err
	}
	if id := reconcileActive(daemonDir(dir, name)); id != "" {
		return fmt.Errorf("daemon %q is queued/running (job %s); stop it before modifying", name, id)
	}
	// The run script is rendered from the configuration; drop a stale one.
	if err := os.Remove(daemonScriptPath(dir, name)); err != nil && !os.IsNotExist(err) {
		fmt.Printf("Unable to remove old run script: %v\n", err)
	}

	if *source != "" {
		if cfg.Source, err = expandLocalPath(*source); err != nil {
			return fmt.Errorf("source: %w", err)
		}
	}
	if *target != "" {
		if cfg.Target, err = expandLocalPath(*target); err != nil {
			return fmt.Errorf("target: %w", err)
		}
	}
	if *group != "" {
		cfg.Group = *group
	}
	if *resources != "" {
		cfg.Resources = *resources
	}
	if *environment != "" {
		cfg.Environment = *environment
	}
	if *queue != "" {
		cfg.Queue = *queue
	}
	if analysis.set {
		cfg.Analysis = analysis.value
	}
	if analysisDir.set {
		adir := analysisDir.value
		if adir == "" {
			adir = cfg.Target
		}
		if cfg.AnalysisDir, err = expandLocalPath(adir); err != nil {
			return fmt.Errorf("analysis_dir: %w", err)
		}
	}
	if lifetime.set {
		cfg.Lifetime = lifetime.value
	}
	if waitTime.set {
		cfg.WaitTime = waitTime.value
	}
	if batchSize.set {
		cfg.BatchSize = batchSize.value
	}
	if verbose.set {
		cfg.Verbose = verbose.value
	}
	if deleteOriginals.set {
		cfg.DeleteOriginals = deleteOriginals.value
	}
	if oneBatch.set {
		cfg.OneBatchAtATime = oneBatch.value
	}
	if varnames.set {
		cfg.Varnames = joinNames(varnames.Values())
	}
	if pvarnames.set {
		cfg.Pvarnames = joinNames(pvarnames.Values())
	}

	if err := saveDaemonConfig(dir, cfg); err != nil {
		return fmt.Errorf("save configuration: %w", err)
	}
	fmt.Printf("Daemon %q has been modified.\n", name)
	return nil
}

func cmdStart(args []string) error {
	name, rest, err := splitLeadingName("start", args)
	if err != nil {
		return err
	}
	fs := flag.NewFlagSet("start", flag.ExitOnError)
	var (
		lifetime intFlag
		queue    = fs.String("queue", "", "Scheduler queue (overrides the setup value)")
		onceOnly = fs.Bool("once_only", false, "Run once only, then stop automatically")
	)
	fs.Var(&lifetime, "lifetime", "Lifetime in hours (overrides the setup value)")
	if err := fs.Parse(rest); err != nil {
		return err
	}

	dir, err := configDir()
	if err != nil {
		return err
	}
	cfg, err := loadDaemonConfig(dir, name)
	if err != nil {
		return err
	}
	dDir := daemonDir(dir, name)
	if id := reconcileActive(dDir); id != "" {
		fmt.Printf("Daemon %q is already queued/running (job %s). No need to start another one.\n", name, id)
		return nil
	}

	queueName := cfg.Queue
	if *queue != "" {
		queueName = *queue
	}
	life := cfg.Lifetime
	if lifetime.set {
		life = lifetime.value
	}

	scriptPath := daemonScriptPath(dir, name)
	script, err := os.OpenFile(scriptPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o755)
	if err != nil {
		return fmt.Errorf("create run script: %w", err)
	}
	if err := writeRunScript(script, cfg, dDir, life, !*onceOnly); err != nil {
		script.Close()
		return fmt.Errorf("render run script: %w", err)
	}
	if err := script.Close(); err != nil {
		return err
	}

	jobID, output, err := submitJob(queueName, scriptPath)
	if err != nil {
		return fmt.Errorf("start daemon %q: %w", name, err)
	}
	fmt.Printf("Daemon %q has been submitted.\n", name)
	fmt.Printf("Scheduler output: %s\n", strings.TrimSpace(output))
	if err := writeActiveMarker(dDir, jobID); err != nil {
		return fmt.Errorf("record active job %s: %w", jobID, err)
	}
	fmt.Printf("Job %s submitted, active marker created.\n", jobID)
	return nil
}

func cmdStop(args []string) error {
	name, rest, err := splitLeadingName("stop", args)
	if err != nil {
		return err
	}
	fs := flag.NewFlagSet("stop", flag.ExitOnError)
	if err := fs.Parse(rest); err != nil {
		return err
	}
	dir, err := configDir()
	if err != nil {
		return err
	}
	if _, err := loadDaemonConfig(dir, name); err != nil {
		return err
	}
	dDir := daemonDir(dir, name)
	markers := activeMarkers(dDir)
	if len(markers) == 0 {
		fmt.Printf("Daemon %q is not submitted/running.\n", name)
		return nil
	}
	for _, marker := range markers {
		id := markerJobID(marker)
		if id == "" || !jobActive(id) {
			fmt.Printf("Daemon %q was already no longer queued/running.\n", name)
			os.Remove(marker)
			continue
		}
		if err := deleteJob(id); err != nil {
			fmt.Printf("Unable to stop daemon %q: %v. Try again.\n", name, err)
			continue
		}
		fmt.Printf("Daemon %q is being stopped (job %s).\n", name, id)
		os.Remove(marker)
	}
	return nil
}

func cmdInspect(args []string) error {
	name, rest, err := splitLeadingName("inspect", args)
	if err != nil {
		return err
	}
	fs := flag.NewFlagSet("inspect", flag.ExitOnError)
	if err := fs.Parse(rest); err != nil {
		return err
	}
	dir, err := configDir()
	if err != nil {
		return err
	}
	cfg, err := loadDaemonConfig(dir, name)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "    ")
	if err != nil {
		return err
	}
	fmt.Println("Daemon configuration:")
	fmt.Println(string(data))
	if id := reconcileActive(daemonDir(dir, name)); id != "" {
		fmt.Printf("Daemon %q is queued/running (job %s).\n", name, id)
	} else {
		fmt.Printf("Daemon %q is not queued/running.\n", name)
	}
	return nil
}

func cmdRemove(args []string) error {
	name, rest, err := splitLeadingName("remove", args)
	if err != nil {
		return err
	}
	fs := flag.NewFlagSet("remove", flag.ExitOnError)
	force := fs.Bool("force", false, "Delete even when unknown files are in the configuration directory")
	if err := fs.Parse(rest); err != nil {
		return err
	}
	dir, err := configDir()
	if err != nil {
		return err
	}
	dDir := daemonDir(dir, name)
	if _, err := os.Stat(dDir); err != nil {
		return fmt.Errorf("no daemon named %q found", name)
	}
	if id := reconcileActive(dDir); id != "" {
		return fmt.Errorf("daemon %q is queued/running (job %s); stop it before removing", name, id)
	}
	for _, path := range []string{daemonConfigPath(dir, name), daemonScriptPath(dir, name)} {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	if err := os.Remove(dDir); err != nil {
		if !*force {
			return fmt.Errorf("cannot remove daemon directory %s, it holds unknown files; use --force to delete anyway", dDir)
		}
		if err := os.RemoveAll(dDir); err != nil {
			return err
		}
	}
	fmt.Printf("Daemon %q has been removed.\n", name)
	return nil
}

func cmdList(args []string) error {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	dir, err := configDir()
	if err != nil {
		return err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			names = append(names, entry.Name())
		}
	}
	if len(names) == 0 {
		fmt.Println("No daemons found.")
		return nil
	}
	sort.Strings(names)
	fmt.Println("Existing daemons:")
	for _, name := range names {
		fmt.Println(name)
	}
	return nil
}

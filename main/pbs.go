package main

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"text/template"
)

// runCommand is the shell-out seam for the scheduler CLI; tests replace it.
var runCommand = func(name string, args ...string) ([]byte, error) {
	cmd := exec.Command(name, args...)
	return cmd.CombinedOutput()
}

var jobIDRe = regexp.MustCompile(`\d+`)

var scriptTemplate = template.Must(template.New("run").Parse(`#!/bin/csh
#PBS -S /bin/csh
#PBS -W group_list={{.Group}}
#PBS -l {{.Resources}}
#PBS -l walltime={{.Lifetime}}:00:00
#PBS -N {{.Name}}
#PBS -e {{.DaemonDir}}
#PBS -o {{.DaemonDir}}
{{.Environment}}
cd {{.Target}}
{{.Command}} >> snapcollate.output
`))

type scriptParams struct {
	Name        string
	Group       string
	Resources   string
	Lifetime    int
	DaemonDir   string
	Environment string
	Target      string
	Command     string
}

// directCommand renders the snapcollate invocation the scheduler job runs.
func directCommand(cfg *DaemonConfig, daemonMode bool) string {
	var b strings.Builder
	b.WriteString("snapcollate direct")
	fmt.Fprintf(&b, " --directory %s", cfg.Source)
	fmt.Fprintf(&b, " --name %s", cfg.Name)
	if cfg.Varnames != "" {
		fmt.Fprintf(&b, " --varnames '%s'", cfg.Varnames)
	}
	if cfg.Pvarnames != "" {
		fmt.Fprintf(&b, " --pvarnames '%s'", cfg.Pvarnames)
	}
	if cfg.Verbose {
		b.WriteString(" --verbose")
	}
	if cfg.Analysis != "" {
		fmt.Fprintf(&b, " --analysis '%s'", cfg.Analysis)
	}
	if cfg.AnalysisDir != "" {
		fmt.Fprintf(&b, " --analysis_dir %s", cfg.AnalysisDir)
	}
	if daemonMode {
		b.WriteString(" --daemon_mode")
	}
	if cfg.DeleteOriginals {
		b.WriteString(" --delete_originals")
	}
	fmt.Fprintf(&b, " --wait_time %d", cfg.WaitTime)
	if cfg.OneBatchAtATime {
		b.WriteString(" --one_batch_at_a_time")
	}
	fmt.Fprintf(&b, " --batch_size %d", cfg.BatchSize)
	return b.String()
}

func writeRunScript(w io.Writer, cfg *DaemonConfig, daemonDir string, lifetime int, daemonMode bool) error {
	return scriptTemplate.Execute(w, scriptParams{
		Name:        cfg.Name,
		Group:       cfg.Group,
		Resources:   cfg.Resources,
		Lifetime:    lifetime,
		DaemonDir:   daemonDir,
		Environment: cfg.Environment,
		Target:      cfg.Target,
		Command:     directCommand(cfg, daemonMode),
	})
}

// submitJob submits the script with qsub and returns the job id parsed
// from the scheduler output (first run of digits).
func submitJob(queue, scriptPath string) (jobID, output string, err error) {
	out, err := runCommand("qsub", "-q", queue, scriptPath)
	output = string(out)
	if err != nil {
		return "", output, fmt.Errorf("qsub failed: %v (output: %s)", err, strings.TrimSpace(output))
	}
	jobID = jobIDRe.FindString(output)
	if jobID == "" {
		return "", output, fmt.Errorf("job id not found in scheduler output: %q", strings.TrimSpace(output))
	}
	return jobID, output, nil
}

// jobActive asks qstat whether the job is still queued or running.
func jobActive(jobID string) bool {
	_, err := runCommand("qstat", jobID)
	return err == nil
}

func deleteJob(jobID string) error {
	out, err := runCommand("qdel", jobID)
	if err != nil {
		return fmt.Errorf("qdel %s: %v (output: %s)", jobID, err, strings.TrimSpace(string(out)))
	}
	return nil
}

// Active-job markers: empty files named active_job.<id> in the daemon dir.

func activeMarkers(daemonDir string) []string {
	matches, _ := filepath.Glob(filepath.Join(daemonDir, "active_job.*"))
	return matches
}

func markerJobID(path string) string {
	base := filepath.Base(path)
	if i := strings.LastIndex(base, "."); i >= 0 {
		return base[i+1:]
	}
	return ""
}

func writeActiveMarker(daemonDir, jobID string) error {
	f, err := os.Create(filepath.Join(daemonDir, "active_job."+jobID))
	if err != nil {
		return err
	}
	return f.Close()
}

// reconcileActive checks every marker against the scheduler. Markers whose
// job is gone are removed; the id of the first still-active job is
// returned, empty when none is active.
func reconcileActive(daemonDir string) string {
	for _, marker := range activeMarkers(daemonDir) {
		id := markerJobID(marker)
		if id != "" && jobActive(id) {
			return id
		}
		os.Remove(marker)
	}
	return ""
}

package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Built-in fallbacks used when no defaults.json has been written yet.
const (
	defaultQueue       = "normal"
	defaultLifetime    = 8
	defaultResources   = "select=1:ncpus=24:mpiprocs=1:ompthreads=48:model=has"
	defaultEnvironment = "conda activate pencil"
	defaultWaitTime    = 1 // minutes between discovery cycles
	defaultBatchSize   = 1
)

var (
	defaultVarnames  = []string{"dx", "dy", "dz", "np", "rho", "rhop", "t", "ux", "uy", "uz", "x", "y", "z"}
	defaultPvarnames = []string{"vpx", "vpy", "vpz", "xp", "yp", "zp"}
)

// DaemonConfig is the persisted description of one named export job. The
// field lists are stored space-joined to keep the on-disk document stable.
type DaemonConfig struct {
	Name            string `json:"name"`
	Source          string `json:"source"`
	Target          string `json:"target"`
	Lifetime        int    `json:"lifetime"`
	Group           string `json:"group"`
	Resources       string `json:"resources"`
	Environment     string `json:"environment"`
	Queue           string `json:"queue"`
	Varnames        string `json:"varnames"`
	Pvarnames       string `json:"pvarnames"`
	Verbose         bool   `json:"verbose"`
	Analysis        string `json:"analysis"`
	AnalysisDir     string `json:"analysis_dir"`
	DeleteOriginals bool   `json:"delete_originals"`
	WaitTime        int    `json:"wait_time"`
	OneBatchAtATime bool   `json:"one_batch_at_a_time"`
	BatchSize       int    `json:"batch_size"`
}

type Defaults struct {
	Group       string `json:"group"`
	Resources   string `json:"resources"`
	Environment string `json:"environment"`
	Lifetime    int    `json:"lifetime"`
	Queue       string `json:"queue"`
}

func configDir() (string, error) {
	if dir := os.Getenv("SNAPCOLLATE_DIR"); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", err
		}
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(home, ".snapcollate")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return dir, nil
}

// expandLocalPath turns ~ and relative paths into absolute ones so that
// persisted configurations keep working regardless of the submit directory.
func expandLocalPath(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		path = filepath.Join(home, strings.TrimPrefix(path[1:], "/"))
	}
	return filepath.Abs(path)
}

func daemonDir(configDir, name string) string {
	return filepath.Join(configDir, name)
}

func daemonConfigPath(configDir, name string) string {
	return filepath.Join(daemonDir(configDir, name), "config.json")
}

func daemonScriptPath(configDir, name string) string {
	return filepath.Join(daemonDir(configDir, name), "run.csh")
}

func loadDaemonConfig(configDir, name string) (*DaemonConfig, error) {
	data, err := os.ReadFile(daemonConfigPath(configDir, name))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("no configuration file found for daemon %q", name)
		}
		return nil, err
	}
	var cfg DaemonConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse configuration for daemon %q: %w", name, err)
	}
	return &cfg, nil
}

func saveDaemonConfig(configDir string, cfg *DaemonConfig) error {
	dir := daemonDir(configDir, cfg.Name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "    ")
	if err != nil {
		return err
	}
	return os.WriteFile(daemonConfigPath(configDir, cfg.Name), append(data, '\n'), 0o644)
}

func defaultsPath(configDir string) string {
	return filepath.Join(configDir, "defaults.json")
}

// readDefaults returns the stored defaults, falling back to the built-in
// values when no defaults document exists or it cannot be parsed.
func readDefaults(configDir string) Defaults {
	fallback := Defaults{
		Resources:   defaultResources,
		Environment: defaultEnvironment,
		Lifetime:    defaultLifetime,
		Queue:       defaultQueue,
	}
	data, err := os.ReadFile(defaultsPath(configDir))
	if err != nil {
		return fallback
	}
	var d Defaults
	if err := json.Unmarshal(data, &d); err != nil {
		return fallback
	}
	return d
}

func writeDefaults(configDir string, d Defaults) error {
	data, err := json.MarshalIndent(d, "", "    ")
	if err != nil {
		return err
	}
	return os.WriteFile(defaultsPath(configDir), append(data, '\n'), 0o644)
}

func joinNames(names []string) string {
	return strings.Join(names, " ")
}

func splitNames(joined string) []string {
	return strings.Fields(joined)
}

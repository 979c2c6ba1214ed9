// Package config loads and validates village configuration.
//
// Configuration is read once per process and passed down by value;
// nothing in the tree mutates it after Load returns.
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/wrenhall/village/internal/errors"
)

// ConfigFileName is the file looked up inside the village directory.
const ConfigFileName = "config.yaml"

// Source identifies where a configuration value came from.
type Source string

const (
	SourceDefault Source = "default"
	SourceFile    Source = "file"
	SourceEnv     Source = "env"
	SourceFlag    Source = "flag"
)

// Config holds every knob the orchestrator reads.
type Config struct {
	// GitRoot is derived by probing the repository, never read from file.
	GitRoot string `yaml:"-"`

	VillageDir          string   `yaml:"village_dir"`
	WorktreesDir        string   `yaml:"worktrees_dir"`
	SessionName         string   `yaml:"session_name"`
	DefaultAgent        string   `yaml:"default_agent"`
	MaxWorkers          int      `yaml:"max_workers"`
	QueueTTLMinutes     int      `yaml:"queue_ttl_minutes"`
	SCMKind             string   `yaml:"scm_kind"`
	TaskSourceCmd       []string `yaml:"task_source_cmd"`
	WorkerCommand       string   `yaml:"worker_command"`
	ProtectedTasks      []string `yaml:"protected_tasks"`
	PaneCacheTTLSeconds int      `yaml:"pane_cache_ttl_seconds"`

	sources map[string]Source
}

// Defaults returns the built-in configuration rooted at the given repo.
func Defaults(gitRoot string) *Config {
	cfg := &Config{
		GitRoot:             gitRoot,
		VillageDir:          filepath.Join(gitRoot, ".village"),
		WorktreesDir:        filepath.Join(gitRoot, ".worktrees"),
		SessionName:         "village",
		DefaultAgent:        "worker",
		MaxWorkers:          4,
		QueueTTLMinutes:     30,
		SCMKind:             "git",
		TaskSourceCmd:       []string{"bd", "ready"},
		WorkerCommand:       "village-work",
		PaneCacheTTLSeconds: 5,
		sources:             make(map[string]Source),
	}
	for _, key := range allKeys {
		cfg.sources[key] = SourceDefault
	}
	return cfg
}

var allKeys = []string{
	"village_dir", "worktrees_dir", "session_name", "default_agent",
	"max_workers", "queue_ttl_minutes", "scm_kind", "task_source_cmd",
	"worker_command", "protected_tasks", "pane_cache_ttl_seconds",
}

// SourceOf reports where the value for key came from.
func (c *Config) SourceOf(key string) Source {
	if s, ok := c.sources[key]; ok {
		return s
	}
	return SourceDefault
}

func (c *Config) setSource(key string, src Source) {
	if c.sources == nil {
		c.sources = make(map[string]Source)
	}
	c.sources[key] = src
}

// LocksDir is where per-task lock files live.
func (c *Config) LocksDir() string {
	return filepath.Join(c.VillageDir, "locks")
}

// EventsPath is the append-only event log file.
func (c *Config) EventsPath() string {
	return filepath.Join(c.VillageDir, "events.log")
}

// ConfigPath is the expected location of the config file.
func (c *Config) ConfigPath() string {
	return filepath.Join(c.VillageDir, ConfigFileName)
}

// QueueTTL is the deduplication window. Zero disables deduplication.
func (c *Config) QueueTTL() time.Duration {
	return time.Duration(c.QueueTTLMinutes) * time.Minute
}

// PaneCacheTTL bounds how long a pane-set snapshot stays fresh.
func (c *Config) PaneCacheTTL() time.Duration {
	return time.Duration(c.PaneCacheTTLSeconds) * time.Second
}

// sessionNameForbidden are the characters rejected in session names so
// they can never smuggle shell syntax into tmux targets.
const sessionNameForbidden = "$`\"';&|<>(){}[]*?!~#\\ \t\n"

// Validate checks the loaded configuration for coherence.
func (c *Config) Validate() error {
	if c.MaxWorkers < 1 {
		return errors.ErrConfigValue("max_workers", fmt.Sprintf("must be at least 1, got %d", c.MaxWorkers))
	}
	if c.QueueTTLMinutes < 0 {
		return errors.ErrConfigValue("queue_ttl_minutes", fmt.Sprintf("must not be negative, got %d", c.QueueTTLMinutes))
	}
	if c.PaneCacheTTLSeconds < 0 {
		return errors.ErrConfigValue("pane_cache_ttl_seconds", fmt.Sprintf("must not be negative, got %d", c.PaneCacheTTLSeconds))
	}
	if c.SCMKind != "git" {
		return errors.ErrConfigValue("scm_kind", fmt.Sprintf("unsupported SCM %q; only git is supported", c.SCMKind))
	}
	if c.SessionName == "" {
		return errors.ErrConfigValue("session_name", "must not be empty")
	}
	if strings.ContainsAny(c.SessionName, sessionNameForbidden) {
		return errors.ErrConfigValue("session_name", fmt.Sprintf("%q contains characters tmux targets cannot carry safely", c.SessionName))
	}
	if c.DefaultAgent == "" {
		return errors.ErrConfigValue("default_agent", "must not be empty")
	}
	if c.WorkerCommand == "" {
		return errors.ErrConfigValue("worker_command", "must not be empty")
	}
	if len(c.TaskSourceCmd) == 0 {
		return errors.ErrConfigValue("task_source_cmd", "must name the ready-task command")
	}
	return nil
}

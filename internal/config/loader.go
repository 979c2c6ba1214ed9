package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Load builds the configuration for a repository.
// Load order (later sources override earlier):
//  1. Built-in defaults
//  2. Config file (<village_dir>/config.yaml, or cfgFile when non-empty)
//  3. Environment variables (VILLAGE_*)
//
// VILLAGE_DIR is applied before the file is located so the override can
// move the file itself.
func Load(gitRoot, cfgFile string) (*Config, error) {
	cfg := Defaults(gitRoot)

	if dir := os.Getenv("VILLAGE_DIR"); dir != "" {
		cfg.VillageDir = absAgainst(gitRoot, dir)
		cfg.setSource("village_dir", SourceEnv)
	}

	path := cfgFile
	if path == "" {
		path = cfg.ConfigPath()
	}
	if _, err := os.Stat(path); err == nil {
		if err := mergeFromFile(cfg, path); err != nil {
			return nil, err
		}
	} else if cfgFile != "" {
		// An explicitly named file must exist.
		return nil, fmt.Errorf("read config %s: %w", cfgFile, err)
	}

	ApplyEnvVars(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// mergeFromFile merges configuration from a YAML file into cfg,
// tracking which keys the file actually set.
func mergeFromFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}

	// Parse into a map first to learn which fields are present.
	var raw map[string]interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}

	var fileCfg Config
	if err := yaml.Unmarshal(data, &fileCfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}

	if _, ok := raw["village_dir"]; ok {
		cfg.VillageDir = absAgainst(cfg.GitRoot, fileCfg.VillageDir)
		cfg.setSource("village_dir", SourceFile)
	}
	if _, ok := raw["worktrees_dir"]; ok {
		cfg.WorktreesDir = absAgainst(cfg.GitRoot, fileCfg.WorktreesDir)
		cfg.setSource("worktrees_dir", SourceFile)
	}
	if _, ok := raw["session_name"]; ok {
		cfg.SessionName = fileCfg.SessionName
		cfg.setSource("session_name", SourceFile)
	}
	if _, ok := raw["default_agent"]; ok {
		cfg.DefaultAgent = fileCfg.DefaultAgent
		cfg.setSource("default_agent", SourceFile)
	}
	if _, ok := raw["max_workers"]; ok {
		cfg.MaxWorkers = fileCfg.MaxWorkers
		cfg.setSource("max_workers", SourceFile)
	}
	if _, ok := raw["queue_ttl_minutes"]; ok {
		cfg.QueueTTLMinutes = fileCfg.QueueTTLMinutes
		cfg.setSource("queue_ttl_minutes", SourceFile)
	}
	if _, ok := raw["scm_kind"]; ok {
		cfg.SCMKind = fileCfg.SCMKind
		cfg.setSource("scm_kind", SourceFile)
	}
	if _, ok := raw["task_source_cmd"]; ok {
		cfg.TaskSourceCmd = fileCfg.TaskSourceCmd
		cfg.setSource("task_source_cmd", SourceFile)
	}
	if _, ok := raw["worker_command"]; ok {
		cfg.WorkerCommand = fileCfg.WorkerCommand
		cfg.setSource("worker_command", SourceFile)
	}
	if _, ok := raw["protected_tasks"]; ok {
		cfg.ProtectedTasks = fileCfg.ProtectedTasks
		cfg.setSource("protected_tasks", SourceFile)
	}
	if _, ok := raw["pane_cache_ttl_seconds"]; ok {
		cfg.PaneCacheTTLSeconds = fileCfg.PaneCacheTTLSeconds
		cfg.setSource("pane_cache_ttl_seconds", SourceFile)
	}

	if unknown := unknownKeys(raw); len(unknown) > 0 {
		slog.Warn("ignoring unknown config keys", "path", path, "keys", unknown)
	}

	return nil
}

func unknownKeys(raw map[string]interface{}) []string {
	known := make(map[string]bool, len(allKeys))
	for _, k := range allKeys {
		known[k] = true
	}
	var unknown []string
	for k := range raw {
		if !known[k] {
			unknown = append(unknown, k)
		}
	}
	return unknown
}

// absAgainst resolves a possibly-relative path against the repo root.
func absAgainst(gitRoot, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(gitRoot, path)
}

package config

import (
	"log/slog"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

// EnvVarMapping defines the mapping between environment variables and
// config keys. VILLAGE_DIR is handled separately by Load because it moves
// the config file itself.
var EnvVarMapping = map[string]string{
	"VILLAGE_WORKTREES_DIR":  "worktrees_dir",
	"VILLAGE_SESSION":        "session_name",
	"VILLAGE_DEFAULT_AGENT":  "default_agent",
	"VILLAGE_MAX_WORKERS":    "max_workers",
	"VILLAGE_QUEUE_TTL":      "queue_ttl_minutes",
	"VILLAGE_SCM":            "scm_kind",
	"VILLAGE_TASK_SOURCE":    "task_source_cmd",
	"VILLAGE_WORKER_COMMAND": "worker_command",
	"VILLAGE_PANE_CACHE_TTL": "pane_cache_ttl_seconds",
}

// ApplyEnvVars applies environment variable overrides to cfg.
// Returns the list of keys that were overridden.
func ApplyEnvVars(cfg *Config) []string {
	v := viper.New()
	v.SetEnvPrefix("VILLAGE")
	v.AutomaticEnv()

	var overridden []string

	for envVar, key := range EnvVarMapping {
		value := v.GetString(strings.TrimPrefix(envVar, "VILLAGE_"))
		if value == "" {
			continue
		}

		if applyEnvVar(cfg, key, value) {
			cfg.setSource(key, SourceEnv)
			overridden = append(overridden, key)
		} else {
			slog.Warn("ignoring unparseable environment override", "var", envVar, "value", value)
		}
	}

	return overridden
}

// applyEnvVar applies a single override. Returns false when the value
// cannot be parsed for the key.
func applyEnvVar(cfg *Config, key, value string) bool {
	switch key {
	case "worktrees_dir":
		cfg.WorktreesDir = absAgainst(cfg.GitRoot, value)
	case "session_name":
		cfg.SessionName = value
	case "default_agent":
		cfg.DefaultAgent = value
	case "max_workers":
		n, err := strconv.Atoi(value)
		if err != nil {
			return false
		}
		cfg.MaxWorkers = n
	case "queue_ttl_minutes":
		n, err := strconv.Atoi(value)
		if err != nil {
			return false
		}
		cfg.QueueTTLMinutes = n
	case "scm_kind":
		cfg.SCMKind = value
	case "task_source_cmd":
		cfg.TaskSourceCmd = strings.Fields(value)
	case "worker_command":
		cfg.WorkerCommand = value
	case "pane_cache_ttl_seconds":
		n, err := strconv.Atoi(value)
		if err != nil {
			return false
		}
		cfg.PaneCacheTTLSeconds = n
	default:
		return false
	}
	return true
}

// Package config centralizes forge's runtime configuration. A single
// Config value is constructed at startup and threaded explicitly through
// the Session, Store, and EventLog constructors — retiring the
// process-wide singletons (verbose mode, non-interactive mode, single-line
// mode, global credential config) the REDESIGN FLAGS call out.
package config

import (
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// ProjectMode selects how the session resolves its verification root.
type ProjectMode string

const (
	ProjectModeCWD   ProjectMode = "cwd"
	ProjectModeTemp  ProjectMode = "temp"
	ProjectModeFixed ProjectMode = "fixed"
)

// Defaults mirror the source's fixed-by-configuration values (§6).
const (
	DefaultDirName            = ".claude"
	DefaultExecutorTimeout    = 5 * time.Minute
	DefaultGraceWindow        = 5 * time.Second
	DefaultOutputCaptureLimit = 10 * 1024 * 1024 // 10MB, per §4.4
	DefaultClarifyHistoryTTL  = 15 * time.Minute
	DefaultClarifyHistorySize = 256
	DefaultNamespace          = "default"
)

// Config is the single value plumbed through the core at construction time.
type Config struct {
	ProjectMode ProjectMode `yaml:"project_mode"`
	ProjectPath string      `yaml:"project_path"`
	DirName     string      `yaml:"dir_name"`

	ExecutorBinary  string        `yaml:"executor_binary"`
	ExecutionMode   string        `yaml:"execution_mode"` // "live" | "recovery-stub"
	RecoveryScenario string       `yaml:"recovery_scenario"`
	ExecutorTimeout time.Duration `yaml:"executor_timeout"`
	GraceWindow     time.Duration `yaml:"grace_window"`
	OutputCaptureLimit int        `yaml:"output_capture_limit"`

	ClarifyHistoryTTL  time.Duration `yaml:"clarify_history_ttl"`
	ClarifyHistorySize int           `yaml:"clarify_history_size"`

	SingleLineInput bool   `yaml:"single_line_input"`
	Verbose         bool   `yaml:"verbose"`
	Namespace       string `yaml:"namespace"`

	StateDir string `yaml:"state_dir"`

	RedactEnvKeys          []string `yaml:"redact_env_keys"`
	RedactMinTokenLength   int      `yaml:"redact_min_token_length"`
	RedactEntropyThreshold float64  `yaml:"redact_entropy_threshold"`
	RedactDisablePatternScan bool   `yaml:"redact_disable_pattern_scan"`
}

// Defaults returns the built-in baseline configuration (lowest priority
// layer — file, then environment, then explicit overrides apply on top).
func Defaults() Config {
	return Config{
		ProjectMode:        ProjectModeCWD,
		DirName:            DefaultDirName,
		ExecutorBinary:     "claude",
		ExecutionMode:      "live",
		ExecutorTimeout:    DefaultExecutorTimeout,
		GraceWindow:        DefaultGraceWindow,
		OutputCaptureLimit: DefaultOutputCaptureLimit,
		ClarifyHistoryTTL:  DefaultClarifyHistoryTTL,
		ClarifyHistorySize: DefaultClarifyHistorySize,
		Namespace:          DefaultNamespace,
		StateDir:           DefaultDirName,
		RedactEnvKeys:      []string{"ANTHROPIC_API_KEY", "OPENAI_API_KEY", "FORGE_API_KEY"},
	}
}

// LoadFile merges an optional YAML settings document on top of base.
func LoadFile(base Config, path string) (Config, error) {
	if strings.TrimSpace(path) == "" {
		return base, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return base, nil
		}
		return base, err
	}
	if err := yaml.Unmarshal(data, &base); err != nil {
		return base, err
	}
	return base, nil
}

// Env control names, settable per §6: execution mode, recovery scenario,
// hard-timeout override, grace window, single/multi-line input mode,
// verbose trace, and namespace selection.
const (
	EnvExecutionMode    = "FORGE_EXECUTION_MODE"
	EnvRecoveryScenario = "FORGE_RECOVERY_SCENARIO"
	EnvTimeoutOverride  = "FORGE_EXECUTOR_TIMEOUT"
	EnvGraceWindow      = "FORGE_GRACE_WINDOW"
	EnvSingleLineInput  = "FORGE_SINGLE_LINE_INPUT"
	EnvVerbose          = "FORGE_VERBOSE"
	EnvNamespace        = "FORGE_NAMESPACE"
)

// LoadEnv binds the environment-variable layer via viper, per the teacher's
// cmd/cobra_cli.go wiring of viper alongside cobra.
func LoadEnv(base Config) Config {
	v := viper.New()
	v.SetEnvPrefix("")
	v.AutomaticEnv()

	if mode := v.GetString(EnvExecutionMode); mode != "" {
		base.ExecutionMode = mode
	}
	if scenario := v.GetString(EnvRecoveryScenario); scenario != "" {
		base.RecoveryScenario = scenario
	}
	if raw := v.GetString(EnvTimeoutOverride); raw != "" {
		if d, err := time.ParseDuration(raw); err == nil {
			base.ExecutorTimeout = d
		}
	}
	if raw := v.GetString(EnvGraceWindow); raw != "" {
		if d, err := time.ParseDuration(raw); err == nil {
			base.GraceWindow = d
		}
	}
	if raw := v.GetString(EnvSingleLineInput); raw != "" {
		base.SingleLineInput = v.GetBool(EnvSingleLineInput)
	}
	if raw := v.GetString(EnvVerbose); raw != "" {
		base.Verbose = v.GetBool(EnvVerbose)
	}
	if ns := v.GetString(EnvNamespace); ns != "" {
		base.Namespace = ns
	}
	return base
}

// EffectiveTimeout returns the minimum of the configured per-task budget
// and an optional caller-supplied deadline, per §4.4's timeout design.
func (c Config) EffectiveTimeout(callerDeadline time.Duration) time.Duration {
	if callerDeadline <= 0 {
		return c.ExecutorTimeout
	}
	if c.ExecutorTimeout <= 0 || callerDeadline < c.ExecutorTimeout {
		return callerDeadline
	}
	return c.ExecutorTimeout
}

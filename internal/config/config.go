// Package config defines tmai's typed configuration record and its
// defaults. Parsing an on-disk configuration file is the job of an
// external collaborator; this package only owns the record shape, its
// default tunables, and the mapping from a supplied options record into
// the typed Config.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// AutoApproveMode dispatches the auto-approve engine.
type AutoApproveMode string

const (
	AutoApproveOff    AutoApproveMode = "off"
	AutoApproveRules  AutoApproveMode = "rules"
	AutoApproveAI     AutoApproveMode = "ai"
	AutoApproveHybrid AutoApproveMode = "hybrid"
)

// RuleFlags toggles the built-in allow categories of the rule engine.
type RuleFlags struct {
	AllowRead         bool
	AllowTests        bool
	AllowFetch        bool
	AllowGitReadonly  bool
	AllowFormatLint   bool
	AllowPatterns     []string
}

// AIJudgeConfig configures the optional AI judge backend.
type AIJudgeConfig struct {
	Model           string
	TimeoutSecs     int
	CooldownSecs    int
	CheckIntervalMs int
	MaxConcurrent   int
	AllowedTypes    []string // empty means all approval kinds are eligible
	CustomCommand   string   // external command invocation, argv[0]
}

// Config is the complete typed configuration record tmai's components
// read from. Every debounce/backoff window gets a named field and a
// default rather than being implicit in code.
type Config struct {
	// polling monitor
	PollInterval time.Duration

	// scanner
	CaptureLines int

	// capture-command execution (tmux list-panes / capture-pane invocations)
	CommandTimeout time.Duration
	RetryBackoff   []time.Duration

	// PTY proxy thresholds
	OutputSilenceToIdle   time.Duration
	ApprovalDebounce      time.Duration
	EchoGracePeriod       time.Duration
	IPCReconnectBackoffMax time.Duration

	// audit logger
	AuditEnabled             bool
	AuditMaxSizeBytes        int64
	AuditLogSourceDisagreement bool
	UserInputDebounce        time.Duration

	// exfil inspector
	ExfilEnabled            bool
	ExfilAdditionalCommands []string

	// approval-override semantics: whether a capture-observed approval
	// override always wins over a more recent IPC report
	ApprovalOverrideIgnoresRecency bool

	// auto-approve engine
	AutoApproveMode AutoApproveMode
	Rules           RuleFlags
	AIJudge         AIJudgeConfig

	// State directory / IPC
	StateDir string

	// HTTP/SSE presentation surface
	API APIConfig
}

// APIConfig configures the loopback HTTP/SSE presentation surface.
type APIConfig struct {
	Addr          string // empty disables the server
	BearerToken   string // supplied by the external config collaborator, never generated here
	ReadHeaderTimeout time.Duration
}

// DefaultConfig returns every tmai tunable at its default value.
func DefaultConfig() Config {
	return Config{
		PollInterval: 500 * time.Millisecond,
		CaptureLines: 200,

		CommandTimeout: 2 * time.Second,
		RetryBackoff:   []time.Duration{50 * time.Millisecond, 150 * time.Millisecond},

		OutputSilenceToIdle:    200 * time.Millisecond,
		ApprovalDebounce:       500 * time.Millisecond,
		EchoGracePeriod:        300 * time.Millisecond,
		IPCReconnectBackoffMax: 2 * time.Second,

		AuditEnabled:               true,
		AuditMaxSizeBytes:          10 * 1024 * 1024,
		AuditLogSourceDisagreement: false,
		UserInputDebounce:          5 * time.Second,

		ExfilEnabled: true,

		ApprovalOverrideIgnoresRecency: true,

		AutoApproveMode: AutoApproveOff,
		Rules:           RuleFlags{},
		AIJudge: AIJudgeConfig{
			TimeoutSecs:     30,
			CooldownSecs:    20,
			CheckIntervalMs: 500,
			MaxConcurrent:   2,
		},

		StateDir: defaultStateDir(),

		API: APIConfig{
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

func defaultStateDir() string {
	if runtimeDir := os.Getenv("XDG_RUNTIME_DIR"); runtimeDir != "" {
		return filepath.Join(runtimeDir, "tmai")
	}
	return filepath.Join(string(filepath.Separator)+"tmp", fmt.Sprintf("tmai-%d", os.Getuid()))
}

// Options is the fixed record the external configuration collaborator
// supplies. Every field is optional; zero values mean "leave the Config
// default in place".
type Options struct {
	PollIntervalMs int
	CaptureLines   int

	ExfilEnabled            *bool
	ExfilAdditionalCommands []string

	AuditEnabled             *bool
	AuditMaxSizeBytes        int64
	AuditLogSourceDisagreement *bool

	// AutoApproveMode is the current key; AutoApproveEnabled is the
	// deprecated boolean fallback kept for existing config files.
	AutoApproveMode     string
	AutoApproveEnabled  *bool

	AllowRead        *bool
	AllowTests       *bool
	AllowFetch       *bool
	AllowGitReadonly *bool
	AllowFormatLint  *bool
	AllowPatterns    []string

	AIModel           string
	AITimeoutSecs     int
	AICooldownSecs    int
	AICheckIntervalMs int
	AIMaxConcurrent   int
	AIAllowedTypes    []string
	AICustomCommand   string

	APIAddr        string
	APIBearerToken string
}

// FromOptions merges a supplied Options record onto DefaultConfig,
// rejecting the whole result on any malformed value rather than applying
// part of it.
func FromOptions(opts Options) (Config, error) {
	cfg := DefaultConfig()

	if opts.PollIntervalMs > 0 {
		cfg.PollInterval = time.Duration(opts.PollIntervalMs) * time.Millisecond
	} else if opts.PollIntervalMs < 0 {
		return Config{}, fmt.Errorf("config: poll_interval_ms must be >= 0, got %d", opts.PollIntervalMs)
	}
	if opts.CaptureLines > 0 {
		cfg.CaptureLines = opts.CaptureLines
	} else if opts.CaptureLines < 0 {
		return Config{}, fmt.Errorf("config: capture_lines must be >= 0, got %d", opts.CaptureLines)
	}

	if opts.ExfilEnabled != nil {
		cfg.ExfilEnabled = *opts.ExfilEnabled
	}
	cfg.ExfilAdditionalCommands = append([]string(nil), opts.ExfilAdditionalCommands...)

	if opts.AuditEnabled != nil {
		cfg.AuditEnabled = *opts.AuditEnabled
	}
	if opts.AuditMaxSizeBytes > 0 {
		cfg.AuditMaxSizeBytes = opts.AuditMaxSizeBytes
	} else if opts.AuditMaxSizeBytes < 0 {
		return Config{}, fmt.Errorf("config: audit.max_size_bytes must be >= 0, got %d", opts.AuditMaxSizeBytes)
	}
	if opts.AuditLogSourceDisagreement != nil {
		cfg.AuditLogSourceDisagreement = *opts.AuditLogSourceDisagreement
	}

	mode, err := resolveAutoApproveMode(opts)
	if err != nil {
		return Config{}, err
	}
	cfg.AutoApproveMode = mode

	cfg.Rules = RuleFlags{
		AllowRead:        boolOr(opts.AllowRead, cfg.Rules.AllowRead),
		AllowTests:       boolOr(opts.AllowTests, cfg.Rules.AllowTests),
		AllowFetch:       boolOr(opts.AllowFetch, cfg.Rules.AllowFetch),
		AllowGitReadonly: boolOr(opts.AllowGitReadonly, cfg.Rules.AllowGitReadonly),
		AllowFormatLint:  boolOr(opts.AllowFormatLint, cfg.Rules.AllowFormatLint),
		AllowPatterns:    append([]string(nil), opts.AllowPatterns...),
	}

	if opts.AIModel != "" {
		cfg.AIJudge.Model = opts.AIModel
	}
	if opts.AITimeoutSecs > 0 {
		cfg.AIJudge.TimeoutSecs = opts.AITimeoutSecs
	} else if opts.AITimeoutSecs < 0 {
		return Config{}, fmt.Errorf("config: auto_approve.timeout_secs must be >= 0, got %d", opts.AITimeoutSecs)
	}
	if opts.AICooldownSecs > 0 {
		cfg.AIJudge.CooldownSecs = opts.AICooldownSecs
	}
	if opts.AICheckIntervalMs > 0 {
		cfg.AIJudge.CheckIntervalMs = opts.AICheckIntervalMs
	}
	if opts.AIMaxConcurrent > 0 {
		cfg.AIJudge.MaxConcurrent = opts.AIMaxConcurrent
	} else if opts.AIMaxConcurrent < 0 {
		return Config{}, fmt.Errorf("config: auto_approve.max_concurrent must be >= 0, got %d", opts.AIMaxConcurrent)
	}
	cfg.AIJudge.AllowedTypes = append([]string(nil), opts.AIAllowedTypes...)
	if opts.AICustomCommand != "" {
		cfg.AIJudge.CustomCommand = opts.AICustomCommand
	}

	if opts.APIAddr != "" {
		cfg.API.Addr = opts.APIAddr
	}
	if opts.APIBearerToken != "" {
		cfg.API.BearerToken = opts.APIBearerToken
	}

	return cfg, nil
}

// resolveAutoApproveMode implements the legacy-fallback rule: if
// auto_approve.mode is absent, the deprecated auto_approve.enabled
// boolean maps to Ai (true) or Off (false).
func resolveAutoApproveMode(opts Options) (AutoApproveMode, error) {
	if opts.AutoApproveMode != "" {
		switch AutoApproveMode(opts.AutoApproveMode) {
		case AutoApproveOff, AutoApproveRules, AutoApproveAI, AutoApproveHybrid:
			return AutoApproveMode(opts.AutoApproveMode), nil
		default:
			return "", fmt.Errorf("config: auto_approve.mode %q is not one of off|rules|ai|hybrid", opts.AutoApproveMode)
		}
	}
	if opts.AutoApproveEnabled != nil {
		if *opts.AutoApproveEnabled {
			return AutoApproveAI, nil
		}
		return AutoApproveOff, nil
	}
	return AutoApproveOff, nil
}

func boolOr(p *bool, fallback bool) bool {
	if p == nil {
		return fallback
	}
	return *p
}

// StateDirForUID renders the /tmp/tmai-<uid> fallback path explicitly,
// used by tests and by the runner when XDG_RUNTIME_DIR is unset.
func StateDirForUID(uid int) string {
	return filepath.Join(string(filepath.Separator)+"tmp", "tmai-"+strconv.Itoa(uid))
}

// Package config loads and validates the sandbox executor's global
// configuration, grounded on the viper+cobra pattern used by the teacher's
// CLI config layer. Unlike that layer (which tolerates a missing file and
// falls back to defaults silently), this one rejects unknown keys and any
// structurally invalid value at startup, per design note §9's "dynamic
// option objects -> enumerated configuration table, reject unknown keys".
package config

import (
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Backend selects the execution backend for new sessions.
type Backend string

const (
	BackendSandbox Backend = "sandbox"
	BackendLocal   Backend = "local"
)

// PortRange is an inclusive [Low, High] bound for a port pool.
type PortRange struct {
	Low  int `mapstructure:"low"`
	High int `mapstructure:"high"`
}

func (r PortRange) Validate(name string) error {
	if r.Low <= 0 || r.High <= 0 {
		return fmt.Errorf("%s: ports must be positive (got %d-%d)", name, r.Low, r.High)
	}
	if r.Low > r.High {
		return fmt.Errorf("%s: low (%d) must not exceed high (%d)", name, r.Low, r.High)
	}
	return nil
}

// Config is the immutable, process-wide configuration enumerated in
// SPEC_FULL.md / spec.md §6. It is loaded once at startup and passed
// explicitly to every component that needs it; nothing reads viper's
// global state after Load returns.
type Config struct {
	Image string `mapstructure:"image"`

	APIPortRange  PortRange `mapstructure:"api_port_range"`
	CodePortRange PortRange `mapstructure:"code_port_range"`

	RequestTimeout     time.Duration `mapstructure:"request_timeout"`
	StreamTimeout      time.Duration `mapstructure:"stream_timeout"`
	HealthCheckTimeout time.Duration `mapstructure:"health_check_timeout"`
	IdleTimeout        time.Duration `mapstructure:"idle_timeout"`
	SweepInterval      time.Duration `mapstructure:"sweep_interval"`

	MemLimitBytes int64  `mapstructure:"mem_limit_bytes"`
	CPULimit      float64 `mapstructure:"cpu_limit"`

	AgentKey     string `mapstructure:"agent_key"`
	AgentBaseURL string `mapstructure:"agent_base_url"`
	AgentModel   string `mapstructure:"agent_model"`

	HostLoopback string `mapstructure:"host_loopback"`
	WorkspaceRoot string `mapstructure:"workspace_root"`
	TemplateDir   string `mapstructure:"template_dir"`

	Backend Backend `mapstructure:"backend"`

	DegradedFailureThreshold int `mapstructure:"degraded_failure_threshold"`

	GitHubToken string `mapstructure:"github_token"`

	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`
}

// BindFlags registers every configuration key as a pflag on fs and binds it
// into v, mirroring the teacher's cobra-flag/viper binding convention
// (flag > env > file > default).
func BindFlags(fs *pflag.FlagSet, v *viper.Viper) {
	fs.String("image", "", "container image reference for sandboxed sessions")
	fs.Int("api-port-low", 10001, "low bound of the agent API port pool")
	fs.Int("api-port-high", 10100, "high bound of the agent API port pool")
	fs.Int("code-port-low", 20001, "low bound of the code-service port pool")
	fs.Int("code-port-high", 20100, "high bound of the code-service port pool")
	fs.Duration("request-timeout", 0, "per non-streaming RPC timeout")
	fs.Duration("stream-timeout", 0, "per chat turn timeout")
	fs.Duration("health-check-timeout", 0, "per provisioning health-probe timeout")
	fs.Duration("idle-timeout", 0, "lifecycle eviction threshold")
	fs.Duration("sweep-interval", 0, "supervisor pass period")
	fs.Int64("mem-limit-bytes", 0, "per-container memory ceiling in bytes")
	fs.Float64("cpu-limit", 0, "per-container CPU quota (cores)")
	fs.String("agent-key", "", "agent credential passed into containers")
	fs.String("agent-base-url", "", "agent upstream base URL override")
	fs.String("agent-model", "", "agent model identifier")
	fs.String("host-loopback", "", "host-loopback address for container callbacks")
	fs.String("workspace-root", "", "host base path for session workspaces")
	fs.String("template-dir", "", "read-only agent configuration template directory")
	fs.String("backend", "sandbox", "execution backend: sandbox or local")
	fs.Int("degraded-failure-threshold", 3, "consecutive health failures before stopping a container")
	fs.String("github-token", "", "token for the outbound menu-registration sidechannel")
	fs.String("log-level", "info", "log level: debug, info, progress, minimal, warn, error")
	fs.String("log-format", "console", "log format: console or json")

	_ = v.BindPFlag("image", fs.Lookup("image"))
	_ = v.BindPFlag("api_port_range.low", fs.Lookup("api-port-low"))
	_ = v.BindPFlag("api_port_range.high", fs.Lookup("api-port-high"))
	_ = v.BindPFlag("code_port_range.low", fs.Lookup("code-port-low"))
	_ = v.BindPFlag("code_port_range.high", fs.Lookup("code-port-high"))
	_ = v.BindPFlag("request_timeout", fs.Lookup("request-timeout"))
	_ = v.BindPFlag("stream_timeout", fs.Lookup("stream-timeout"))
	_ = v.BindPFlag("health_check_timeout", fs.Lookup("health-check-timeout"))
	_ = v.BindPFlag("idle_timeout", fs.Lookup("idle-timeout"))
	_ = v.BindPFlag("sweep_interval", fs.Lookup("sweep-interval"))
	_ = v.BindPFlag("mem_limit_bytes", fs.Lookup("mem-limit-bytes"))
	_ = v.BindPFlag("cpu_limit", fs.Lookup("cpu-limit"))
	_ = v.BindPFlag("agent_key", fs.Lookup("agent-key"))
	_ = v.BindPFlag("agent_base_url", fs.Lookup("agent-base-url"))
	_ = v.BindPFlag("agent_model", fs.Lookup("agent-model"))
	_ = v.BindPFlag("host_loopback", fs.Lookup("host-loopback"))
	_ = v.BindPFlag("workspace_root", fs.Lookup("workspace-root"))
	_ = v.BindPFlag("template_dir", fs.Lookup("template-dir"))
	_ = v.BindPFlag("backend", fs.Lookup("backend"))
	_ = v.BindPFlag("degraded_failure_threshold", fs.Lookup("degraded-failure-threshold"))
	_ = v.BindPFlag("github_token", fs.Lookup("github-token"))
	_ = v.BindPFlag("log_level", fs.Lookup("log-level"))
	_ = v.BindPFlag("log_format", fs.Lookup("log-format"))
}

// Load reads configuration from an optional file, environment variables
// prefixed SANDBOXD_, and flags already bound via BindFlags, in that
// ascending priority, then validates the result. An unset or malformed
// required key is a ConfigInvalid-class failure, fatal at startup per
// spec.md §7.
func Load(v *viper.Viper, configFile string) (*Config, error) {
	v.SetEnvPrefix("sandboxd")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", configFile, err)
		}
		for _, key := range v.AllKeys() {
			if !knownKeys[key] {
				return nil, fmt.Errorf("unknown configuration key %q in %s", key, configFile)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// knownKeys enumerates every accepted top-level/nested key so a config file
// with a typo or a dropped feature's leftover key fails fast instead of
// being silently ignored.
var knownKeys = map[string]bool{
	"image": true, "api_port_range.low": true, "api_port_range.high": true,
	"code_port_range.low": true, "code_port_range.high": true,
	"request_timeout": true, "stream_timeout": true, "health_check_timeout": true,
	"idle_timeout": true, "sweep_interval": true, "mem_limit_bytes": true, "cpu_limit": true,
	"agent_key": true, "agent_base_url": true, "agent_model": true,
	"host_loopback": true, "workspace_root": true, "template_dir": true,
	"backend": true, "degraded_failure_threshold": true, "github_token": true,
	"log_level": true, "log_format": true,
}

// Validate enforces spec.md §7's ConfigInvalid-is-fatal rule.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Image) == "" {
		return fmt.Errorf("config: image is required")
	}
	if err := c.APIPortRange.Validate("api_port_range"); err != nil {
		return err
	}
	if err := c.CodePortRange.Validate("code_port_range"); err != nil {
		return err
	}
	if overlaps(c.APIPortRange, c.CodePortRange) {
		return fmt.Errorf("config: api_port_range and code_port_range must be disjoint")
	}
	if strings.TrimSpace(c.WorkspaceRoot) == "" {
		return fmt.Errorf("config: workspace_root is required")
	}
	if strings.TrimSpace(c.HostLoopback) == "" {
		return fmt.Errorf("config: host_loopback is required (never auto-inferred, see design note §9)")
	}
	if host, _, err := net.SplitHostPort(c.HostLoopback); err != nil || strings.TrimSpace(host) == "" {
		return fmt.Errorf("config: host_loopback must be host:port, got %q", c.HostLoopback)
	}
	switch c.Backend {
	case BackendSandbox, BackendLocal:
	default:
		return fmt.Errorf("config: backend must be %q or %q, got %q", BackendSandbox, BackendLocal, c.Backend)
	}
	if c.Backend == BackendSandbox && strings.TrimSpace(c.Image) == "" {
		return fmt.Errorf("config: image is required for backend=sandbox")
	}
	if c.DegradedFailureThreshold <= 0 {
		return fmt.Errorf("config: degraded_failure_threshold must be positive")
	}
	if c.RequestTimeout <= 0 || c.StreamTimeout <= 0 || c.HealthCheckTimeout <= 0 {
		return fmt.Errorf("config: request_timeout, stream_timeout, and health_check_timeout must be positive")
	}
	if c.IdleTimeout <= 0 || c.SweepInterval <= 0 {
		return fmt.Errorf("config: idle_timeout and sweep_interval must be positive")
	}
	return nil
}

func overlaps(a, b PortRange) bool {
	return a.Low <= b.High && b.Low <= a.High
}

// Package preflight runs startup checks before cmd/sandboxd accepts
// traffic: the host tooling a sandbox-backend session needs (docker, git),
// credentials the agent and GitHub sidechannel need, the configured
// workspace root, and the configured container image. Grounded on the
// teacher's pkg/preflight package (Check/Checker/CheckResult shape,
// LevelError/LevelWarn/LevelInfo severities), narrowed to the checks this
// service's config.Config actually names.
package preflight

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/sandboxrun/sandboxd/pkg/log"
)

// CheckLevel represents the severity level of a preflight check.
type CheckLevel int

const (
	LevelError CheckLevel = iota
	LevelWarn
	LevelInfo
)

// CheckResult represents the result of a single preflight check.
type CheckResult struct {
	Name    string
	Level   CheckLevel
	Message string
	Error   error
}

// Check represents a single preflight check.
type Check interface {
	Name() string
	Run(ctx context.Context) CheckResult
}

// Checker runs a collection of preflight checks.
type Checker struct {
	checks  []Check
	skipped bool
	quiet   bool
}

// Config configures the preflight checker from the service's own
// config.Config, rather than from a standalone CLI flag set — every field
// here corresponds to something config.Config already validated at load
// time.
type Config struct {
	Skip  bool
	Quiet bool

	RequireDocker bool
	RequireGit    bool
	// Image, when set, is checked with `docker image inspect` so a
	// missing container image fails fast instead of on the first
	// provisioned session.
	Image string

	RequireGitHubToken bool
	// RequireAgentKey checks for an Anthropic credential the agent
	// client authenticates with (config.AgentKey falls back to these
	// same environment variables when unset).
	RequireAgentKey bool

	WorkspacePath string
}

// NewChecker creates a new preflight checker with the given configuration.
func NewChecker(cfg Config) *Checker {
	c := &Checker{
		skipped: cfg.Skip,
		quiet:   cfg.Quiet,
	}

	if cfg.RequireDocker {
		c.checks = append(c.checks, &DockerCheck{})
	}
	if cfg.Image != "" {
		c.checks = append(c.checks, &ImageCheck{Image: cfg.Image})
	}
	if cfg.RequireGit {
		c.checks = append(c.checks, &GitCheck{})
	}
	if cfg.RequireGitHubToken {
		c.checks = append(c.checks, &GitHubTokenCheck{})
	}
	if cfg.RequireAgentKey {
		c.checks = append(c.checks, &AgentKeyCheck{})
	}
	if cfg.WorkspacePath != "" {
		c.checks = append(c.checks, &WorkspaceCheck{Path: cfg.WorkspacePath})
	}

	return c
}

// Run executes all registered checks and returns an error if any critical
// checks fail.
func (c *Checker) Run(ctx context.Context) error {
	if c.skipped {
		log.Info("preflight checks skipped")
		return nil
	}

	log.Progress("running preflight checks")

	var errs []error
	var warnings []string

	for _, check := range c.checks {
		result := check.Run(ctx)

		switch result.Level {
		case LevelError:
			log.Error("preflight check failed", "check", result.Name, "message", result.Message)
			if result.Error != nil {
				errs = append(errs, result.Error)
			} else {
				errs = append(errs, fmt.Errorf("%s: %s", result.Name, result.Message))
			}
		case LevelWarn:
			log.Warn("preflight check warning", "check", result.Name, "message", result.Message)
			warnings = append(warnings, fmt.Sprintf("%s: %s", result.Name, result.Message))
		case LevelInfo:
			if !c.quiet {
				log.Info("preflight check", "check", result.Name, "message", result.Message)
			}
		}
	}

	if len(warnings) > 0 {
		log.Info("preflight warnings", "count", len(warnings))
	}

	if len(errs) > 0 {
		var errMsgs []string
		for _, err := range errs {
			errMsgs = append(errMsgs, err.Error())
		}
		return fmt.Errorf("preflight checks failed:\n  - %s", strings.Join(errMsgs, "\n  - "))
	}

	log.Progress("preflight checks passed")
	return nil
}

// DockerCheck checks if docker is installed and the daemon is reachable.
type DockerCheck struct{}

func (c *DockerCheck) Name() string { return "docker" }

func (c *DockerCheck) Run(ctx context.Context) CheckResult {
	if _, err := exec.LookPath("docker"); err != nil {
		return CheckResult{
			Name:    c.Name(),
			Level:   LevelError,
			Message: "docker command not found; the sandbox backend requires a reachable docker daemon",
			Error:   err,
		}
	}

	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	cmd := exec.CommandContext(checkCtx, "docker", "info")
	output, err := cmd.CombinedOutput()
	if err != nil {
		return CheckResult{
			Name:    c.Name(),
			Level:   LevelError,
			Message: "docker daemon is not running or not accessible",
			Error:   fmt.Errorf("docker info failed: %w: %s", err, string(output)),
		}
	}

	return CheckResult{Name: c.Name(), Level: LevelInfo, Message: "docker is available and daemon is running"}
}

// ImageCheck checks that the configured container image is present in the
// local docker image store, so a misconfigured config.Image fails at
// startup rather than on the first GetOrCreate's provisioning attempt.
type ImageCheck struct {
	Image string
}

func (c *ImageCheck) Name() string { return "container-image" }

func (c *ImageCheck) Run(ctx context.Context) CheckResult {
	if c.Image == "" {
		return CheckResult{Name: c.Name(), Level: LevelError, Message: "no container image configured"}
	}

	checkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	cmd := exec.CommandContext(checkCtx, "docker", "image", "inspect", c.Image)
	if output, err := cmd.CombinedOutput(); err != nil {
		return CheckResult{
			Name:    c.Name(),
			Level:   LevelWarn,
			Message: fmt.Sprintf("image %s not present locally; it will be pulled on first use", c.Image),
			Error:   fmt.Errorf("docker image inspect %s: %w: %s", c.Image, err, string(output)),
		}
	}

	return CheckResult{Name: c.Name(), Level: LevelInfo, Message: fmt.Sprintf("image %s is present locally", c.Image)}
}

// GitCheck checks if git is installed.
type GitCheck struct{}

func (c *GitCheck) Name() string { return "git" }

func (c *GitCheck) Run(ctx context.Context) CheckResult {
	if _, err := exec.LookPath("git"); err != nil {
		return CheckResult{
			Name:    c.Name(),
			Level:   LevelError,
			Message: "git command not found; the workspace provisioner shells out to git",
			Error:   err,
		}
	}

	cmd := exec.Command("git", "--version")
	output, err := cmd.CombinedOutput()
	if err != nil {
		return CheckResult{Name: c.Name(), Level: LevelWarn, Message: "git is installed but may not be working correctly", Error: err}
	}

	return CheckResult{Name: c.Name(), Level: LevelInfo, Message: fmt.Sprintf("git is available (%s)", strings.TrimSpace(string(output)))}
}

// GitHubTokenCheck checks if a GitHub token is available for the
// githubclient sidechannel.
type GitHubTokenCheck struct{}

func (c *GitHubTokenCheck) Name() string { return "github-token" }

func (c *GitHubTokenCheck) Run(ctx context.Context) CheckResult {
	token := os.Getenv("GITHUB_TOKEN")
	if token == "" {
		token = os.Getenv("GH_TOKEN")
	}

	if token == "" {
		if _, err := exec.LookPath("gh"); err == nil {
			cmd := exec.Command("gh", "auth", "token")
			if output, err := cmd.Output(); err == nil {
				if t := strings.TrimSpace(string(output)); t != "" {
					return CheckResult{Name: c.Name(), Level: LevelInfo, Message: "GitHub token available (from gh auth token)"}
				}
			}
		}
	}

	if token == "" {
		return CheckResult{
			Name:    c.Name(),
			Level:   LevelError,
			Message: "GitHub token not found; set GITHUB_TOKEN or run 'gh auth login'",
			Error:   fmt.Errorf("no GitHub token found"),
		}
	}

	return CheckResult{Name: c.Name(), Level: LevelInfo, Message: "GitHub token available (from environment)"}
}

// AgentKeyCheck checks if an Anthropic credential is available for the
// agent client's Authorization header.
type AgentKeyCheck struct{}

func (c *AgentKeyCheck) Name() string { return "agent-key" }

func (c *AgentKeyCheck) Run(ctx context.Context) CheckResult {
	authToken := os.Getenv("ANTHROPIC_AUTH_TOKEN")
	apiKey := os.Getenv("ANTHROPIC_API_KEY")

	switch {
	case authToken != "":
		return CheckResult{Name: c.Name(), Level: LevelInfo, Message: "agent credential available (ANTHROPIC_AUTH_TOKEN)"}
	case apiKey != "":
		return CheckResult{Name: c.Name(), Level: LevelWarn, Message: "agent credential available (ANTHROPIC_API_KEY; consider migrating to ANTHROPIC_AUTH_TOKEN)"}
	default:
		return CheckResult{
			Name:    c.Name(),
			Level:   LevelError,
			Message: "agent credential not found; set ANTHROPIC_AUTH_TOKEN",
			Error:   fmt.Errorf("no agent credential found"),
		}
	}
}

// WorkspaceCheck checks if config.WorkspaceRoot is accessible.
type WorkspaceCheck struct {
	Path string
}

func (c *WorkspaceCheck) Name() string { return "workspace" }

func (c *WorkspaceCheck) Run(ctx context.Context) CheckResult {
	if c.Path == "" {
		return CheckResult{Name: c.Name(), Level: LevelInfo, Message: "no workspace root specified"}
	}

	absPath, err := filepath.Abs(c.Path)
	if err != nil {
		return CheckResult{Name: c.Name(), Level: LevelError, Message: fmt.Sprintf("failed to resolve workspace root: %s", c.Path), Error: err}
	}

	info, err := os.Stat(absPath)
	if err != nil {
		if os.IsNotExist(err) {
			return CheckResult{Name: c.Name(), Level: LevelError, Message: fmt.Sprintf("workspace root does not exist: %s", absPath), Error: err}
		}
		return CheckResult{Name: c.Name(), Level: LevelError, Message: fmt.Sprintf("cannot access workspace root: %s", absPath), Error: err}
	}

	if !info.IsDir() {
		return CheckResult{Name: c.Name(), Level: LevelError, Message: fmt.Sprintf("workspace root is not a directory: %s", absPath), Error: fmt.Errorf("not a directory")}
	}

	testFile := filepath.Join(absPath, fmt.Sprintf(".sandboxd-write-test-%d", os.Getpid()))
	f, err := os.Create(testFile)
	if err != nil {
		return CheckResult{Name: c.Name(), Level: LevelError, Message: fmt.Sprintf("workspace root is not writable: %s", absPath), Error: err}
	}
	f.Close()
	_ = os.Remove(testFile)

	return CheckResult{Name: c.Name(), Level: LevelInfo, Message: fmt.Sprintf("workspace root is accessible and writable: %s", absPath)}
}

// NetworkCheck performs a best-effort network connectivity check, since a
// sandbox session's container may need outbound access to clone repos and
// reach the agent's model backend.
type NetworkCheck struct {
	URL string
}

func (c *NetworkCheck) Name() string { return "network" }

func (c *NetworkCheck) Run(ctx context.Context) CheckResult {
	url := c.URL
	if url == "" {
		url = "https://api.anthropic.com/"
	}

	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(checkCtx, http.MethodHead, url, nil)
	if err != nil {
		return CheckResult{Name: c.Name(), Level: LevelWarn, Message: "failed to create network check request", Error: err}
	}

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return CheckResult{Name: c.Name(), Level: LevelWarn, Message: "network may be unavailable or restricted", Error: err}
	}
	defer resp.Body.Close()
	if _, err := io.Copy(io.Discard, resp.Body); err != nil {
		log.Debug("failed to drain response body", "error", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 500 {
		return CheckResult{Name: c.Name(), Level: LevelWarn, Message: fmt.Sprintf("network check returned unexpected status: %d", resp.StatusCode), Error: fmt.Errorf("HTTP %d", resp.StatusCode)}
	}

	return CheckResult{Name: c.Name(), Level: LevelInfo, Message: "network connectivity appears functional"}
}

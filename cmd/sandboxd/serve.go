package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/sandboxrun/sandboxd/pkg/chatproxy"
	"github.com/sandboxrun/sandboxd/pkg/config"
	"github.com/sandboxrun/sandboxd/pkg/githubclient"
	"github.com/sandboxrun/sandboxd/pkg/httpapi"
	"github.com/sandboxrun/sandboxd/pkg/log"
	"github.com/sandboxrun/sandboxd/pkg/portpool"
	"github.com/sandboxrun/sandboxd/pkg/preflight"
	"github.com/sandboxrun/sandboxd/pkg/registry"
	"github.com/sandboxrun/sandboxd/pkg/runtime/docker"
	"github.com/sandboxrun/sandboxd/pkg/runtime/local"
	"github.com/sandboxrun/sandboxd/pkg/sessionrepo"
	"github.com/sandboxrun/sandboxd/pkg/supervisor"
	"github.com/sandboxrun/sandboxd/pkg/workspace"
)

var (
	serveConfigFile string
	servePreflight  bool
	serveAddr       string
)

// serveCmd is the process entrypoint, grounded on the teacher's
// cmd/holon/serve.go serveCmd: bind flags, init logging, run preflight
// checks, construct the wired service, then block until shutdown.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the sandbox session executor",
	Long: `Run the sandbox session executor.

Provisions per-session sandboxes (or, with backend=local, an in-process
agent client), proxies chat turns to them, and evicts idle or degraded
sessions on a periodic sweep.`,
	RunE: runServe,
}

// serveViper is bound to serveCmd's flags once at registration time; Load
// reads flag/env/file values through it in runServe.
var serveViper = viper.New()

func init() {
	config.BindFlags(serveCmd.Flags(), serveViper)
	serveCmd.Flags().StringVar(&serveConfigFile, "config", "", "path to a YAML configuration file")
	serveCmd.Flags().BoolVar(&servePreflight, "preflight", true, "run startup preflight checks")
	serveCmd.Flags().StringVar(&serveAddr, "addr", ":8090", "address the HTTP API listens on")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(serveViper, serveConfigFile)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logCfg := log.Config{Level: log.LogLevel(cfg.LogLevel), Format: cfg.LogFormat}
	if err := log.Init(logCfg); err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	defer log.Sync()

	checker := preflight.NewChecker(preflight.Config{
		Skip:               !servePreflight,
		RequireDocker:      cfg.Backend == config.BackendSandbox,
		RequireGit:         cfg.Backend == config.BackendSandbox,
		Image:              cfg.Image,
		RequireGitHubToken: cfg.GitHubToken != "",
		RequireAgentKey:    true,
		WorkspacePath:      cfg.WorkspaceRoot,
	})
	if err := checker.Run(cmd.Context()); err != nil {
		return fmt.Errorf("preflight checks failed: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := registry.New(nil)
	sessions := sessionrepo.NewInMemory()

	var notify httpapi.NotifyFunc
	if cfg.GitHubToken != "" {
		gh := githubclient.New(cfg.GitHubToken)
		notify = gh.NotifySessionReady
	}

	var chat chatproxy.Backend
	var create httpapi.CreateFunc
	var destroy httpapi.DestroyFunc
	var prober supervisor.HealthProber
	var teardown registry.Teardown

	switch cfg.Backend {
	case config.BackendLocal:
		mgr := local.New(reg, cfg.AgentBaseURL, cfg.AgentKey, cfg.RequestTimeout, cfg.StreamTimeout)
		chat = mgr
		teardown = mgr.Teardown()
		prober = func(ctx context.Context, rec *registry.Record) (bool, string) {
			return true, "local backend has no container to probe"
		}
		create = func(ctx context.Context, sessionID, name, repoURL, branch string) (*registry.Record, error) {
			if err := mgr.Ensure(ctx, sessionID); err != nil {
				return nil, err
			}
			return reg.Lookup(sessionID), nil
		}

	default:
		dm, err := docker.New(cfg.Image, cfg.MemLimitBytes, cfg.CPULimit, cfg.HealthCheckTimeout)
		if err != nil {
			return fmt.Errorf("constructing container manager: %w", err)
		}
		if err := dm.CheckImagePresent(ctx); err != nil {
			return fmt.Errorf("checking configured image: %w", err)
		}

		ports, err := portpool.NewPair(cfg.APIPortRange.Low, cfg.APIPortRange.High, cfg.CodePortRange.Low, cfg.CodePortRange.High, cfg.HealthCheckTimeout)
		if err != nil {
			return fmt.Errorf("constructing port pools: %w", err)
		}

		ws := workspace.New(cfg.WorkspaceRoot, cfg.TemplateDir)
		dockerTeardown := docker.Teardown{Manager: dm, Ports: ports, Grace: cfg.HealthCheckTimeout}
		teardown = dockerTeardown

		proxy := chatproxy.New(reg, dockerTeardown, cfg.AgentKey, cfg.RequestTimeout, cfg.StreamTimeout)
		chat = proxy

		prober = func(ctx context.Context, rec *registry.Record) (bool, string) {
			if rec.Backend != registry.BackendSandbox {
				return true, ""
			}
			status, err := dm.Health(ctx, docker.Handle{ContainerID: rec.ContainerID, APIPort: rec.APIPort, CodePort: rec.CodePort}, cfg.AgentKey)
			if err != nil {
				return false, err.Error()
			}
			return status.Healthy, status.Detail
		}

		create = func(ctx context.Context, sessionID, name, repoURL, branch string) (*registry.Record, error) {
			spec := registry.Spec{Name: name, Backend: registry.BackendSandbox, RepoURL: repoURL, Branch: branch}
			rec, _, err := reg.GetOrCreate(ctx, sessionID, spec, sandboxProvisioner(ws, dm, ports, cfg))
			return rec, err
		}

		destroy = func(ctx context.Context, rec *registry.Record) error {
			return ws.Destroy(rec.WorkspacePath)
		}
	}

	sup := supervisor.New(reg, teardown, prober, cfg.SweepInterval, cfg.IdleTimeout, cfg.DegradedFailureThreshold)
	go sup.Run(ctx)

	server := httpapi.NewServer(serveAddr, reg, chat, create, destroy, notify, sessions)
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("httpapi server: %w", err)
	}
	return nil
}

// sandboxProvisioner builds the registry.Provisioner the sandbox backend's
// GetOrCreate call drives: workspace creation, optional clone, port lease,
// then container provisioning — in that order, unwinding every prior step
// on failure so a session never lands in the live map half-provisioned.
func sandboxProvisioner(ws *workspace.Provisioner, dm *docker.Manager, ports *portpool.Pair, cfg *config.Config) registry.Provisioner {
	return func(ctx context.Context, rec *registry.Record) error {
		dir, err := ws.Create(rec.ID)
		if err != nil {
			return fmt.Errorf("creating workspace: %w", err)
		}
		rec.WorkspacePath = dir

		if rec.RepoURL != "" {
			cred := workspace.Credential{Token: cfg.GitHubToken}
			if err := ws.Clone(ctx, rec.ID, dir, rec.RepoURL, rec.Branch, cred); err != nil {
				return fmt.Errorf("cloning repository: %w", err)
			}
		}

		apiPort, codePort, err := ports.LeaseBoth()
		if err != nil {
			_ = ws.Destroy(dir)
			return fmt.Errorf("leasing ports: %w", err)
		}
		current := docker.PortBindings{APIPort: apiPort, CodePort: codePort}

		handle, err := dm.Provision(ctx, docker.ProvisionRequest{
			SessionID:    rec.ID,
			WorkspaceDir: dir,
			Ports:        current,
			AgentKey:     cfg.AgentKey,
			AgentModel:   cfg.AgentModel,
			// Port collisions discovered at container start are released
			// and re-leased here, up to three times (spec.md §4.4),
			// rather than retried with the same ports.
			ReleasePorts: func(p docker.PortBindings) {
				ports.ReleaseBoth(p.APIPort, p.CodePort)
			},
			LeasePorts: func() (docker.PortBindings, error) {
				a, c, err := ports.LeaseBoth()
				if err != nil {
					return docker.PortBindings{}, err
				}
				current = docker.PortBindings{APIPort: a, CodePort: c}
				return current, nil
			},
		})
		if err != nil {
			ports.ReleaseBoth(current.APIPort, current.CodePort)
			_ = ws.Destroy(dir)
			return fmt.Errorf("provisioning container: %w", err)
		}

		rec.ContainerID = handle.ContainerID
		rec.APIPort = handle.APIPort
		rec.CodePort = handle.CodePort
		return nil
	}
}

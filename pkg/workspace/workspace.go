// Package workspace implements the Workspace Provisioner (spec.md §4.3):
// creation of the per-session directory, template materialization, git
// clone + feature-branch checkout, and destruction on explicit session
// deletion. Grounded on the teacher's pkg/workspace helpers (copyDir,
// MkdirTempOutsideWorkspace, the snapshot preparer's minimal-git-init
// pattern) and pkg/git's author resolution, generalized from the teacher's
// pluggable strategy registry (git-clone / snapshot / existing preparers for
// a one-shot build input) down to the three durable, reattach-friendly
// operations this spec defines: create, clone, destroy.
package workspace

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sandboxrun/sandboxd/pkg/git"
	"github.com/sandboxrun/sandboxd/pkg/pathutil"
	"github.com/sandboxrun/sandboxd/pkg/redact"
)

// Manifest records how a workspace was prepared, written alongside the
// materialized contents so the directory is self-describing on reattach.
type Manifest struct {
	SessionID string    `json:"session_id"`
	CreatedAt time.Time `json:"created_at"`
	Cloned    bool      `json:"cloned"`
	RepoURL   string    `json:"repo_url,omitempty"`
	Branch    string    `json:"branch,omitempty"`
	HeadSHA   string    `json:"head_sha,omitempty"`
}

const manifestFileName = "workspace.manifest.json"

func writeManifest(dir string, m Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal workspace manifest: %w", err)
	}
	return os.WriteFile(filepath.Join(dir, manifestFileName), data, 0644)
}

// ReadManifest reads a previously written manifest, used when reattaching
// to a workspace retained across idle eviction.
func ReadManifest(dir string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, manifestFileName))
	if err != nil {
		return nil, fmt.Errorf("read workspace manifest: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse workspace manifest: %w", err)
	}
	return &m, nil
}

// Provisioner implements spec.md §4.3's create/clone/destroy operations
// against a configured workspace root and a process-wide read-only
// configuration template directory, both fixed at construction time (design
// note §9: "process-wide state -> construct once at startup, pass
// explicitly").
type Provisioner struct {
	Root        string
	TemplateDir string
}

// New constructs a Provisioner. templateDir may be empty, in which case
// Create skips the template-copy step.
func New(root, templateDir string) *Provisioner {
	return &Provisioner{Root: root, TemplateDir: templateDir}
}

// Create implements spec.md §4.3's create(session_id) -> path. It fails if
// the target directory already exists and is non-empty, then copies the
// read-only configuration template into it.
func (p *Provisioner) Create(sessionID string) (string, error) {
	dir := filepath.Join(p.Root, sessionID)

	if entries, err := os.ReadDir(dir); err == nil && len(entries) > 0 {
		return "", fmt.Errorf("workspace %s: directory already exists and is non-empty", dir)
	} else if err != nil && !os.IsNotExist(err) {
		return "", fmt.Errorf("workspace %s: %w", dir, err)
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("creating workspace %s: %w", dir, err)
	}

	if p.TemplateDir != "" {
		if pathutil.PathOverlaps(p.TemplateDir, dir) {
			_ = os.RemoveAll(dir)
			return "", fmt.Errorf("template dir %s overlaps session workspace %s", p.TemplateDir, dir)
		}
		if err := copyDir(p.TemplateDir, dir); err != nil {
			_ = os.RemoveAll(dir)
			return "", fmt.Errorf("copying configuration template into %s: %w", dir, err)
		}
	}

	if err := writeManifest(dir, Manifest{SessionID: sessionID, CreatedAt: time.Now()}); err != nil {
		_ = os.RemoveAll(dir)
		return "", fmt.Errorf("writing workspace manifest for %s: %w", dir, err)
	}

	return dir, nil
}

// Credential is injected into a clone's remote URL for the duration of the
// clone only, never persisted.
type Credential struct {
	Username string
	Token    string
}

func (c Credential) inject(rawURL string) string {
	if c.Token == "" {
		return rawURL
	}
	user := c.Username
	if user == "" {
		user = "x-access-token"
	}
	return injectUserinfo(rawURL, user, c.Token)
}

const (
	cloneMaxAttempts = 3
	cloneBackoff     = 500 * time.Millisecond
)

// Clone implements spec.md §4.3's clone(path, repo_url, branch, credential).
// It retries transient network failures up to three times with a short
// backoff; a partial clone always leaves the directory destroyed before
// returning, so callers never observe an inconsistent workspace.
func (p *Provisioner) Clone(ctx context.Context, sessionID, dir, repoURL, branch string, cred Credential) error {
	authedURL := cred.inject(repoURL)
	client := git.NewClient(dir)

	var lastErr error
	for attempt := 1; attempt <= cloneMaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = cloneOnce(ctx, client, dir, authedURL, branch, sessionID)
		if lastErr == nil {
			break
		}
		if isPermissionError(lastErr) {
			// Permission errors are fatal, not transient; don't retry.
			break
		}
		if attempt < cloneMaxAttempts {
			select {
			case <-time.After(cloneBackoff * time.Duration(attempt)):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	if lastErr != nil {
		// A partial clone leaves an inconsistent directory; always destroy
		// it before surfacing the failure, per spec.md §4.3's edge case.
		_ = os.RemoveAll(dir)
		return fmt.Errorf("cloning %s into %s: %w", redact.StripCredentials(repoURL), dir, lastErr)
	}

	// Scrub the injected credential from the persisted remote URL so no
	// token survives in .git/config.
	if err := client.SetRemoteURL(ctx, "origin", redact.StripCredentials(repoURL)); err != nil {
		return fmt.Errorf("scrubbing credentials from remote for %s: %w", dir, err)
	}

	gitCfg := git.ResolveConfig(git.ConfigOptions{})
	if err := client.ConfigSet(ctx, "user.name", gitCfg.AuthorName); err != nil {
		return fmt.Errorf("setting git author for %s: %w", dir, err)
	}
	if err := client.ConfigSet(ctx, "user.email", gitCfg.AuthorEmail); err != nil {
		return fmt.Errorf("setting git author email for %s: %w", dir, err)
	}

	headSHA, _ := getHeadSHAContext(ctx, dir)

	return writeManifest(dir, Manifest{
		SessionID: sessionID,
		CreatedAt: time.Now(),
		Cloned:    true,
		RepoURL:   redact.StripCredentials(repoURL),
		Branch:    featureBranch(branch, sessionID),
		HeadSHA:   headSHA,
	})
}

func cloneOnce(ctx context.Context, client *git.Client, dir, authedURL, branch, sessionID string) error {
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("clearing partial clone: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(dir), 0755); err != nil {
		return fmt.Errorf("preparing parent directory: %w", err)
	}
	if err := client.Clone(ctx, authedURL); err != nil {
		return err
	}
	if branch != "" {
		if err := checkoutRefContext(ctx, dir, branch); err != nil {
			return fmt.Errorf("checking out base branch %s: %w", branch, err)
		}
	}
	feature := featureBranch(branch, sessionID)
	if err := client.CheckoutNewBranch(ctx, feature); err != nil {
		return fmt.Errorf("creating feature branch %s: %w", feature, err)
	}
	return nil
}

// featureBranch names the per-session branch per spec.md §3/§4.3:
// "{base_branch}-{session_id}".
func featureBranch(base, sessionID string) string {
	if base == "" {
		base = "main"
	}
	return fmt.Sprintf("%s-%s", base, sessionID)
}

// Destroy implements spec.md §4.3's destroy(path): recursive delete. Callers
// must invoke this only on explicit session deletion, never on idle
// eviction (spec.md §3, design note §9's first open-question resolution).
func (p *Provisioner) Destroy(dir string) error {
	if dir == "" || dir == p.Root || pathutil.IsFilesystemRoot(dir) {
		return fmt.Errorf("refusing to destroy workspace root or empty path: %q", dir)
	}
	return os.RemoveAll(dir)
}

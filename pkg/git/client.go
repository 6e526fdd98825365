package git

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Client wraps git subprocess invocations scoped to one working directory,
// following the same exec.Command("git", ...) pattern as the rest of this
// package and pkg/workspace's util.go rather than a go-git dependency, so a
// future migration to go-git only has to change this one type.
type Client struct {
	Dir string
}

// NewClient returns a Client operating against dir.
func NewClient(dir string) *Client {
	return &Client{Dir: dir}
}

func (c *Client) run(ctx context.Context, args ...string) (string, error) {
	full := append([]string{"-C", c.Dir}, args...)
	cmd := exec.CommandContext(ctx, "git", full...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err, strings.TrimSpace(string(out)))
	}
	return strings.TrimSpace(string(out)), nil
}

// ConfigGet reads a local git config value, returning "" if unset.
func (c *Client) ConfigGet(ctx context.Context, key string) (string, error) {
	out, err := c.run(ctx, "config", "--local", "--get", key)
	if err != nil {
		return "", nil
	}
	return out, nil
}

// ConfigSet writes a local git config value.
func (c *Client) ConfigSet(ctx context.Context, key, value string) error {
	_, err := c.run(ctx, "config", "--local", key, value)
	return err
}

// Clone clones remoteURL into c.Dir.
func (c *Client) Clone(ctx context.Context, remoteURL string) error {
	cmd := exec.CommandContext(ctx, "git", "clone", "--quiet", remoteURL, c.Dir)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("git clone: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

// CheckoutNewBranch creates and checks out branch from the current HEAD.
func (c *Client) CheckoutNewBranch(ctx context.Context, branch string) error {
	_, err := c.run(ctx, "checkout", "--quiet", "-b", branch)
	return err
}

// SetRemoteURL rewrites the URL of remote (normally "origin").
func (c *Client) SetRemoteURL(ctx context.Context, remote, url string) error {
	_, err := c.run(ctx, "remote", "set-url", remote, url)
	return err
}

// RemoteURL returns the configured URL of remote.
func (c *Client) RemoteURL(ctx context.Context, remote string) (string, error) {
	return c.run(ctx, "remote", "get-url", remote)
}

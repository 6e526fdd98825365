package workspace

import (
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"strings"
)

// copyDir copies a directory recursively using cp -a (Unix) or xcopy
// (Windows), matching the teacher's template-materialization approach.
func copyDir(src string, dst string) error {
	if runtime.GOOS == "windows" {
		cmd := exec.Command("xcopy", src+"\\*", dst, "/E", "/I", "/H", "/Y", "/Q")
		if out, err := cmd.CombinedOutput(); err != nil {
			return fmt.Errorf("xcopy failed: %v, output: %s", err, string(out))
		}
		return nil
	}
	cmd := exec.Command("cp", "-a", src+"/.", dst+"/")
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("cp failed: %v, output: %s", err, string(out))
	}
	return nil
}

// getHeadSHAContext returns the current HEAD SHA of a git repository.
func getHeadSHAContext(ctx context.Context, dir string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", "-C", dir, "rev-parse", "HEAD")
	output, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("failed to get HEAD SHA: %w", err)
	}
	return strings.TrimSpace(string(output)), nil
}

// checkoutRefContext checks out a git reference in a repository.
func checkoutRefContext(ctx context.Context, dir, ref string) error {
	args := []string{"-C", dir, "checkout", "--quiet"}
	if ref != "" {
		args = append(args, ref)
	}
	cmd := exec.CommandContext(ctx, "git", args...)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("failed to checkout ref %s: %v, output: %s", ref, err, string(out))
	}
	return nil
}

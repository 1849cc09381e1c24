// Package gitremote turns a git repository into collections: every
// directory rooted by a galaxy.yml is one synthetic collection.
package gitremote

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// repository runs git against one working tree via "git -C <dir>".
type repository struct {
	dir string
}

func (r *repository) run(ctx context.Context, args ...string) (string, error) {
	return runGit(ctx, append([]string{"-C", r.dir}, args...)...)
}

func runGit(ctx context.Context, args ...string) (string, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.Env = append(cmd.Environ(), "GIT_TERMINAL_PROMPT=0")
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("git %s: %w (stderr: %s)", strings.Join(args, " "), err, strings.TrimSpace(stderr.String()))
	}
	return strings.TrimSpace(stdout.String()), nil
}

// clone checks out ref of url into dir and returns the commit it resolved
// to. ref may be a branch, a tag or a commit sha.
func clone(ctx context.Context, url, ref, dir string) (string, error) {
	if _, err := runGit(ctx, "clone", "--quiet", "--no-tags", url, dir); err != nil {
		return "", err
	}
	r := &repository{dir: dir}
	if ref != "" {
		if _, err := r.run(ctx, "fetch", "--quiet", "--tags", "origin"); err != nil {
			return "", err
		}
		if _, err := r.run(ctx, "checkout", "--quiet", ref); err != nil {
			return "", err
		}
	}
	return r.run(ctx, "rev-parse", "HEAD")
}

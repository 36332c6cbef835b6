package repo

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// run executes git with the given args in dir and returns trimmed stdout.
func run(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err, strings.TrimSpace(stderr.String()))
	}
	return strings.TrimSpace(stdout.String()), nil
}

// Init creates an empty repository at dir.
func Init(ctx context.Context, dir string) error {
	_, err := run(ctx, "", "init", dir)
	return err
}

// Clone clones url into dest.
func Clone(ctx context.Context, url, dest string) error {
	_, err := run(ctx, "", "clone", url, dest)
	return err
}

// Fetch fetches a single branch from origin.
func Fetch(ctx context.Context, dir, branch string) error {
	_, err := run(ctx, dir, "fetch", "origin", branch)
	return err
}

// Checkout switches dir to an existing branch or commit.
func Checkout(ctx context.Context, dir, ref string) error {
	_, err := run(ctx, dir, "checkout", ref)
	return err
}

// CheckoutNewBranch creates and switches to a new branch.
func CheckoutNewBranch(ctx context.Context, dir, branch string) error {
	_, err := run(ctx, dir, "checkout", "-b", branch)
	return err
}

// CurrentCommit returns the HEAD commit hash.
func CurrentCommit(ctx context.Context, dir string) (string, error) {
	return run(ctx, dir, "rev-parse", "HEAD")
}

// CapturePatch stages everything and diffs against baseCommit. Large agent
// runs can leave git busy or the index locked, so the capture is retried
// with escalating timeouts before giving up.
func CapturePatch(ctx context.Context, dir, baseCommit string) (string, error) {
	timeouts := []time.Duration{
		10 * time.Second, 20 * time.Second, 30 * time.Second, 60 * time.Second, 90 * time.Second,
	}
	var lastErr error
	for attempt, timeout := range timeouts {
		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		patch, err := capturePatchOnce(attemptCtx, dir, baseCommit)
		cancel()
		if err == nil {
			return patch, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		slog.Warn("patch capture failed, retrying", "attempt", attempt+1, "timeout", timeout, "error", err)
	}
	return "", fmt.Errorf("capturing patch after %d attempts: %w", len(timeouts), lastErr)
}

func capturePatchOnce(ctx context.Context, dir, baseCommit string) (string, error) {
	if _, err := run(ctx, dir, "add", "-A"); err != nil {
		return "", err
	}
	return run(ctx, dir, "diff", "--no-color", "--cached", baseCommit)
}

// HasStagedChanges reports whether the index differs from HEAD after staging
// the whole tree.
func HasStagedChanges(ctx context.Context, dir string) (bool, error) {
	if _, err := run(ctx, dir, "add", "-A"); err != nil {
		return false, err
	}
	out, err := run(ctx, dir, "diff", "--cached", "--name-only")
	if err != nil {
		return false, err
	}
	return out != "", nil
}

// EnsureIdentity sets a local git identity when none is configured, so
// commits in throwaway workspaces don't fail.
func EnsureIdentity(ctx context.Context, dir, name, email string) error {
	if _, err := run(ctx, dir, "config", "user.name"); err != nil {
		if _, err := run(ctx, dir, "config", "user.name", name); err != nil {
			return err
		}
	}
	if _, err := run(ctx, dir, "config", "user.email"); err != nil {
		if _, err := run(ctx, dir, "config", "user.email", email); err != nil {
			return err
		}
	}
	return nil
}

// Commit commits all staged changes with the given message.
func Commit(ctx context.Context, dir, message string) error {
	_, err := run(ctx, dir, "commit", "-m", message)
	return err
}

// Push pushes branch to the given authenticated remote URL.
func Push(ctx context.Context, dir, remoteURL, branch string) error {
	_, err := run(ctx, dir, "push", remoteURL, branch)
	return err
}

// CopyTree wipes dst and copies the tree at src into it, .git included, so
// each resolution run gets a pristine workspace.
func CopyTree(src, dst string) error {
	if err := os.RemoveAll(dst); err != nil {
		return fmt.Errorf("clearing %s: %w", dst, err)
	}
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", dst, err)
	}
	return filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		target := filepath.Join(dst, rel)
		switch {
		case info.IsDir():
			return os.MkdirAll(target, info.Mode().Perm())
		case info.Mode()&os.ModeSymlink != 0:
			link, err := os.Readlink(path)
			if err != nil {
				return err
			}
			return os.Symlink(link, target)
		default:
			return copyFile(path, target, info.Mode().Perm())
		}
	})
}

func copyFile(src, dst string, perm os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

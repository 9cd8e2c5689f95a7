package remediation

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	apperrors "github.com/pratik-mahalle/stackdrift/internal/pkg/errors"
)

// Git is the subset of version control operations a publish needs
type Git interface {
	CurrentBranch(ctx context.Context) (string, error)
	CheckRefFormat(ctx context.Context, branch string) error
	CreateBranch(ctx context.Context, branch, base string) error
	Checkout(ctx context.Context, branch string) error
	Add(ctx context.Context, paths ...string) error
	Commit(ctx context.Context, message string) error
	Push(ctx context.Context, remote, branch string) error
	DeleteBranch(ctx context.Context, branch string) error
	DeleteRemoteBranch(ctx context.Context, remote, branch string) error
	BranchExists(ctx context.Context, branch string) (bool, error)
}

// CLIGit drives the git binary. Arguments are always passed as a vector,
// never through a shell.
type CLIGit struct {
	Dir       string
	Binary    string
	UserName  string
	UserEmail string
}

// NewCLIGit creates a git driver for the working copy at dir
func NewCLIGit(dir, userName, userEmail string) *CLIGit {
	return &CLIGit{Dir: dir, Binary: "git", UserName: userName, UserEmail: userEmail}
}

func (g *CLIGit) run(ctx context.Context, step string, args ...string) (string, error) {
	full := []string{"-C", g.Dir}
	if g.UserName != "" {
		full = append(full, "-c", "user.name="+g.UserName)
	}
	if g.UserEmail != "" {
		full = append(full, "-c", "user.email="+g.UserEmail)
	}
	full = append(full, args...)

	bin := g.Binary
	if bin == "" {
		bin = "git"
	}
	cmd := exec.CommandContext(ctx, bin, full...)
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0", "LC_ALL=C")
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = strings.TrimSpace(stdout.String())
		}
		return "", apperrors.GitOperationError(step, fmt.Errorf("%s: %w", msg, err))
	}
	return strings.TrimSpace(stdout.String()), nil
}

// CurrentBranch returns the checked out branch
func (g *CLIGit) CurrentBranch(ctx context.Context) (string, error) {
	return g.run(ctx, "rev-parse", "rev-parse", "--abbrev-ref", "HEAD")
}

// CheckRefFormat asks git whether branch is a valid branch name
func (g *CLIGit) CheckRefFormat(ctx context.Context, branch string) error {
	_, err := g.run(ctx, "check-ref-format", "check-ref-format", "--branch", branch)
	return err
}

// CreateBranch creates and checks out branch from base
func (g *CLIGit) CreateBranch(ctx context.Context, branch, base string) error {
	_, err := g.run(ctx, "create-branch", "checkout", "-q", "-b", branch, base, "--")
	return err
}

// Checkout switches to branch, discarding local modifications
func (g *CLIGit) Checkout(ctx context.Context, branch string) error {
	_, err := g.run(ctx, "checkout", "checkout", "-q", "-f", branch, "--")
	return err
}

// Add stages paths
func (g *CLIGit) Add(ctx context.Context, paths ...string) error {
	_, err := g.run(ctx, "add", append([]string{"add", "--"}, paths...)...)
	return err
}

// Commit records the staged changes
func (g *CLIGit) Commit(ctx context.Context, message string) error {
	_, err := g.run(ctx, "commit", "commit", "-q", "-m", message)
	return err
}

// Push publishes branch to remote and sets upstream
func (g *CLIGit) Push(ctx context.Context, remote, branch string) error {
	_, err := g.run(ctx, "push", "push", "-q", "-u", remote, "refs/heads/"+branch+":refs/heads/"+branch)
	return err
}

// DeleteBranch removes a local branch
func (g *CLIGit) DeleteBranch(ctx context.Context, branch string) error {
	_, err := g.run(ctx, "delete-branch", "branch", "-q", "-D", "--", branch)
	return err
}

// DeleteRemoteBranch removes branch from remote
func (g *CLIGit) DeleteRemoteBranch(ctx context.Context, remote, branch string) error {
	_, err := g.run(ctx, "delete-remote-branch", "push", "-q", remote, "--delete", "refs/heads/"+branch)
	return err
}

// BranchExists reports whether a local branch exists
func (g *CLIGit) BranchExists(ctx context.Context, branch string) (bool, error) {
	out, err := g.run(ctx, "branch-list", "branch", "--list", "--", branch)
	if err != nil {
		return false, err
	}
	return out != "", nil
}

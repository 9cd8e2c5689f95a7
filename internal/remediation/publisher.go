package remediation

import (
	"context"
	stderrors "errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sync"
	"time"

	"github.com/pratik-mahalle/stackdrift/internal/domain/drift"
	"github.com/pratik-mahalle/stackdrift/internal/domain/entity"
	domain "github.com/pratik-mahalle/stackdrift/internal/domain/remediation"
	apperrors "github.com/pratik-mahalle/stackdrift/internal/pkg/errors"
	"github.com/pratik-mahalle/stackdrift/internal/pkg/logger"
	"github.com/pratik-mahalle/stackdrift/internal/pkg/metrics"
)

// ErrNoChanges is returned when none of the items could be applied.
var ErrNoChanges = stderrors.New("no applicable changes")

// Options configures the publisher
type Options struct {
	RepoPath   string
	Remote     string
	BaseBranch string
	DryRun     bool
	Draft      bool
	Labels     []string
	// DeployRoot mirrors the loader option so bind mounts can be written
	// back relative to the stack directory.
	DeployRoot string
	ReportPath string
	Sensitive  func(fieldPath string) bool
	Now        func() time.Time
}

// Publisher turns drifted entities into reviewable pull requests. One
// publish runs at a time because branch checkout affects the whole
// working copy.
type Publisher struct {
	mu      sync.Mutex
	git     Git
	host    Host
	opts    Options
	logger  *logger.Logger
	metrics *metrics.Recorder
}

// NewPublisher creates a publisher. host may be nil in dry-run mode.
func NewPublisher(git Git, host Host, opts Options, log *logger.Logger, rec *metrics.Recorder) *Publisher {
	if opts.Remote == "" {
		opts.Remote = "origin"
	}
	if opts.BaseBranch == "" {
		opts.BaseBranch = "main"
	}
	if opts.Labels == nil {
		opts.Labels = domain.DefaultLabels
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Publisher{
		git:     git,
		host:    host,
		opts:    opts,
		logger:  log.WithComponent("publisher"),
		metrics: rec,
	}
}

// Prepare builds the request for one drifted entity.
func (p *Publisher) Prepare(e drift.EntityDrift) (*domain.Request, error) {
	switch {
	case e.BaselineMissing:
		return nil, fmt.Errorf("%s has no baseline to update", e.EntityName)
	case e.EntityMissing:
		return nil, fmt.Errorf("%s is not running, nothing to sync", e.EntityName)
	case len(e.Items) == 0:
		return nil, fmt.Errorf("%s has no drift", e.EntityName)
	}

	file := e.SourceFile
	if e.OverrideFile != "" {
		file = e.OverrideFile
	}
	req := &domain.Request{
		RepoPath:      p.opts.RepoPath,
		FilePath:      file,
		EntityName:    e.EntityName,
		Service:       e.Service,
		Stack:         e.Stack,
		Items:         e.Items,
		Branch:        BranchName(e.Stack, e.Service, p.opts.Now()),
		BaseBranch:    p.opts.BaseBranch,
		CommitMessage: CommitMessage(e.Service, e.Items),
		Title:         Title(e.Service),
		Labels:        p.opts.Labels,
	}
	return req, req.Validate()
}

// Publish runs the full workflow for one request: branch, patch, commit,
// push, pull request, labels. When a step after branch creation fails the
// branch is removed again before the error is returned.
func (p *Publisher) Publish(ctx context.Context, req *domain.Request, host string) (out *domain.Outcome, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	started := time.Now()
	out = &domain.Outcome{
		EntityName: req.EntityName,
		State:      domain.StateIdle,
		Branch:     req.Branch,
		FilePath:   req.FilePath,
		DryRun:     p.opts.DryRun,
	}
	log := p.logger.WithFields(map[string]interface{}{
		"entity": req.EntityName,
		"stack":  req.Stack,
		"branch": req.Branch,
	})

	defer func() {
		status := "success"
		switch {
		case out.DryRun:
			status = "dry_run"
		case err != nil:
			status = "failure"
			out.Error = apperrors.Summary(err)
			out.FailedAt = out.State
			out.State = domain.StateFailed
		}
		if p.metrics != nil {
			p.metrics.RecordPublish(status, time.Since(started))
		}
	}()

	if err := req.Validate(); err != nil {
		return out, apperrors.ValidationError(err.Error(), nil)
	}
	if err := ValidateBranch(req.Branch); err != nil {
		return out, apperrors.ValidationError(err.Error(), nil)
	}

	target := filepath.Join(req.RepoPath, filepath.FromSlash(req.FilePath))
	patcher := NewPatcher(p.patchOptions(req))

	if p.opts.DryRun {
		before, err := os.ReadFile(target)
		if err != nil {
			return out, apperrors.ManifestNotFound(req.FilePath)
		}
		patched, err := patcher.Apply(before, req.Service, req.Items)
		if err != nil {
			return out, apperrors.ParseError(req.FilePath, 0, err)
		}
		out.Warnings = patched.Warnings
		out.Diff = Preview(req.FilePath, string(before), string(patched.Data))
		req.Body = p.body(req, host, patched.Warnings)
		out.Title, out.CommitMessage, out.Body = req.Title, req.CommitMessage, req.Body
		log.Info("Dry run prepared")
		return out, nil
	}

	if p.host == nil {
		return out, apperrors.PublishError("configure", fmt.Errorf("no hosting client configured"))
	}
	if err := p.git.CheckRefFormat(ctx, req.Branch); err != nil {
		return out, err
	}
	original, err := p.git.CurrentBranch(ctx)
	if err != nil {
		return out, err
	}

	defer func() {
		if err != nil && out.State.Reached(domain.StateBranchCreated) && !out.State.Reached(domain.StateRequestOpened) {
			p.cleanup(context.WithoutCancel(ctx), log, req.Branch, original, out.State)
		}
	}()

	if err = p.git.CreateBranch(ctx, req.Branch, req.BaseBranch); err != nil {
		return out, err
	}
	out.State = domain.StateBranchCreated
	log.Info("Branch created")

	before, err := os.ReadFile(target)
	if err != nil {
		err = apperrors.ManifestNotFound(req.FilePath)
		return out, err
	}
	patched, err := patcher.Apply(before, req.Service, req.Items)
	if err != nil {
		err = apperrors.ParseError(req.FilePath, 0, err)
		return out, err
	}
	out.Warnings = patched.Warnings
	if len(patched.Applied) == 0 {
		err = ErrNoChanges
		return out, err
	}
	if err = os.WriteFile(target, patched.Data, 0o644); err != nil {
		err = apperrors.Internal("write manifest", err)
		return out, err
	}
	out.State = domain.StateFileUpdated

	if err = p.git.Add(ctx, req.FilePath); err != nil {
		return out, err
	}
	if err = p.git.Commit(ctx, req.CommitMessage); err != nil {
		return out, err
	}
	out.State = domain.StateCommitted

	if err = p.git.Push(ctx, p.opts.Remote, req.Branch); err != nil {
		return out, err
	}
	out.State = domain.StatePushed
	log.Info("Branch pushed")

	req.Body = p.body(req, host, patched.Warnings)
	ref, err := p.host.CreatePullRequest(ctx, PullRequest{
		Title: req.Title,
		Head:  req.Branch,
		Base:  req.BaseBranch,
		Body:  req.Body,
		Draft: p.opts.Draft,
	})
	if err != nil {
		err = apperrors.PublishError("create pull request", err)
		return out, err
	}
	out.State = domain.StateRequestOpened
	out.PullRequestURL = ref.URL
	out.PullRequestNum = ref.Number

	if len(req.Labels) > 0 {
		if lerr := p.host.AddLabels(ctx, ref.Number, req.Labels); lerr != nil {
			log.WarnWithErr(lerr, "Failed to apply labels")
			out.Warnings = append(out.Warnings, fmt.Sprintf("labels not applied: %v", lerr))
		}
	}

	if cerr := p.git.Checkout(ctx, original); cerr != nil {
		log.WarnWithErr(cerr, "Failed to restore original branch")
	}
	out.State = domain.StateDone
	log.With("pull_request", ref.URL).Info("Remediation published")
	return out, nil
}

// cleanup undoes a partial publish. Failures are logged, never returned.
func (p *Publisher) cleanup(ctx context.Context, log *logger.Logger, branch, original string, reached domain.State) {
	log.With("state", string(reached)).Warn("Publish failed, removing branch")
	if reached.Reached(domain.StatePushed) {
		if err := p.git.DeleteRemoteBranch(ctx, p.opts.Remote, branch); err != nil {
			log.WarnWithErr(err, "Failed to delete remote branch")
		}
	}
	if err := p.git.Checkout(ctx, original); err != nil {
		log.WarnWithErr(err, "Failed to restore original branch")
		return
	}
	if err := p.git.DeleteBranch(ctx, branch); err != nil {
		log.WarnWithErr(err, "Failed to delete local branch")
	}
}

// PublishResult remediates every drifted, matched entity of a result one
// after another. only, when set, restricts the run to one entity name.
func (p *Publisher) PublishResult(ctx context.Context, res *drift.Result, only string) []domain.Outcome {
	var outcomes []domain.Outcome
	for _, e := range res.Entities {
		if only != "" && e.EntityName != only && e.BaselineName != only && e.Service != only {
			continue
		}
		if !e.Matched || len(e.Items) == 0 {
			continue
		}
		req, err := p.Prepare(e)
		if err != nil {
			outcomes = append(outcomes, domain.Outcome{
				EntityName: e.EntityName,
				State:      domain.StateFailed,
				Error:      err.Error(),
			})
			continue
		}
		out, err := p.Publish(ctx, req, e.Host)
		if err != nil {
			p.logger.WithFields(map[string]interface{}{
				"entity": e.EntityName,
				"kind":   apperrors.Kind(err),
			}).ErrorWithErr(err, "Remediation failed")
		}
		outcomes = append(outcomes, *out)
	}
	return outcomes
}

func (p *Publisher) patchOptions(req *domain.Request) PatchOptions {
	opts := PatchOptions{
		Project:   entity.ProjectName(req.Stack),
		Sensitive: p.opts.Sensitive,
	}
	if p.opts.DeployRoot != "" && req.Stack != "" {
		opts.DeployDir = path.Join(p.opts.DeployRoot, req.Stack)
	}
	return opts
}

func (p *Publisher) body(req *domain.Request, host string, warnings []string) string {
	return Redactor{Sensitive: p.opts.Sensitive}.Body(BodyInput{
		EntityName: req.EntityName,
		Service:    req.Service,
		Stack:      req.Stack,
		Host:       host,
		FilePath:   req.FilePath,
		ReportPath: p.opts.ReportPath,
		Items:      req.Items,
		Warnings:   warnings,
		Labels:     req.Labels,
		Generated:  p.opts.Now(),
	})
}

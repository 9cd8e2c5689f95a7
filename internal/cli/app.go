package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/pratik-mahalle/stackdrift/internal/audit"
	"github.com/pratik-mahalle/stackdrift/internal/baseline"
	"github.com/pratik-mahalle/stackdrift/internal/config"
	"github.com/pratik-mahalle/stackdrift/internal/detector"
	"github.com/pratik-mahalle/stackdrift/internal/history"
	"github.com/pratik-mahalle/stackdrift/internal/inspector"
	"github.com/pratik-mahalle/stackdrift/internal/pkg/logger"
	"github.com/pratik-mahalle/stackdrift/internal/pkg/metrics"
	"github.com/pratik-mahalle/stackdrift/internal/remediation"
	"github.com/pratik-mahalle/stackdrift/internal/report"
	"github.com/pratik-mahalle/stackdrift/internal/rules"
	"github.com/pratik-mahalle/stackdrift/internal/services"
)

// app carries everything a command needs. It is built once per invocation
// in the root command's pre-run hook.
type app struct {
	cfg     *config.Config
	log     *logger.Logger
	metrics *metrics.Recorder
	printer *Printer
	stdin   io.Reader
	stderr  io.Writer

	ruleSet *rules.RuleSet
	closers []func() error
}

// rules loads the configured rule set once.
func (a *app) rules() (*rules.RuleSet, error) {
	if a.ruleSet != nil {
		return a.ruleSet, nil
	}
	rs, err := rules.Load(a.cfg.Rules.File)
	if err != nil {
		return nil, err
	}
	a.ruleSet = rs
	return rs, nil
}

func (a *app) inspector() (*inspector.Inspector, error) {
	ssh := a.cfg.SSH
	keyPath := ssh.KeyPath
	if _, err := os.Stat(keyPath); err != nil && ssh.AgentSocket != "" {
		a.log.Debugf("SSH key %s not found, using the agent only", keyPath)
		keyPath = ""
	}
	dialer, err := inspector.NewSSHDialer(inspector.SSHConfig{
		User:                  ssh.User,
		Port:                  ssh.Port,
		KeyPath:               keyPath,
		KnownHostsPath:        ssh.KnownHostsPath,
		InsecureIgnoreHostKey: ssh.InsecureIgnoreHostKey,
		AgentSocket:           ssh.AgentSocket,
		Timeout:               ssh.Timeout,
		Passphrase:            a.promptPassphrase,
	})
	if err != nil {
		return nil, err
	}
	return inspector.New(dialer, inspector.Options{
		Docker:         ssh.DockerCommand,
		IncludeStopped: ssh.IncludeStopped,
		HostTimeout:    ssh.HostTimeout,
	}, a.log, a.metrics), nil
}

// promptPassphrase asks for the passphrase of an encrypted key on the
// controlling terminal.
func (a *app) promptPassphrase(keyPath string) ([]byte, error) {
	f, ok := a.stdin.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return nil, fmt.Errorf("key %s is encrypted and no terminal is available for the passphrase", keyPath)
	}
	fmt.Fprintf(a.stderr, "Passphrase for %s: ", keyPath)
	pass, err := term.ReadPassword(int(f.Fd()))
	fmt.Fprintln(a.stderr)
	if err != nil {
		return nil, fmt.Errorf("read passphrase: %w", err)
	}
	return pass, nil
}

func (a *app) loader() *baseline.Loader {
	b := a.cfg.Baseline
	return baseline.NewLoader(baseline.Options{
		AppsRoot:   b.AppsRepo,
		InfraRoot:  b.InfraRepo,
		Target:     b.Target,
		DeployRoot: b.DeployRoot,
	}, a.log)
}

func (a *app) detector() (*detector.DriftDetector, error) {
	rs, err := a.rules()
	if err != nil {
		return nil, err
	}
	return detector.NewDriftDetector(rs, detector.Options{
		StrictPrefixMatch: a.cfg.Baseline.StrictPrefixMatch,
		Target:            a.cfg.Baseline.Target,
		BaselineRepo:      a.cfg.Baseline.AppsRepo,
	}, a.log), nil
}

func (a *app) renderer() (*report.Renderer, error) {
	rs, err := a.rules()
	if err != nil {
		return nil, err
	}
	opts := report.DefaultOptions()
	opts.TruncateAt = a.cfg.Report.TruncateAt
	opts.Redact = rs.IsSensitive
	return report.NewRenderer(opts), nil
}

// sink builds the configured upload target; local output needs none.
func (a *app) sink(ctx context.Context) (report.Sink, error) {
	r := a.cfg.Report
	switch r.Sink {
	case "s3":
		return report.NewS3Sink(ctx, report.S3Config{
			Bucket:          r.Bucket,
			Prefix:          r.Prefix,
			Region:          r.Region,
			Endpoint:        r.Endpoint,
			AccessKeyID:     r.AccessKeyID,
			SecretAccessKey: r.SecretAccessKey,
		})
	case "gcs":
		s, err := report.NewGCSSink(ctx, report.GCSConfig{
			Bucket:          r.Bucket,
			Prefix:          r.Prefix,
			CredentialsFile: r.CredentialsFile,
		})
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, s.Close)
		return s, nil
	}
	return nil, nil
}

func (a *app) writer(ctx context.Context) (*report.Writer, error) {
	renderer, err := a.renderer()
	if err != nil {
		return nil, err
	}
	format, err := report.ParseFormat(a.cfg.Report.Format)
	if err != nil {
		return nil, err
	}
	sink, err := a.sink(ctx)
	if err != nil {
		return nil, err
	}
	return report.NewWriter(a.cfg.Report.OutputDir, format, renderer, sink, a.log), nil
}

// history opens the run history when it is enabled. A nil store means
// history is off.
func (a *app) history(ctx context.Context) (*history.Store, error) {
	if !a.cfg.History.Enabled {
		return nil, nil
	}
	store, err := history.Open(ctx, history.Config{
		Driver: a.cfg.History.Driver,
		DSN:    a.cfg.History.DSN,
	}, a.log)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, store.Close)
	return store, nil
}

// recorder narrows a possibly nil store to the service interface so that a
// disabled history stays a nil interface.
func recorder(store *history.Store) services.RunRecorder {
	if store == nil {
		return nil
	}
	return store
}

func (a *app) detection(ctx context.Context) (*services.DetectionService, *history.Store, error) {
	insp, err := a.inspector()
	if err != nil {
		return nil, nil, err
	}
	det, err := a.detector()
	if err != nil {
		return nil, nil, err
	}
	w, err := a.writer(ctx)
	if err != nil {
		return nil, nil, err
	}
	store, err := a.history(ctx)
	if err != nil {
		return nil, nil, err
	}
	return services.NewDetectionService(insp, a.loader(), det, w, recorder(store), a.log, a.metrics), store, nil
}

func (a *app) publisher(dryRun, draft bool, reportPath string) (*remediation.Publisher, error) {
	rs, err := a.rules()
	if err != nil {
		return nil, err
	}
	r := a.cfg.Remediation
	repo := a.cfg.RemediationRepo()
	if repo == "" {
		return nil, a.cfg.RequireBaseline()
	}

	var host remediation.Host
	if !dryRun {
		if err := a.cfg.RequirePublishing(); err != nil {
			return nil, err
		}
		gh, err := remediation.NewGitHubClient(remediation.GitHubConfig{
			APIURL:            r.APIURL,
			Owner:             r.Owner,
			Repo:              r.Repo,
			Token:             r.Token,
			AppID:             r.AppID,
			InstallationID:    r.InstallationID,
			PrivateKeyPath:    r.PrivateKeyPath,
			RequestsPerSecond: r.RateLimit,
			Timeout:           r.Timeout,
		}, a.log)
		if err != nil {
			return nil, err
		}
		host = gh
	}

	return remediation.NewPublisher(
		remediation.NewCLIGit(repo, r.GitUserName, r.GitUserEmail),
		host,
		remediation.Options{
			RepoPath:   repo,
			Remote:     r.Remote,
			BaseBranch: r.BaseBranch,
			DryRun:     dryRun,
			Draft:      draft,
			Labels:     r.Labels,
			DeployRoot: a.cfg.Baseline.DeployRoot,
			ReportPath: reportPath,
			Sensitive:  rs.IsSensitive,
		},
		a.log,
		a.metrics,
	), nil
}

func (a *app) audits(ctx context.Context, strict bool) (*services.AuditService, error) {
	rs, err := a.rules()
	if err != nil {
		return nil, err
	}
	w, err := a.writer(ctx)
	if err != nil {
		return nil, err
	}
	roots := a.cfg.Roots()
	var runtime services.RuntimeSource
	if len(a.cfg.SSH.Hosts) > 0 {
		insp, err := a.inspector()
		if err != nil {
			return nil, err
		}
		runtime = insp
	}
	return services.NewAuditService(
		runtime,
		audit.NewCleanupAuditor(audit.CleanupOptions{Roots: roots, CheckTargets: true, Strict: strict}, a.log, a.metrics),
		audit.NewStructureValidator(audit.StructureOptions{Roots: roots, Strict: strict}, rs, a.log, a.metrics),
		w,
		a.log,
	), nil
}

// run wraps a command body so that finish runs whatever the outcome.
// Cobra skips post-run hooks when a command fails.
func (a *app) run(fn func(cmd *cobra.Command, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		defer a.finish()
		return fn(cmd, args)
	}
}

// finish writes metrics and releases resources. It runs after every
// command, successful or not.
func (a *app) finish() {
	if path := a.cfg.Metrics.TextfilePath; path != "" {
		if err := a.metrics.WriteTextfile(path); err != nil {
			a.log.WarnWithErr(err, "Failed to write metrics textfile")
		}
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.log.WarnWithErr(err, "Failed to close resource")
		}
	}
	a.closers = nil
}

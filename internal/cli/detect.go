package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pratik-mahalle/stackdrift/internal/domain/drift"
	"github.com/pratik-mahalle/stackdrift/internal/services"
)

// detectOptions are flags that override the loaded configuration
type detectOptions struct {
	hosts       []string
	appsRepo    string
	infraRepo   string
	target      string
	format      string
	outputDir   string
	all         bool
	failOnDrift bool
}

func newDetectCmd(a *app) *cobra.Command {
	opts := &detectOptions{}

	cmd := &cobra.Command{
		Use:   "detect",
		Short: "Detect drift between running containers and the repository",
		Long: `Inspect every configured host over SSH, load the compose stacks from the
repository and report each difference by severity. Exits with status 1 when
drift is found.`,
		Example: `  stackdrift detect --hosts nas,edge --apps-repo ./homelab-apps
  stackdrift detect --target prod -o json`,
		RunE: a.run(func(cmd *cobra.Command, args []string) error {
			opts.apply(cmd, a)
			if err := a.cfg.Validate(); err != nil {
				return err
			}
			if err := a.cfg.RequireInspection(); err != nil {
				return err
			}

			svc, _, err := a.detection(cmd.Context())
			if err != nil {
				return err
			}
			det, err := svc.Detect(cmd.Context(), a.cfg.SSH.Hosts)
			if err != nil {
				return err
			}

			if a.printer.Structured() {
				if err := a.printer.Print(det); err != nil {
					return err
				}
			} else {
				printDetection(a.printer, det)
			}

			if !opts.failOnDrift {
				return nil
			}
			return services.ExitError(det.Result)
		}),
	}

	cmd.Flags().StringSliceVar(&opts.hosts, "hosts", nil, "hosts to inspect (overrides SSH_HOSTS)")
	cmd.Flags().StringVar(&opts.appsRepo, "apps-repo", "", "path to the applications repository")
	cmd.Flags().StringVar(&opts.infraRepo, "infra-repo", "", "path to the infrastructure repository")
	cmd.Flags().StringVar(&opts.target, "target", "", "deployment target selecting compose overrides")
	cmd.Flags().StringVar(&opts.format, "format", "", "report format: json, markdown, both")
	cmd.Flags().StringVar(&opts.outputDir, "output-dir", "", "directory for report files")
	cmd.Flags().BoolVar(&opts.all, "all", false, "include stopped containers")
	cmd.Flags().BoolVar(&opts.failOnDrift, "fail-on-drift", true, "exit with status 1 when drift is found")

	return cmd
}

// apply copies explicitly set flags onto the configuration.
func (o *detectOptions) apply(cmd *cobra.Command, a *app) {
	f := cmd.Flags()
	if f.Changed("hosts") {
		a.cfg.SSH.Hosts = o.hosts
	}
	if f.Changed("apps-repo") {
		a.cfg.Baseline.AppsRepo = o.appsRepo
	}
	if f.Changed("infra-repo") {
		a.cfg.Baseline.InfraRepo = o.infraRepo
	}
	if f.Changed("target") {
		a.cfg.Baseline.Target = o.target
	}
	if f.Changed("format") {
		a.cfg.Report.Format = o.format
	}
	if f.Changed("output-dir") {
		a.cfg.Report.OutputDir = o.outputDir
	}
	if f.Changed("all") {
		a.cfg.SSH.IncludeStopped = o.all
	}
}

func printDetection(p *Printer, det *services.Detection) {
	res := det.Result

	p.Println(p.Title("Drift detection"), p.Muted(res.RunID))
	p.Printf("Hosts: %s\n", strings.Join(res.Hosts, ", "))
	if res.Target != "" {
		p.Printf("Target: %s\n", res.Target)
	}
	p.Printf("Entities analyzed: %d, with drift: %d (%.1f%%)\n\n",
		res.EntitiesAnalyzed, res.EntitiesWithDrift, res.DriftPercent())

	drifted := res.Drifted()
	if len(drifted) > 0 {
		t := p.NewTable("ENTITY", "HOST", "STACK", "SEVERITY", "ITEMS", "STATUS")
		for _, e := range drifted {
			t.AddRow(
				e.EntityName,
				orDash(e.Host),
				orDash(e.Stack),
				p.formatSeverity(e.HighestSeverity()),
				strconv.Itoa(len(e.Items)),
				p.formatStatus(entityStatus(e)),
			)
		}
		t.Render()
		p.Println()
	}

	t := p.NewTable("SEVERITY", "COUNT")
	for _, s := range drift.Severities {
		t.AddRow(p.formatSeverity(s), strconv.Itoa(res.SeveritySummary.Get(s)))
	}
	t.Render()

	if len(res.Failures) > 0 {
		p.Println()
		p.Println(p.Title("Failures"))
		ft := p.NewTable("KIND", "SOURCE", "MESSAGE")
		for _, f := range res.Failures {
			ft.AddRow(f.Kind, f.Source, truncate(f.Message, 80))
		}
		ft.Render()
	}

	if len(res.Unverified) > 0 {
		p.Println()
		p.Println(p.Muted("Not verified, some hosts were not fully inspected: " + strings.Join(res.Unverified, ", ")))
	}

	if len(det.Artifacts) > 0 {
		p.Println()
		for _, art := range det.Artifacts {
			loc := art.Path
			if art.Location != "" {
				loc = fmt.Sprintf("%s (%s)", art.Path, art.Location)
			}
			p.Println(p.Muted("Report: " + loc))
		}
	}
}

func entityStatus(e drift.EntityDrift) string {
	switch {
	case e.BaselineMissing:
		return "unmanaged"
	case e.EntityMissing:
		return "missing"
	case e.HasDrift():
		return "drifted"
	default:
		return "clean"
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

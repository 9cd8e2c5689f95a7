package cli

import (
	"strconv"

	"github.com/spf13/cobra"

	"github.com/pratik-mahalle/stackdrift/internal/domain/drift"
	domain "github.com/pratik-mahalle/stackdrift/internal/domain/remediation"
	"github.com/pratik-mahalle/stackdrift/internal/history"
	"github.com/pratik-mahalle/stackdrift/internal/pkg/errors"
	"github.com/pratik-mahalle/stackdrift/internal/services"
)

func newRemediateCmd(a *app) *cobra.Command {
	var (
		reportPath string
		live       bool
		entityName string
		dryRun     bool
		draft      bool
	)

	cmd := &cobra.Command{
		Use:   "remediate",
		Short: "Open pull requests that adopt running configuration into the repository",
		Long: `Patch the compose file of every drifted entity so that it matches what is
running, commit the change on a new branch and open a pull request. Drift
comes from a saved JSON report or from a fresh detection run.`,
		Example: `  stackdrift remediate --report reports/drift-report-20240101-120000.json --dry-run
  stackdrift remediate --live --entity pihole`,
		RunE: a.run(func(cmd *cobra.Command, args []string) error {
			if (reportPath == "") == !live {
				return errors.ValidationError("exactly one of --report or --live is required", nil)
			}
			if !cmd.Flags().Changed("dry-run") {
				dryRun = a.cfg.Remediation.DryRun
			}
			if !cmd.Flags().Changed("draft") {
				draft = a.cfg.Remediation.Draft
			}

			var (
				res   *drift.Result
				store *history.Store
			)
			if live {
				if err := a.cfg.RequireInspection(); err != nil {
					return err
				}
				svc, st, err := a.detection(cmd.Context())
				if err != nil {
					return err
				}
				store = st
				det, err := svc.Detect(cmd.Context(), a.cfg.SSH.Hosts)
				if err != nil {
					return err
				}
				res = det.Result
				reportPath = det.ReportPath()
			} else {
				loaded, err := services.LoadReport(reportPath)
				if err != nil {
					return err
				}
				res = loaded
				if store, err = a.history(cmd.Context()); err != nil {
					return err
				}
			}

			pub, err := a.publisher(dryRun, draft, reportPath)
			if err != nil {
				return err
			}

			outcomes, runErr := services.NewRemediationService(pub, recorder(store), a.log).
				Remediate(cmd.Context(), res, entityName)

			if a.printer.Structured() {
				if outcomes == nil {
					outcomes = []domain.Outcome{}
				}
				if err := a.printer.Print(outcomes); err != nil {
					return err
				}
				return runErr
			}

			if len(outcomes) == 0 && runErr == nil {
				a.printer.Println("Nothing to remediate.")
				return nil
			}
			printOutcomes(a.printer, outcomes)
			if dryRun {
				for _, out := range outcomes {
					printPreview(a.printer, out)
				}
			}
			return runErr
		}),
	}

	cmd.Flags().StringVar(&reportPath, "report", "", "JSON drift report to remediate")
	cmd.Flags().BoolVar(&live, "live", false, "run detection first and remediate its result")
	cmd.Flags().StringVar(&entityName, "entity", "", "remediate a single entity")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "show the changes without touching git or the hosting API")
	cmd.Flags().BoolVar(&draft, "draft", false, "open pull requests as drafts")

	return cmd
}

func printOutcomes(p *Printer, outcomes []domain.Outcome) {
	t := p.NewTable("ENTITY", "STATE", "BRANCH", "PULL REQUEST", "NOTE")
	for _, out := range outcomes {
		state := string(out.State)
		if out.DryRun && out.State != domain.StateFailed {
			state = "dry-run"
		}
		pr := "-"
		if out.PullRequestNum > 0 {
			pr = "#" + strconv.Itoa(out.PullRequestNum) + " " + out.PullRequestURL
		}
		note := out.Error
		if note == "" && len(out.Warnings) > 0 {
			note = out.Warnings[0]
		}
		t.AddRow(out.EntityName, p.formatStatus(state), orDash(out.Branch), pr, truncate(orDash(note), 60))
	}
	t.Render()
}

func printPreview(p *Printer, out domain.Outcome) {
	if out.State == domain.StateFailed {
		return
	}
	p.Println()
	p.Println(p.Title("== " + out.EntityName + " =="))
	p.Printf("Branch:  %s\n", out.Branch)
	p.Printf("File:    %s\n", out.FilePath)
	p.Printf("Title:   %s\n", out.Title)
	p.Printf("Commit:  %s\n\n", out.CommitMessage)
	p.Println(p.Muted(out.Body))
	if out.Diff != "" {
		p.Println()
		p.Println(out.Diff)
	}
}

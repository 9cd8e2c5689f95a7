package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pratik-mahalle/stackdrift/internal/audit"
	"github.com/pratik-mahalle/stackdrift/internal/report"
)

func newCleanupCmd(a *app) *cobra.Command {
	var (
		strict bool
		hosts  []string
	)

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Find repository files that no running container uses",
		Long: `List stacks, override files, environment files and target entries whose
services are not running on any inspected host. Nothing is deleted.`,
		RunE: a.run(func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("hosts") {
				a.cfg.SSH.Hosts = hosts
			}
			if err := a.cfg.RequireInspection(); err != nil {
				return err
			}
			svc, err := a.audits(cmd.Context(), strict)
			if err != nil {
				return err
			}
			rep, artifacts, err := svc.Cleanup(cmd.Context(), a.cfg.SSH.Hosts)
			if err != nil {
				return err
			}

			if a.printer.Structured() {
				if err := a.printer.Print(rep); err != nil {
					return err
				}
			} else {
				printCleanup(a.printer, rep, artifacts)
			}
			return svc.CleanupExit(rep)
		}),
	}

	cmd.Flags().BoolVar(&strict, "strict", false, "exit with status 1 when stale files are found")
	cmd.Flags().StringSliceVar(&hosts, "hosts", nil, "hosts to inspect (overrides SSH_HOSTS)")

	return cmd
}

func newValidateCmd(a *app) *cobra.Command {
	var strict bool

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check compose files against repository conventions",
		Long: `Check every compose file for YAML syntax, pinned image tags, compose v2
syntax, environment samples and reverse proxy conventions. Exits with status 1
on errors, or on warnings too with --strict.`,
		RunE: a.run(func(cmd *cobra.Command, args []string) error {
			if err := a.cfg.RequireBaseline(); err != nil {
				return err
			}
			svc, err := a.audits(cmd.Context(), strict)
			if err != nil {
				return err
			}
			rep, artifacts, err := svc.Validate(cmd.Context())
			if err != nil {
				return err
			}

			if a.printer.Structured() {
				if err := a.printer.Print(rep); err != nil {
					return err
				}
			} else {
				printValidation(a.printer, rep, artifacts)
			}
			return svc.ValidateExit(rep)
		}),
	}

	cmd.Flags().BoolVar(&strict, "strict", false, "fail on warnings as well as errors")

	return cmd
}

func printCleanup(p *Printer, rep *audit.CleanupReport, artifacts []report.Artifact) {
	p.Println(p.Title("Cleanup audit"))
	p.Printf("Running entities: %d, declared services: %d\n", len(rep.RunningEntities), len(rep.DeclaredServices))
	if rep.Partial() {
		p.Println(p.Muted(fmt.Sprintf("Skipped hosts: %s (%d findings withheld)", strings.Join(rep.SkippedHosts, ", "), rep.Withheld)))
	}
	p.Println()

	if rep.Total() == 0 {
		p.Println(p.formatStatus("clean"), "no stale files found")
	} else {
		t := p.NewTable("KIND", "STACK", "FILE", "REASON")
		for _, f := range rep.Findings {
			t.AddRow(string(f.Kind), orDash(f.Stack), f.Path, truncate(f.Reason, 60))
		}
		t.Render()
	}
	printArtifacts(p, artifacts)
}

func printValidation(p *Printer, rep *audit.ValidationReport, artifacts []report.Artifact) {
	p.Println(p.Title("Structure validation"))
	p.Printf("Files checked: %d, errors: %d, warnings: %d, info: %d\n\n",
		rep.FilesChecked, rep.Errors, rep.Warnings, rep.Info)

	if len(rep.Issues) > 0 {
		t := p.NewTable("LEVEL", "RULE", "LOCATION", "MESSAGE")
		for _, is := range rep.Issues {
			loc := is.File
			if is.Line > 0 {
				loc += ":" + strconv.Itoa(is.Line)
			}
			t.AddRow(p.formatLevel(is.Level), is.Rule, loc, truncate(is.Message, 70))
		}
		t.Render()
		p.Println()
	}

	if rep.Passed {
		p.Println(p.formatStatus("passed"))
	} else {
		p.Println(p.formatStatus("failed"))
	}
	printArtifacts(p, artifacts)
}

func printArtifacts(p *Printer, artifacts []report.Artifact) {
	if len(artifacts) == 0 {
		return
	}
	paths := make([]string, 0, len(artifacts))
	for _, art := range artifacts {
		paths = append(paths, art.Path)
	}
	p.Println()
	p.Println(p.Muted("Reports: " + strings.Join(paths, ", ")))
}

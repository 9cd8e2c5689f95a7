package cli

import (
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/pratik-mahalle/stackdrift/internal/history"
	"github.com/pratik-mahalle/stackdrift/internal/pkg/errors"
)

func newHistoryCmd(a *app) *cobra.Command {
	var (
		limit        int
		remediations bool
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent detection runs and remediations",
		RunE: a.run(func(cmd *cobra.Command, args []string) error {
			store, err := a.history(cmd.Context())
			if err != nil {
				return err
			}
			if store == nil {
				return errors.Config("run history is disabled, set HISTORY_ENABLED=true", nil)
			}

			if remediations {
				rems, err := store.Remediations(cmd.Context(), limit)
				if err != nil {
					return err
				}
				if a.printer.Structured() {
					return a.printer.Print(rems)
				}
				printRemediations(a.printer, rems)
				return nil
			}

			runs, err := store.Recent(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if a.printer.Structured() {
				return a.printer.Print(runs)
			}
			printRuns(a.printer, runs)
			return nil
		}),
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "number of entries to show")
	cmd.Flags().BoolVar(&remediations, "remediations", false, "show remediation attempts instead of detection runs")

	return cmd
}

func printRuns(p *Printer, runs []history.Run) {
	if len(runs) == 0 {
		p.Println("No runs recorded.")
		return
	}
	t := p.NewTable("RUN", "TIME", "HOSTS", "ANALYZED", "DRIFTED", "BREAKING", "FAILURES")
	for _, r := range runs {
		t.AddRow(
			r.RunID,
			r.Timestamp.Local().Format(time.DateTime),
			truncate(strings.Join(r.Hosts, ","), 30),
			strconv.Itoa(r.EntitiesAnalyzed),
			strconv.Itoa(r.EntitiesWithDrift),
			strconv.Itoa(r.Severity.Breaking),
			strconv.Itoa(r.Failures),
		)
	}
	t.Render()
}

func printRemediations(p *Printer, rems []history.Remediation) {
	if len(rems) == 0 {
		p.Println("No remediations recorded.")
		return
	}
	t := p.NewTable("TIME", "RUN", "ENTITY", "STATE", "PULL REQUEST")
	for _, r := range rems {
		state := string(r.State)
		if r.DryRun && state != "failed" {
			state = "dry-run"
		}
		t.AddRow(
			r.CreatedAt.Local().Format(time.DateTime),
			r.RunID,
			r.EntityName,
			p.formatStatus(state),
			orDash(r.PullRequestURL),
		)
	}
	t.Render()
}

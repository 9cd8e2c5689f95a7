package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/pratik-mahalle/stackdrift/internal/services"
	"github.com/pratik-mahalle/stackdrift/internal/worker"
)

func newWatchCmd(a *app) *cobra.Command {
	var (
		schedule  string
		remediate bool
		hosts     []string
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Run drift detection on a schedule",
		Long: `Run detection once, then again on every tick of a cron schedule until
interrupted. With --remediate every drifted result is passed on to remediation,
honouring REMEDIATION_DRY_RUN.`,
		Example: `  stackdrift watch --schedule "@every 30m"
  stackdrift watch --schedule "0 */6 * * *" --remediate`,
		RunE: a.run(func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("hosts") {
				a.cfg.SSH.Hosts = hosts
			}
			if cmd.Flags().Changed("schedule") {
				a.cfg.Watch.Schedule = schedule
			}
			if cmd.Flags().Changed("remediate") {
				a.cfg.Watch.Remediate = remediate
			}
			if err := a.cfg.Validate(); err != nil {
				return err
			}
			if err := a.cfg.RequireInspection(); err != nil {
				return err
			}

			svc, store, err := a.detection(cmd.Context())
			if err != nil {
				return err
			}
			scanner, err := worker.NewDriftScanner(svc, a.cfg.SSH.Hosts, a.cfg.Watch.Schedule, a.log)
			if err != nil {
				return err
			}

			if a.cfg.Watch.Remediate {
				r := a.cfg.Remediation
				scanner.OnResult(func(ctx context.Context, det *services.Detection) {
					if !det.Result.HasDrift() {
						return
					}
					pub, err := a.publisher(r.DryRun, r.Draft, det.ReportPath())
					if err != nil {
						a.log.ErrorWithErr(err, "Failed to set up remediation")
						return
					}
					if _, err := services.NewRemediationService(pub, recorder(store), a.log).Remediate(ctx, det.Result, ""); err != nil {
						a.log.ErrorWithErr(err, "Scheduled remediation failed")
					}
				})
			}

			return scanner.Run(cmd.Context())
		}),
	}

	cmd.Flags().StringVar(&schedule, "schedule", "", `cron expression or descriptor such as "@every 1h" (default WATCH_SCHEDULE)`)
	cmd.Flags().BoolVar(&remediate, "remediate", false, "remediate drift after every scan")
	cmd.Flags().StringSliceVar(&hosts, "hosts", nil, "hosts to inspect (overrides SSH_HOSTS)")

	return cmd
}

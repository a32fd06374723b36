package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"costrologer/internal/scheduler"
)

var runCmd = &cobra.Command{
	Use:   "run JOB",
	Short: "Run one job once and exit",
	Long: fmt.Sprintf(`Run one scheduled job immediately. JOB is one of: %s.

Without a broker, the recurring job processes each due transaction inline
before returning. With AMQP_URL set, events are published for the workers
of a running "serve".`, strings.Join([]string{scheduler.JobRecurring, scheduler.JobBudgetAlerts, scheduler.JobMonthlyReports}, ", ")),
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{scheduler.JobRecurring, scheduler.JobBudgetAlerts, scheduler.JobMonthlyReports},
	RunE:      runJob,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runJob(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	a, err := newApp(ctx, cfg, transportInline)
	if err != nil {
		return err
	}
	defer a.Close()

	n, err := a.scheduler.RunNow(ctx, args[0])
	logger.Job(ctx, args[0], n, err)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: %d processed\n", args[0], n)
	return nil
}

package main

import (
	"fmt"
	"strings"

	"bqops/internal/bigquery"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newJobCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "job",
		Short: "Inspect load jobs",
	}
	cmd.AddCommand(newJobStatusCmd(a), newJobWaitCmd(a), newJobHistoryCmd(a))
	return cmd
}

// resolveJobID accepts "LOC:name" or a bare name. A bare name takes its
// location from the job history, then from the configured location.
func (a *app) resolveJobID(arg string) bigquery.JobID {
	if loc, name, ok := strings.Cut(arg, ":"); ok && loc != "" && name != "" {
		return bigquery.JobID{Name: name, Location: loc}
	}
	if h := a.jobHistory(); h != nil {
		if rec, ok, err := h.FindJob(arg); err == nil && ok {
			return rec.JobID
		}
	}
	return bigquery.JobID{Name: arg, Location: a.cfg.Load.Location}
}

// updateHistory records the job's latest state if the job is in the history.
func (a *app) updateHistory(id bigquery.JobID, state bigquery.JobState, stats *bigquery.LoadStatistics, jobErr error) {
	h := a.jobHistory()
	if h == nil {
		return
	}
	rec, ok, err := h.FindJob(id.Name)
	if err != nil || !ok {
		return
	}
	rec.State = state
	if stats != nil {
		rec.OutputRows = stats.OutputRows
		rec.FinishedAt = stats.FinishedAt
	}
	if jobErr != nil {
		rec.Error = bigquery.Reason(jobErr)
	}
	if err := h.RecordJob(rec); err != nil {
		a.log.Warn("failed to record job", zap.Error(err))
	}
}

func newJobStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status <job-id>",
		Short: "Show the state of a load job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			client, err := a.bigQuery(ctx)
			if err != nil {
				return err
			}
			id := a.resolveJobID(args[0])

			job, err := client.LookupJob(ctx, id)
			if err != nil {
				return err
			}
			state, err := job.State(ctx)
			if err != nil {
				return err
			}

			var (
				stats  *bigquery.LoadStatistics
				jobErr error
			)
			if state.Terminal() {
				stats, jobErr = job.Result()
				a.updateHistory(id, state, stats, jobErr)
			}
			return a.printJobState(cmd, id, state, stats, jobErr)
		},
	}
}

func newJobWaitCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "wait <job-id>",
		Short: "Wait for a load job to finish",
		Long: `Wait for a load job to finish. With a staging bucket configured, the
job's staging object is removed once the job is terminal.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			sub, err := a.submitter(ctx)
			if err != nil {
				return err
			}
			id := a.resolveJobID(args[0])

			job, err := sub.Job(ctx, id)
			if err != nil {
				return err
			}
			stats, err := job.Wait(ctx)
			switch {
			case err == nil:
				a.updateHistory(id, bigquery.JobSucceeded, stats, nil)
			case bigquery.LoadFailed.Has(err):
				a.updateHistory(id, bigquery.JobFailed, nil, err)
			default:
				return err
			}
			if printErr := a.printJobState(cmd, id, stateFor(err), stats, err); printErr != nil {
				return printErr
			}
			return err
		},
	}
}

func stateFor(err error) bigquery.JobState {
	if err != nil {
		return bigquery.JobFailed
	}
	return bigquery.JobSucceeded
}

func newJobHistoryCmd(a *app) *cobra.Command {
	var (
		limit int
		purge bool
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List load jobs submitted from this machine",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			h := a.jobHistory()
			if h == nil {
				return fmt.Errorf("job history is unavailable")
			}
			if purge {
				if err := h.ClearJobs(); err != nil {
					return err
				}
				a.printf(cmd, "Job history cleared\n")
				return nil
			}

			jobs, err := h.Jobs()
			if err != nil {
				return err
			}
			if limit > 0 && len(jobs) > limit {
				jobs = jobs[:limit]
			}

			rows := make([][]string, 0, len(jobs))
			for _, j := range jobs {
				detail := j.Error
				if j.State == bigquery.JobSucceeded {
					detail = fmt.Sprintf("%d rows", j.OutputRows)
				}
				rows = append(rows, []string{
					j.JobID.String(), j.Table.String(), j.State.String(), formatTime(j.SubmittedAt), detail,
				})
			}
			return a.emit(cmd, jobs, []string{"Job", "Table", "State", "Submitted", "Detail"}, rows)
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "Show at most this many jobs (0 for all)")
	cmd.Flags().BoolVar(&purge, "clear", false, "Remove the job history")
	return cmd
}

func (a *app) printJobState(cmd *cobra.Command, id bigquery.JobID, state bigquery.JobState, stats *bigquery.LoadStatistics, jobErr error) error {
	if a.output == "json" {
		out := map[string]any{"job": id.String(), "state": state.String()}
		if stats != nil {
			out["stats"] = stats
		}
		if jobErr != nil {
			out["error"] = bigquery.Reason(jobErr)
		}
		return printJSON(cmd.OutOrStdout(), out)
	}

	rows := [][]string{{"Job", id.String()}, {"State", state.String()}}
	if stats != nil {
		rows = append(rows,
			[]string{"Rows loaded", fmt.Sprint(stats.OutputRows)},
			[]string{"Duration", stats.Duration().String()},
		)
	}
	if jobErr != nil {
		rows = append(rows, []string{"Error", bigquery.Reason(jobErr)})
	}
	return renderTable(cmd.OutOrStdout(), []string{"Field", "Value"}, rows)
}

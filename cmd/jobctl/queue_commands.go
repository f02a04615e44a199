package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cuongbtq/cms-worker/internal/appctx"
	"github.com/cuongbtq/cms-worker/internal/worker/domain"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func newEnqueueCommand(ctx *commandContext) *cobra.Command {
	var (
		jobType     string
		data        string
		jobID       string
		maxAttempts int
	)

	cmd := &cobra.Command{
		Use:   "enqueue",
		Short: "Enqueue a job",
		Example: `  jobctl enqueue --type cache_invalidation --data '{"keys":["brand:acme:home"]}'
  jobctl enqueue --type release_deployment --data '{"release_id":"r-42","environment":"production"}'`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !domain.IsKnownJobType(jobType) {
				return fmt.Errorf("unknown job type %q (known: %s)", jobType, strings.Join(domain.KnownJobTypes, ", "))
			}

			var obj map[string]json.RawMessage
			if err := json.Unmarshal([]byte(data), &obj); err != nil || obj == nil {
				return errors.New("--data must be a JSON object")
			}

			// the API addresses jobs by UUID only
			if jobID == "" {
				jobID = uuid.NewString()
			} else {
				id, err := uuid.Parse(jobID)
				if err != nil {
					return fmt.Errorf("--id must be a UUID: %w", err)
				}
				jobID = id.String()
			}

			return ctx.withApp(cmd, func(ac *appctx.Context) error {
				job := domain.NewJob(jobID, jobType, json.RawMessage(data), maxAttempts)
				if err := ac.Queue.Enqueue(cmd.Context(), job); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Enqueued job %s (%s)\n", job.ID, job.Type)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&jobType, "type", "", "Job type")
	cmd.Flags().StringVar(&data, "data", "{}", "Job payload as a JSON object")
	cmd.Flags().StringVar(&jobID, "id", "", "Job ID as a UUID (default: random)")
	cmd.Flags().IntVar(&maxAttempts, "max-attempts", 0, "Attempt limit (default: worker setting)")
	_ = cmd.MarkFlagRequired("type")

	return cmd
}

func newDeadCommand(ctx *commandContext) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "dead",
		Short: "List dead-lettered jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return ctx.withApp(cmd, func(ac *appctx.Context) error {
				jobs, err := ac.Queue.ListDead(cmd.Context(), limit)
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				if len(jobs) == 0 {
					fmt.Fprintln(out, "No dead-lettered jobs")
					return nil
				}

				rows := make([][]string, 0, len(jobs))
				for _, job := range jobs {
					rows = append(rows, []string{
						job.ID,
						job.Type,
						strconv.Itoa(job.Attempts),
						job.LastError,
						job.UpdatedAt.Format(time.RFC3339),
					})
				}
				fmt.Fprintln(out, renderTable(
					[]string{"ID", "Type", "Attempts", "Last Error", "Updated"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft, alignLeft},
				))
				return nil
			})
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum number of jobs to show")
	return cmd
}

func newRequeueCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "requeue <job_id>",
		Short: "Move a dead-lettered job back to the queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jobID := strings.TrimSpace(args[0])
			return ctx.withApp(cmd, func(ac *appctx.Context) error {
				if err := ac.Queue.Requeue(cmd.Context(), jobID); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Requeued job %s\n", jobID)
				return nil
			})
		},
	}
}

func newCancelCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <job_id>",
		Short: "Cancel a job no worker has picked up yet",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jobID := strings.TrimSpace(args[0])
			return ctx.withApp(cmd, func(ac *appctx.Context) error {
				if err := ac.Queue.Cancel(cmd.Context(), jobID); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Canceled job %s\n", jobID)
				return nil
			})
		},
	}
}

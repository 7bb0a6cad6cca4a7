package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tkendall99/bedtime-solved/internal/pipeline"
	"github.com/tkendall99/bedtime-solved/internal/worker"
)

func newProcessNextCommand(ctx *commandContext) *cobra.Command {
	var jobID string
	cmd := &cobra.Command{
		Use:   "process-next",
		Short: "Run one pipeline step for the oldest queued job",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			deps, err := ctx.open(cmd.Context())
			if err != nil {
				return err
			}
			proc, err := deps.Processor(cmd.Context())
			if err != nil {
				return err
			}
			var res pipeline.ProcessResult
			if id := strings.TrimSpace(jobID); id != "" {
				res, err = proc.ProcessJob(cmd.Context(), id)
			} else {
				res, err = proc.ProcessNext(cmd.Context())
			}
			if err != nil {
				return err
			}
			if !res.Processed {
				fmt.Fprintln(cmd.OutOrStdout(), "No queued jobs")
				return nil
			}
			if res.HasMore {
				if err := deps.Notifier.Notify(cmd.Context(), res.JobID); err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "warning: continuation not published: %v\n", err)
				}
			}
			return writeJSON(cmd, res)
		},
	}
	cmd.Flags().StringVar(&jobID, "job-id", "", "Process this job instead of the oldest queued one")
	return cmd
}

func newDrainCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "drain",
		Short: "Run pipeline steps until no queued jobs remain",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			deps, err := ctx.open(cmd.Context())
			if err != nil {
				return err
			}
			proc, err := deps.Processor(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			steps, err := worker.Drain(cmd.Context(), proc, func(res pipeline.ProcessResult) {
				fmt.Fprintln(out, formatResult(res))
			})
			fmt.Fprintf(out, "%d step(s) run\n", steps)
			return err
		},
	}
}

func formatResult(res pipeline.ProcessResult) string {
	line := fmt.Sprintf("%s  %-15s -> %-10s", res.JobID, res.Step, res.JobStatus)
	if res.NextStep != "" {
		line += "  next=" + string(res.NextStep)
	}
	if res.Error != "" {
		line += "  error=" + res.Error
	}
	return line
}

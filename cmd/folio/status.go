package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/healthfolio/folio/internal/cli"
	"github.com/healthfolio/folio/internal/model"
	"github.com/healthfolio/folio/internal/poll"
	"github.com/healthfolio/folio/internal/tui"
)

func statusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show extraction progress",
		Long: `Show the aggregate progress of extractions in flight. With --watch, opens
a live dashboard that tracks each document until the batch settles.`,
		RunE: runStatus,
	}

	cmd.Flags().BoolP("watch", "w", false, "Open the live dashboard")

	_ = viper.BindPFlag("status.watch", cmd.Flags().Lookup("watch"))

	return cmd
}

func runStatus(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	client, err := newAPIClient()
	if err != nil {
		return err
	}

	if !viper.GetBool("status.watch") {
		snapshot, err := client.GetExtractionProgress(ctx)
		if err != nil {
			return fmt.Errorf("failed to fetch extraction progress: %w", err)
		}

		if snapshot.Total == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), cli.FormatInfo("No extractions in flight."))
			return nil
		}

		fmt.Fprintf(cmd.OutOrStdout(), "%.0f%% done: %d completed, %d failed, %d processing, %d pending (of %d)\n",
			snapshot.Percent(), snapshot.Completed, snapshot.Failed,
			snapshot.Processing, snapshot.Pending, snapshot.Total)
		return nil
	}

	pending, err := client.GetPendingExtraction(ctx, []string{
		string(model.StatusPending), string(model.StatusProcessing), string(model.StatusFailed),
	})
	if err != nil {
		return fmt.Errorf("failed to fetch pending extractions: %w", err)
	}
	if len(pending) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), cli.FormatInfo("No extractions to watch."))
		return nil
	}

	jobs := make([]model.UploadJob, 0, len(pending))
	for _, u := range pending {
		jobs = append(jobs, model.UploadJob{
			ID:       u.UploadID,
			Filename: u.Filename,
			FileType: u.FileType,
			Category: model.CategoryUnstructured,
			Status:   model.UploadStatus(u.Status),
		})
	}

	failed, err := tui.Run(ctx, client, jobs, poll.DefaultOptions())
	if err != nil {
		return err
	}
	if failed > 0 {
		fmt.Fprintln(cmd.OutOrStdout(), cli.FormatWarning(
			fmt.Sprintf("%d extraction(s) still failed; run folio retry", failed)))
	}
	return nil
}

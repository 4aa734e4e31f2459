package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/healthfolio/folio/internal/api"
	"github.com/healthfolio/folio/internal/cli"
	"github.com/healthfolio/folio/internal/poll"
)

func retryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "retry [upload-ids...]",
		Short: "Re-run failed extractions",
		Long: `Trigger extraction again for failed documents. With no arguments every
failed extraction is retried; otherwise only the named uploads are.

Retrying a document that is already processing is a no-op on the server, so
the command is safe to repeat.`,
		RunE: runRetry,
	}
}

func runRetry(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	client, err := newAPIClient()
	if err != nil {
		return err
	}

	controller := poll.NewRetryController(client)

	var results []api.TriggerResult
	if len(args) == 0 {
		results, err = controller.RetryAllFailed(ctx)
	} else {
		results, err = controller.Retry(ctx, args)
	}
	if err != nil {
		return fmt.Errorf("failed to retry extractions: %w", err)
	}

	if len(results) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), cli.FormatInfo("Nothing to retry."))
		return nil
	}

	for _, r := range results {
		fmt.Fprintf(cmd.OutOrStdout(), "  %s %s: %s\n", cli.SuccessIcon, r.UploadID, r.Status)
	}
	fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess(
		fmt.Sprintf("Re-triggered %d extraction(s). Track them with folio status --watch.", len(results))))
	return nil
}

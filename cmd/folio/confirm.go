package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/healthfolio/folio/internal/cli"
	"github.com/healthfolio/folio/internal/common"
	"github.com/healthfolio/folio/internal/model"
	"github.com/healthfolio/folio/internal/review"
	"github.com/healthfolio/folio/internal/session"
)

func confirmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "confirm",
		Short: "Review and confirm extractions from earlier sessions",
		Long: `Pick up extractions that finished but were never confirmed, review their
entities, and confirm them into the health record. Useful after an
interrupted upload or a --no-confirm run.`,
		RunE: runConfirm,
	}
}

func runConfirm(cmd *cobra.Command, _ []string) error {
	ctx, cancelIdle := context.WithCancel(cmd.Context())
	defer cancelIdle()

	// An abandoned review should not hold unconfirmed extractions open
	// forever; the idle timer exits the session instead.
	idleTimeout := viper.GetDuration("session.idle_timeout")
	if idleTimeout <= 0 {
		idleTimeout = 15 * time.Minute
	}
	sess := session.New(func() {
		slog.Warn("Review session idle too long, exiting",
			"timeout", idleTimeout)
		cancelIdle()
	})
	sess.Init(idleTimeout)
	defer sess.Teardown()

	client, err := newAPIClient()
	if err != nil {
		return err
	}

	pending, err := client.GetPendingExtraction(ctx, []string{
		string(model.StatusAwaitingConfirmation),
	})
	if err != nil {
		return fmt.Errorf("failed to fetch unconfirmed extractions: %w", err)
	}
	if len(pending) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), cli.FormatInfo("Nothing awaiting confirmation."))
		return nil
	}

	reviews := review.NewManager(client)
	for _, u := range pending {
		result, err := client.GetExtraction(ctx, u.UploadID)
		if err != nil {
			slog.Warn("Skipping upload with unreadable extraction",
				"upload_id", u.UploadID, "error", err)
			continue
		}
		reviews.Ingest(result, u.Filename)
	}

	active := reviews.ActiveJobs()
	if len(active) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), cli.FormatInfo("Nothing awaiting confirmation."))
		return nil
	}

	patients, err := client.GetPatients(ctx)
	if err != nil {
		return fmt.Errorf("failed to load patients: %w", err)
	}
	if len(patients) == 0 {
		return common.ErrNoPatientChosen
	}
	reviews.SetPatients(patients)

	prompter := cli.NewPrompter(os.Stdin, os.Stdout)
	chosen, err := prompter.ChoosePatient(ctx, patients)
	if err != nil {
		return err
	}
	if err := reviews.ChoosePatient(chosen.ID); err != nil {
		return err
	}

	confirmed := 0
	records := 0
	for _, job := range active {
		if err := sess.Reset(); err != nil {
			return err
		}
		decision, err := prompter.ReviewEntities(ctx, job)
		if err != nil {
			return err
		}
		if !decision.Confirm {
			continue
		}

		reviews.SelectNone(job.UploadID)
		for _, id := range decision.SelectedLocalIDs {
			if terr := reviews.Toggle(job.UploadID, id); terr != nil {
				slog.Warn("Ignoring unknown entity in selection",
					"upload_id", job.UploadID, "entity", id)
			}
		}

		resp, err := reviews.Confirm(ctx, job.UploadID)
		if err != nil {
			fmt.Fprintln(cmd.OutOrStdout(), cli.FormatError(
				fmt.Sprintf("%s: %v", job.Filename, err)))
			continue
		}
		confirmed++
		records += resp.RecordsCreated
	}

	fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess(
		fmt.Sprintf("Confirmed %d upload(s), %d record(s) created.", confirmed, records)))
	return nil
}

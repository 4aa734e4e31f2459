package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/healthfolio/folio/internal/archive"
	"github.com/healthfolio/folio/internal/cli"
	"github.com/healthfolio/folio/internal/engine"
	"github.com/healthfolio/folio/internal/model"
	"github.com/healthfolio/folio/internal/review"
	"github.com/healthfolio/folio/internal/service"
)

func uploadCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "upload [files...]",
		Short: "Upload health records and confirm extracted entities",
		Long: `Upload health record files to the server. Structured exports (JSON, CSV,
TSV, ZIP) are ingested directly; documents and images go through entity
extraction, which you review and confirm interactively.

A directory is packaged into a single archive before upload:

  folio upload records.json visit.pdf
  folio upload --dir ~/exports/2026-08`,
		RunE: runUpload,
	}

	cmd.Flags().StringP("dir", "d", "", "Package a directory into one archive and upload it")
	cmd.Flags().Bool("no-confirm", false, "Skip the interactive entity review")
	cmd.Flags().Duration("poll-deadline", 0, "Give up on an extraction after this long (default 10m)")

	_ = viper.BindPFlag("upload.dir", cmd.Flags().Lookup("dir"))
	_ = viper.BindPFlag("upload.no_confirm", cmd.Flags().Lookup("no-confirm"))
	_ = viper.BindPFlag("upload.poll_deadline", cmd.Flags().Lookup("poll-deadline"))

	return cmd
}

func runUpload(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	dir := viper.GetString("upload.dir")
	if dir == "" && len(args) == 0 {
		return fmt.Errorf("nothing to upload: pass files or --dir")
	}

	files, err := loadFiles(args)
	if err != nil {
		return err
	}

	if dir != "" {
		payload, err := packageDirectory(cmd, dir)
		if err != nil {
			return err
		}
		files = append(files, payload)
	}

	client, err := newAPIClient()
	if err != nil {
		return err
	}

	store, err := initStorage(ctx)
	if err != nil {
		slog.Warn("History cache unavailable, continuing without it", "error", err)
		store = nil
	} else {
		defer func() {
			if cerr := store.Close(); cerr != nil {
				slog.Warn("Failed to close storage", "error", cerr)
			}
		}()
	}

	if store != nil {
		warnDuplicates(ctx, store, files)
	}

	prompter := cli.NewPrompter(os.Stdin, os.Stdout)

	engineConfig := engine.DefaultConfig()
	if deadline := viper.GetDuration("upload.poll_deadline"); deadline > 0 {
		engineConfig.Poll.Deadline = deadline
	}
	engineConfig.OnUpload = prompter.AdvanceUploadProgress
	engineConfig.OnProgress = prompter.ShowExtractionProgress

	var eng *engine.IngestionEngine
	if viper.GetBool("upload.no_confirm") {
		eng = engine.NewWithConfig(client, store, skipReviewPrompter{}, engineConfig)
	} else {
		eng = engine.NewWithConfig(client, store, prompter, engineConfig)
	}

	prompter.StartUploadProgress(len(files))
	stats, err := eng.Run(ctx, files)
	if err != nil {
		return err
	}

	prompter.ShowCompletion(stats)
	return nil
}

// packageDirectory zips a folder into one structured payload, showing
// packaging progress on the terminal.
func packageDirectory(cmd *cobra.Command, dir string) (model.FilePayload, error) {
	folderName, entries, err := loadDirEntries(dir)
	if err != nil {
		return model.FilePayload{}, err
	}

	bar := progressbar.NewOptions(100,
		progressbar.OptionSetWriter(cmd.OutOrStdout()),
		progressbar.OptionSetDescription("Packaging "+folderName),
		progressbar.OptionClearOnFinish(),
	)
	packager := archive.NewPackager(func(percent int) {
		_ = bar.Set(percent)
	})

	payload, err := packager.Package(cmd.Context(), folderName, entries)
	if err != nil {
		return model.FilePayload{}, err
	}

	slog.Info("Directory packaged",
		"folder", folderName,
		"files", len(entries),
		"archive", payload.Name,
		"bytes", len(payload.Content))
	return payload, nil
}

// warnDuplicates flags files whose content already appears in the cached
// upload history. The server deduplicates anyway; this just saves a trip.
func warnDuplicates(ctx context.Context, store service.Storage, files []model.FilePayload) {
	for _, f := range files {
		prior, err := store.FindByHash(ctx, f.Hash())
		if err != nil {
			continue
		}
		slog.Warn("File content already uploaded",
			"file", f.Name,
			"previous_upload", prior.ID,
			"uploaded_at", prior.CreatedAt)
	}
}

// skipReviewPrompter declines every review so extractions stay on the
// server for a later folio confirm.
type skipReviewPrompter struct{}

func (skipReviewPrompter) ChoosePatient(_ context.Context, patients []model.Patient) (model.Patient, error) {
	return patients[0], nil
}

func (skipReviewPrompter) ReviewEntities(_ context.Context, _ *review.JobReview) (engine.Decision, error) {
	return engine.Decision{Confirm: false}, nil
}

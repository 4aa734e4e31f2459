package main

import (
	"fmt"
	"log/slog"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/healthfolio/folio/internal/cli"
	"github.com/healthfolio/folio/internal/model"
	"github.com/healthfolio/folio/internal/service"
)

func historyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show upload history",
		Long: `Show the server's upload history. Results are cached locally and only
refetched after an upload or with --refresh.`,
		RunE: runHistory,
	}

	cmd.Flags().String("status", "", "Filter by status (pending, processing, awaiting_confirmation, completed, failed)")
	cmd.Flags().IntP("limit", "n", 25, "Maximum rows to show")
	cmd.Flags().Bool("refresh", false, "Refetch from the server even if the cache is fresh")

	_ = viper.BindPFlag("history.status", cmd.Flags().Lookup("status"))
	_ = viper.BindPFlag("history.limit", cmd.Flags().Lookup("limit"))
	_ = viper.BindPFlag("history.refresh", cmd.Flags().Lookup("refresh"))

	return cmd
}

func runHistory(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	store, err := initStorage(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := store.Close(); cerr != nil {
			slog.Warn("Failed to close storage", "error", cerr)
		}
	}()

	stale, err := store.IsStale(ctx)
	if err != nil {
		slog.Warn("Could not check cache freshness, refetching", "error", err)
		stale = true
	}

	if stale || viper.GetBool("history.refresh") {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		items, err := client.GetHistory(ctx)
		if err != nil {
			return fmt.Errorf("failed to fetch upload history: %w", err)
		}
		if err := store.SaveHistory(ctx, items); err != nil {
			slog.Warn("Failed to cache upload history", "error", err)
		}
	}

	filter := service.HistoryFilter{
		Status: model.UploadStatus(viper.GetString("history.status")),
		Limit:  viper.GetInt("history.limit"),
	}
	items, err := store.GetHistory(ctx, filter)
	if err != nil {
		return fmt.Errorf("failed to read upload history: %w", err)
	}

	if len(items) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), cli.FormatInfo("No uploads yet."))
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "UPLOADED\tFILE\tSTATUS\tRECORDS\tSIZE")
	for _, item := range items {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n",
			item.CreatedAt.Format("2006-01-02 15:04"),
			item.Filename,
			item.Status,
			item.RecordCount,
			formatBytes(item.FileSizeBytes))
	}
	return w.Flush()
}

func formatBytes(n int64) string {
	switch {
	case n >= 1<<20:
		return fmt.Sprintf("%.1f MB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1f KB", float64(n)/(1<<10))
	default:
		return fmt.Sprintf("%d B", n)
	}
}

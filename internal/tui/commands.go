package tui

import (
	"context"
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

func pollTick(interval time.Duration) tea.Cmd {
	return tea.Tick(interval, func(time.Time) tea.Msg {
		return pollTickMsg{}
	})
}

func fetchResult(ctx context.Context, client Client, uploadID string) tea.Cmd {
	return func() tea.Msg {
		result, err := client.GetExtraction(ctx, uploadID)
		if err != nil {
			return fetchErrMsg{uploadID: uploadID, err: err}
		}
		return resultMsg{result: result}
	}
}

func fetchSnapshot(ctx context.Context, client Client) tea.Cmd {
	return func() tea.Msg {
		snapshot, err := client.GetExtractionProgress(ctx)
		if err != nil {
			return fetchErrMsg{err: err}
		}
		return snapshotMsg{snapshot: *snapshot}
	}
}

func retryFailed(ctx context.Context, client Client, uploadIDs []string) tea.Cmd {
	return func() tea.Msg {
		_, err := client.TriggerExtraction(ctx, uploadIDs)
		return retryDoneMsg{uploadIDs: uploadIDs, err: err}
	}
}

package tui

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/healthfolio/folio/internal/model"
	"github.com/healthfolio/folio/internal/poll"
)

// Run launches the extraction dashboard and blocks until the user exits or
// ctx is canceled. Returns the number of jobs left failed or timed out.
func Run(ctx context.Context, client Client, jobs []model.UploadJob, options poll.Options) (int, error) {
	m := New(ctx, client, jobs, options)

	program := tea.NewProgram(m, tea.WithContext(ctx))
	final, err := program.Run()
	if err != nil {
		return 0, fmt.Errorf("dashboard failed: %w", err)
	}

	finalModel, ok := final.(Model)
	if !ok {
		return 0, nil
	}
	return finalModel.FailedCount(), nil
}

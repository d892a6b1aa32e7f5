package main

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/desertthunder/datainserter/internal/models"
	"github.com/desertthunder/datainserter/internal/ui"
)

// runTUI drives run behind the interactive progress view and returns its outcome once the view exits.
func (r *Runner) runTUI(ctx context.Context, run ui.RunFunc) (*models.ProcessingResult, error) {
	model := ui.NewModel(ctx, run)
	p := tea.NewProgram(model)

	if _, err := p.Run(); err != nil {
		return nil, fmt.Errorf("error running TUI: %w", err)
	}

	return model.Result()
}

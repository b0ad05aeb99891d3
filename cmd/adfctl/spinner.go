package main

import (
	"context"
	"fmt"
	"io"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

type saveDoneMsg struct {
	err error
}

type saveSpinnerModel struct {
	spinner spinner.Model
	label   string
	save    tea.Cmd
	err     error
	done    bool
}

func newSaveSpinnerModel(label string, save tea.Cmd) saveSpinnerModel {
	s := spinner.New(
		spinner.WithSpinner(spinner.Dot),
		spinner.WithStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("69"))),
	)

	return saveSpinnerModel{
		spinner: s,
		label:   label,
		save:    save,
	}
}

func (m saveSpinnerModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.save)
}

func (m saveSpinnerModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	case saveDoneMsg:
		m.done = true
		m.err = msg.err
		return m, tea.Quit
	default:
		return m, nil
	}
}

func (m saveSpinnerModel) View() string {
	if m.done {
		return ""
	}

	return fmt.Sprintf("%s %s", m.spinner.View(), m.label)
}

// runSaveSpinner runs save under a spinner until it returns. Input is
// disabled; the save is cancelled through ctx.
func runSaveSpinner(ctx context.Context, output io.Writer, save func() error) error {
	saveCmd := func() tea.Msg {
		return saveDoneMsg{err: save()}
	}

	p := tea.NewProgram(
		newSaveSpinnerModel("Saving area description...", saveCmd),
		tea.WithInput(nil),
		tea.WithOutput(output),
		tea.WithContext(ctx),
	)

	finalModel, err := p.Run()
	if err != nil {
		return err
	}

	result, ok := finalModel.(saveSpinnerModel)
	if !ok {
		return fmt.Errorf("unexpected final spinner model type %T", finalModel)
	}

	return result.err
}

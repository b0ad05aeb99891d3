package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/meridian-robotics/areatrack/internal/httputil"
)

var watchHintStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))

// progressEvent is one update off the daemon's save-progress stream.
type progressEvent struct {
	percent int
	err     error
	closed  bool
}

type watchModel struct {
	prog    progress.Model
	events  <-chan progressEvent
	percent int
	seen    bool
	err     error
	done    bool
}

func newWatchModel(events <-chan progressEvent) watchModel {
	return watchModel{
		prog:   progress.New(progress.WithDefaultGradient()),
		events: events,
	}
}

func waitForProgress(events <-chan progressEvent) tea.Cmd {
	return func() tea.Msg {
		return <-events
	}
}

func (m watchModel) Init() tea.Cmd {
	return waitForProgress(m.events)
}

func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			m.done = true
			return m, tea.Quit
		}
		return m, nil

	case tea.WindowSizeMsg:
		width := msg.Width - 12
		if width < 10 {
			width = 10
		}
		m.prog.Width = width
		return m, nil

	case progressEvent:
		if msg.err != nil {
			m.err = msg.err
			m.done = true
			return m, tea.Quit
		}
		if msg.closed {
			m.done = true
			return m, tea.Quit
		}
		m.seen = true
		m.percent = msg.percent
		return m, waitForProgress(m.events)
	}

	return m, nil
}

func (m watchModel) View() string {
	if m.done {
		return ""
	}

	label := "waiting for a save to start"
	if m.seen {
		label = fmt.Sprintf("%d%%", m.percent)
	}

	return fmt.Sprintf("\n  Area description save\n\n  %s %s\n\n  %s\n",
		m.prog.ViewAs(float64(m.percent)/100), label,
		watchHintStyle.Render("press q to quit"))
}

// streamProgress reads the daemon's SSE stream and forwards each percent to
// events. It returns when the stream ends or ctx is cancelled; sends race
// ctx so an exited consumer never strands the goroutine.
func streamProgress(ctx context.Context, httpc httputil.HTTPClient, streamURL string, events chan<- progressEvent) {
	send := func(ev progressEvent) bool {
		select {
		case events <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, streamURL, nil)
	if err != nil {
		send(progressEvent{err: err})
		return
	}
	resp, err := httpc.Do(req)
	if err != nil {
		send(progressEvent{err: err})
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		send(progressEvent{err: fmt.Errorf("unexpected status %d", resp.StatusCode)})
		return
	}

	scan := bufio.NewScanner(resp.Body)
	for scan.Scan() {
		line := scan.Text()
		if !strings.HasPrefix(line, "data: ") {
			// Pings and blank keepalive rows.
			continue
		}
		var update struct {
			Percent int `json:"percent"`
		}
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &update); err != nil {
			continue
		}
		if !send(progressEvent{percent: update.Percent}) {
			return
		}
	}
	if err := scan.Err(); err != nil && ctx.Err() == nil {
		send(progressEvent{err: err})
		return
	}
	send(progressEvent{closed: true})
}

func newWatchCmd(httpc httputil.HTTPClient) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Follow save progress live",
		Long:  "Watch subscribes to the daemon's save-progress stream and renders a live progress bar. The view updates for every save the session runs until you quit.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			api := newAPIClient(httpc)

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			events := make(chan progressEvent)
			go streamProgress(ctx, api.httpc, api.endpoint("/api/progress/stream", nil), events)

			p := tea.NewProgram(
				newWatchModel(events),
				tea.WithOutput(cmd.OutOrStdout()),
				tea.WithContext(ctx),
			)

			finalModel, err := p.Run()
			if err != nil {
				return err
			}
			if m, ok := finalModel.(watchModel); ok && m.err != nil {
				return fmt.Errorf("progress stream: %w", m.err)
			}
			return nil
		},
	}
}

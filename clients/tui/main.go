package tui

import (
	"context"
	"errors"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/skratchdot/open-golang/open"

	"github.com/dohr-michael/taskgate/internal/events"
	"github.com/dohr-michael/taskgate/internal/unlock"
)

// Options configures Run.
type Options struct {
	Visit unlock.VisitOptions
	Bus   *events.Bus
	// Open opens link tasks; defaults to the system browser.
	Open func(url string) error
	// ProgramOptions are appended to the defaults (alt screen, mouse, focus).
	ProgramOptions []tea.ProgramOption
}

// Run hosts one visit in the terminal until the user quits. It returns the
// revealed reference, if any.
func Run(ctx context.Context, opts Options) (string, error) {
	if opts.Bus == nil {
		opts.Bus = events.NewBus(256)
		defer opts.Bus.Close()
	}
	if opts.Open == nil {
		opts.Open = open.Run
	}
	opts.Visit.Bus = opts.Bus

	visit, err := unlock.NewVisit(opts.Visit)
	if err != nil {
		return "", fmt.Errorf("open visit: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Subscribe before Run so visit.started is projected.
	ch, unsub := opts.Bus.SubscribeSessionChan(visit.ID(), 256)
	defer unsub()

	app := NewApp(runCtx, visit, opts.Open)
	programOpts := append([]tea.ProgramOption{
		tea.WithContext(runCtx),
		tea.WithAltScreen(),
		tea.WithMouseCellMotion(),
		tea.WithReportFocus(),
	}, opts.ProgramOptions...)
	p := tea.NewProgram(app, programOpts...)

	go func() {
		for e := range ch {
			if msg := Project(e); msg != nil {
				p.Send(msg)
			}
		}
	}()

	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		visit.Run(runCtx)
	}()

	_, err = p.Run()
	cancel()
	<-runDone
	if err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return app.Ref(), fmt.Errorf("tui: %w", err)
	}
	return app.Ref(), nil
}

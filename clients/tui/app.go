package tui

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/dohr-michael/taskgate/clients/tui/atoms"
	"github.com/dohr-michael/taskgate/clients/tui/organisms"
	"github.com/dohr-michael/taskgate/internal/unlock"
)

// Visit is the runtime the app drives.
type Visit interface {
	ID() string
	Send(ctx context.Context, in unlock.Input) (unlock.Result, error)
}

// sendTimeout bounds one input round trip to the visit loop.
const sendTimeout = 2 * time.Second

// App is the main TUI application model.
// Architecture: TITLE | PROGRESS | TASKS | GATE | FOOTER
type App struct {
	// Components
	tasks    organisms.TaskList
	info     organisms.InformationPanel
	progress progress.Model
	spinner  atoms.Spinner

	// State
	width             int
	height            int
	fraction          float64
	unlocked          bool
	resourceAvailable bool
	ref               string
	notice            string
	lockout           *LockoutMsg
	closed            bool
	quitting          bool

	// Dependencies
	ctx   context.Context
	visit Visit
	open  func(url string) error
}

// NewApp creates a new TUI application driving visit. open is used for
// link tasks.
func NewApp(ctx context.Context, visit Visit, open func(url string) error) *App {
	info := organisms.NewInformationPanel(StatusBarStyle)
	info.SetVisit(visit.ID())

	return &App{
		tasks: organisms.NewTaskList(organisms.TaskListStyles{
			Border:       TaskBorderStyle,
			ActiveBorder: ActiveBorderStyle,
			Muted:        MutedStyle,
		}),
		info:              info,
		progress:          progress.New(progress.WithDefaultGradient(), progress.WithoutPercentage()),
		spinner:           atoms.NewSpinner(ColorActive),
		resourceAvailable: true,
		ctx:               ctx,
		visit:             visit,
		open:              open,
	}
}

// Ref returns the revealed reference, empty if none was revealed.
func (a *App) Ref() string { return a.ref }

// Init starts the spinner ticks.
func (a *App) Init() tea.Cmd {
	return a.spinner.Init()
}

// send delivers one input synchronously so inputs reach the visit in the
// order the terminal produced them.
func (a *App) send(in unlock.Input) (unlock.Result, error) {
	ctx, cancel := context.WithTimeout(a.ctx, sendTimeout)
	defer cancel()
	return a.visit.Send(ctx, in)
}

// Update handles messages and updates state.
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.updateSizes()
		a.send(unlock.Resize{W: msg.Width, H: msg.Height})
		return a, nil

	case tea.FocusMsg:
		a.info.SetFocused(true)
		a.send(unlock.FocusChanged{Focused: true})
		return a, nil

	case tea.BlurMsg:
		a.info.SetFocused(false)
		a.send(unlock.FocusChanged{Focused: false})
		return a, nil

	case tea.MouseMsg:
		if msg.Button == tea.MouseButtonRight && msg.Action == tea.MouseActionPress {
			a.send(unlock.ContextMenu{})
		}
		return a, nil

	case tea.KeyMsg:
		return a.handleKey(msg)

	// --- visit events ---

	case VisitStartedMsg:
		a.tasks.SetTasks(msg.Tasks)
		a.resourceAvailable = msg.ResourceAvailable
		a.info.SetProgress(0, len(msg.Tasks))

	case TaskEligibleMsg:
		a.tasks.SetEligible(msg.TaskID)

	case TaskStateMsg:
		a.tasks.SetState(msg.TaskID, msg.State, msg.Remaining)

	case TaskTickMsg:
		a.tasks.SetTick(msg.TaskID, msg.Remaining, msg.Paused)

	case OpenLinkMsg:
		open, url := a.open, msg.URL
		return a, func() tea.Msg {
			if open == nil {
				return nil
			}
			if err := open(url); err != nil {
				return openErrorMsg{err: err}
			}
			return nil
		}

	case openErrorMsg:
		a.notice = fmt.Sprintf("Could not open link: %v", msg.err)

	case ProgressMsg:
		a.fraction = msg.Fraction
		a.info.SetProgress(msg.Completed, msg.Total)

	case UnlockedMsg:
		a.unlocked = true
		a.resourceAvailable = msg.ResourceAvailable
		a.info.SetStatus("unlocked")
		if !msg.ResourceAvailable {
			a.notice = unlock.NotAvailableMessage
		}

	case DecodeFailedMsg:
		a.resourceAvailable = false

	case ViolationMsg:
		a.info.SetViolations(msg.Count)

	case LockoutMsg:
		lo := msg
		a.lockout = &lo
		a.info.SetStatus("locked out")

	case VisitClosedMsg:
		a.closed = true
		if msg.Reason != "lockout" {
			a.quitting = true
			return a, tea.Quit
		}
	}

	var cmd tea.Cmd
	a.spinner, cmd = a.spinner.Update(msg)
	return a, cmd
}

func (a *App) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "q":
		a.quitting = true
		return a, tea.Quit
	}

	if a.lockout != nil {
		return a, nil
	}

	switch msg.String() {
	case "enter", " ":
		id, ok := a.tasks.Eligible()
		if !ok {
			return a, nil
		}
		res, err := a.send(unlock.StartTask{ID: id})
		switch {
		case err != nil:
			a.notice = err.Error()
		case !res.Started:
			a.notice = "That task cannot be started yet."
		default:
			a.notice = ""
		}
		return a, nil

	case "r":
		res, err := a.send(unlock.Reveal{})
		if err == nil {
			err = res.Err
		}
		switch {
		case err == nil:
			a.ref = res.Ref
			a.notice = ""
		case errors.Is(err, unlock.ErrNoReference):
			a.notice = unlock.NotAvailableMessage
		case errors.Is(err, unlock.ErrNotUnlocked):
			a.notice = "Complete all steps first."
		default:
			a.notice = err.Error()
		}
		return a, nil
	}

	// Everything else goes through the shortcut probe.
	a.send(unlock.KeyDown{Key: msg.String()})
	return a, nil
}

func (a *App) updateSizes() {
	a.tasks.SetWidth(a.width)
	a.info.SetWidth(a.width)
	w := a.width - 4
	if w > 60 {
		w = 60
	}
	if w < 10 {
		w = 10
	}
	a.progress.Width = w
}

// View renders the application.
func (a *App) View() string {
	if a.quitting {
		return ""
	}
	if a.lockout != nil {
		return a.lockoutView()
	}

	sections := []string{
		TitleStyle.Render("Complete the steps to unlock your resource"),
		a.progress.ViewAs(a.fraction),
		a.tasks.View(a.spinner.View()),
		a.gateView(),
	}
	if a.notice != "" {
		sections = append(sections, WarningStyle.Render(a.notice))
	}
	sections = append(sections,
		MutedStyle.Render("enter start • r reveal • q quit"),
		a.info.View(),
	)
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (a *App) gateView() string {
	switch {
	case a.ref != "":
		return DoneStyle.Render("Your resource: ") + a.ref
	case a.unlocked && a.resourceAvailable:
		return DoneStyle.Render("Unlocked! Press r to reveal your resource.")
	case a.unlocked:
		return ErrorStyle.Render(unlock.NotAvailableMessage)
	default:
		return MutedStyle.Render("Complete all steps first")
	}
}

func (a *App) lockoutView() string {
	box := LockoutStyle.Render(
		ErrorStyle.Render(a.lockout.Title) + "\n\n" + a.lockout.Message,
	)
	if a.width == 0 || a.height == 0 {
		return box
	}
	return lipgloss.Place(a.width, a.height, lipgloss.Center, lipgloss.Center, box)
}

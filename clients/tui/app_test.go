package tui

import (
	"context"
	"errors"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/dohr-michael/taskgate/internal/events"
	"github.com/dohr-michael/taskgate/internal/unlock"
)

// fakeVisit records inputs and answers with canned results.
type fakeVisit struct {
	inputs  []unlock.Input
	started bool
	reveal  unlock.Result
}

func (f *fakeVisit) ID() string { return "visit_test" }

func (f *fakeVisit) Send(_ context.Context, in unlock.Input) (unlock.Result, error) {
	f.inputs = append(f.inputs, in)
	switch in.(type) {
	case unlock.StartTask:
		return unlock.Result{Started: f.started}, nil
	case unlock.Reveal:
		return f.reveal, nil
	}
	return unlock.Result{}, nil
}

func newTestApp(t *testing.T) (*App, *fakeVisit) {
	t.Helper()
	fv := &fakeVisit{started: true}
	app := NewApp(t.Context(), fv, nil)
	app.Update(tea.WindowSizeMsg{Width: 100, Height: 40})
	app.Update(VisitStartedMsg{
		Tasks: []events.TaskSummary{
			{ID: "a", Step: 1, Title: "First", ActionLabel: "Go", DurationSeconds: 5},
			{ID: "b", Step: 2, Title: "Second", ActionLabel: "Go", DurationSeconds: 5},
		},
		ResourceAvailable: true,
	})
	fv.inputs = nil
	return app, fv
}

func key(s string) tea.KeyMsg {
	switch s {
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	case "f12":
		return tea.KeyMsg{Type: tea.KeyF12}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func TestApp_EnterStartsEligibleTask(t *testing.T) {
	app, fv := newTestApp(t)

	app.Update(key("enter"))
	if len(fv.inputs) != 0 {
		t.Fatalf("nothing is eligible yet, got inputs %v", fv.inputs)
	}

	app.Update(TaskEligibleMsg{TaskID: "a"})
	app.Update(key("enter"))
	if len(fv.inputs) != 1 || fv.inputs[0] != (unlock.StartTask{ID: "a"}) {
		t.Fatalf("expected StartTask{a}, got %v", fv.inputs)
	}
}

func TestApp_StateAndTickRender(t *testing.T) {
	app, _ := newTestApp(t)
	app.Update(TaskStateMsg{TaskID: "a", State: "active", Remaining: 5})
	app.Update(TaskTickMsg{TaskID: "a", Remaining: 3})

	if view := app.View(); !strings.Contains(view, "3s remaining") {
		t.Errorf("expected countdown in view:\n%s", view)
	}

	app.Update(TaskTickMsg{TaskID: "a", Remaining: 3, Paused: true})
	if view := app.View(); !strings.Contains(view, "Paused") {
		t.Errorf("expected paused notice in view:\n%s", view)
	}
}

func TestApp_ProbeInputs(t *testing.T) {
	app, fv := newTestApp(t)

	app.Update(tea.MouseMsg{Button: tea.MouseButtonRight, Action: tea.MouseActionPress})
	app.Update(tea.MouseMsg{Button: tea.MouseButtonLeft, Action: tea.MouseActionPress})
	app.Update(tea.BlurMsg{})
	app.Update(key("f12"))
	app.Update(tea.WindowSizeMsg{Width: 300, Height: 40})

	want := []unlock.Input{
		unlock.ContextMenu{},
		unlock.FocusChanged{Focused: false},
		unlock.KeyDown{Key: "f12"},
		unlock.Resize{W: 300, H: 40},
	}
	if len(fv.inputs) != len(want) {
		t.Fatalf("expected %d inputs, got %v", len(want), fv.inputs)
	}
	for i := range want {
		if fv.inputs[i] != want[i] {
			t.Errorf("input %d = %#v, want %#v", i, fv.inputs[i], want[i])
		}
	}
}

func TestApp_LockoutReplacesView(t *testing.T) {
	app, fv := newTestApp(t)
	app.Update(LockoutMsg{Kind: "context_menu", Title: "Invalid Activity Detected", Message: "Reload."})

	view := app.View()
	if !strings.Contains(view, "Invalid Activity Detected") || strings.Contains(view, "First") {
		t.Fatalf("lockout view should hide the tasks:\n%s", view)
	}

	app.Update(TaskEligibleMsg{TaskID: "a"})
	app.Update(key("enter"))
	app.Update(key("r"))
	if len(fv.inputs) != 0 {
		t.Fatalf("no input may reach the visit after lockout, got %v", fv.inputs)
	}
}

func TestApp_Reveal(t *testing.T) {
	app, fv := newTestApp(t)

	fv.reveal = unlock.Result{Err: unlock.ErrNotUnlocked}
	app.Update(key("r"))
	if app.Ref() != "" || !strings.Contains(app.View(), "Complete all steps first") {
		t.Fatal("reveal before unlock must not produce a ref")
	}

	app.Update(UnlockedMsg{ResourceAvailable: true})
	fv.reveal = unlock.Result{Ref: "https://example.com/file.zip"}
	app.Update(key("r"))
	if app.Ref() != "https://example.com/file.zip" {
		t.Fatalf("unexpected ref %q", app.Ref())
	}
	if !strings.Contains(app.View(), "https://example.com/file.zip") {
		t.Error("revealed ref should be shown")
	}
}

func TestApp_RevealWithoutReference(t *testing.T) {
	app, fv := newTestApp(t)
	app.Update(UnlockedMsg{ResourceAvailable: false})
	fv.reveal = unlock.Result{Err: unlock.ErrNoReference}
	app.Update(key("r"))
	if !strings.Contains(app.View(), unlock.NotAvailableMessage) {
		t.Errorf("expected %q in view", unlock.NotAvailableMessage)
	}
}

func TestApp_OpenLink(t *testing.T) {
	var opened string
	app := NewApp(t.Context(), &fakeVisit{}, func(url string) error {
		opened = url
		return errors.New("no browser")
	})

	_, cmd := app.Update(OpenLinkMsg{URL: "https://example.com"})
	if cmd == nil {
		t.Fatal("expected an open command")
	}
	msg := cmd()
	if opened != "https://example.com" {
		t.Fatalf("opener got %q", opened)
	}
	app.Update(msg)
	if !strings.Contains(app.View(), "no browser") {
		t.Error("open failure should be reported")
	}
}

func TestApp_QuitKeys(t *testing.T) {
	app, _ := newTestApp(t)
	_, cmd := app.Update(key("q"))
	if cmd == nil {
		t.Fatal("expected quit command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Fatal("q should quit")
	}
}

package viz

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/san-kum/closedloop/internal/config"
	"github.com/san-kum/closedloop/internal/experiment"
)

var scenarioInfo = map[string]string{
	"seir/covid":        "delay SEIR, R0 2.78",
	"seir/flu":          "geometric incubation, R0 1.4",
	"seir/controlled":   "R0 driven by a schedule",
	"seir/feedback":     "R0 set by a PID on infectious share",
	"sidarthe/feedback": "alpha set by a PID on threatened share",
	"sidarthe/italy":    "eight compartments, fixed contagion",
	"sidarthe/lockdown": "contagion cut in steps",
}

const (
	stateMenu = iota
	stateSim
)

// App lets the user pick a preset scenario and then runs it live.
type App struct {
	reg       *experiment.Registry
	state     int
	cursor    int
	scenarios []string
	err       error
	live      Model
}

func NewApp(reg *experiment.Registry) App {
	var scenarios []string
	for _, model := range config.ListModels() {
		for _, preset := range config.ListPresets(model) {
			scenarios = append(scenarios, model+"/"+preset)
		}
	}
	return App{reg: reg, state: stateMenu, scenarios: scenarios}
}

func (a App) Init() tea.Cmd { return nil }

func (a App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if a.state == stateSim {
		if k, ok := msg.(tea.KeyMsg); ok && k.String() == "backspace" {
			a.state = stateMenu
			return a, nil
		}
		next, cmd := a.live.Update(msg)
		a.live = next.(Model)
		return a, cmd
	}

	k, ok := msg.(tea.KeyMsg)
	if !ok {
		return a, nil
	}
	switch k.String() {
	case "q", "ctrl+c":
		return a, tea.Quit
	case "up", "k":
		if a.cursor > 0 {
			a.cursor--
		}
	case "down", "j":
		if a.cursor < len(a.scenarios)-1 {
			a.cursor++
		}
	case "enter", " ":
		return a.start()
	}
	return a, nil
}

func (a App) start() (App, tea.Cmd) {
	if len(a.scenarios) == 0 {
		return a, nil
	}
	name := a.scenarios[a.cursor]
	model, preset, _ := strings.Cut(name, "/")
	cfg := config.GetPreset(model, preset)
	if cfg == nil {
		a.err = fmt.Errorf("viz: unknown scenario %q", name)
		return a, nil
	}

	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	exp, err := experiment.New(cfg, a.reg, experiment.WithLogger(quiet))
	if err != nil {
		a.err = err
		return a, nil
	}
	live, err := NewModel(exp, name)
	if err != nil {
		a.err = err
		return a, nil
	}
	a.err = nil
	a.live = live
	a.state = stateSim
	return a, live.Init()
}

func (a App) View() string {
	if a.state == stateSim {
		return a.live.View() + mutedStyle().Render("Backspace: back to scenarios")
	}

	var s strings.Builder
	s.WriteString(titleStyle().Render("CLOSEDLOOP") + "  " + mutedStyle().Render("pick a scenario") + "\n\n")
	for i, name := range a.scenarios {
		line := fmt.Sprintf("%-20s %s", name, mutedStyle().Render(scenarioInfo[name]))
		if i == a.cursor {
			s.WriteString(accentStyle().Render("> ") + line + "\n")
		} else {
			s.WriteString("  " + line + "\n")
		}
	}
	if a.err != nil {
		s.WriteString("\n" + a.err.Error() + "\n")
	}
	s.WriteString(helpStyle.Render("↑↓:Select Enter:Run Q:Quit"))
	return s.String()
}

func RunInteractive(reg *experiment.Registry) error {
	_, err := tea.NewProgram(NewApp(reg), tea.WithAltScreen()).Run()
	return err
}

package viz

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/guptarohit/asciigraph"

	"github.com/san-kum/closedloop/internal/dynamo"
	"github.com/san-kum/closedloop/internal/experiment"
)

const (
	plotWidth  = 60
	plotHeight = 12
	sparkWidth = 16
	maxSpeed   = 64
)

type TickMsg time.Time

func tick() tea.Cmd {
	return tea.Tick(time.Second/30, func(t time.Time) tea.Msg { return TickMsg(t) })
}

// Model steps an experiment on every frame and plots its compartments.
type Model struct {
	exp          *experiment.Experiment
	title        string
	compartments []string

	running  bool
	speed    int
	focus    int
	logScale bool
	playHead int
	showHelp bool
	frame    int
	err      error
}

// NewModel resets exp and returns a live view of it.
func NewModel(exp *experiment.Experiment, title string) (Model, error) {
	if _, err := exp.Reset(); err != nil {
		return Model{}, err
	}
	return Model{
		exp:          exp,
		title:        title,
		compartments: exp.Model().Compartments,
		running:      true,
		speed:        1,
		focus:        -1,
		playHead:     -1,
	}, nil
}

func (m Model) Init() tea.Cmd { return tick() }

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		case " ":
			m.running = !m.running
		case "r":
			m.reset()
		case "+", "=":
			m.speed = min(m.speed*2, maxSpeed)
		case "-", "_":
			m.speed = max(m.speed/2, 1)
		case "tab":
			m.focus++
			if m.focus >= len(m.compartments) {
				m.focus = -1
			}
		case "l":
			m.logScale = !m.logScale
		case "t":
			NextTheme()
		case "[":
			m.scrub(-1)
		case "]":
			m.scrub(1)
		case "?":
			m.showHelp = !m.showHelp
		}
	case TickMsg:
		m.frame++
		if m.running {
			if m.playHead == -1 {
				m.step()
			} else {
				m.scrub(1)
			}
		}
		return m, tick()
	}
	return m, nil
}

// step advances the experiment by up to speed ticks.
func (m *Model) step() {
	if m.err != nil {
		return
	}
	for i := 0; i < m.speed && !m.exp.Finished(); i++ {
		if _, err := m.exp.Next(); err != nil {
			m.err = err
			m.running = false
			return
		}
	}
}

// scrub moves the replay head over recorded ticks; moving past the last
// one returns to live.
func (m *Model) scrub(dir int) {
	n := len(m.states())
	if n == 0 {
		return
	}
	if m.playHead == -1 {
		if dir > 0 {
			return
		}
		m.playHead = n - 1
		m.running = false
	}
	m.playHead += dir
	if m.playHead < 0 {
		m.playHead = 0
	}
	if m.playHead >= n {
		m.playHead = -1
	}
}

func (m *Model) reset() {
	m.playHead = -1
	m.err = nil
	if _, err := m.exp.Reset(); err != nil {
		m.err = err
		m.running = false
	}
}

func (m Model) states() []dynamo.State {
	res := m.exp.Result()
	if res == nil {
		return nil
	}
	return res.States
}

// cursor is the tick being displayed.
func (m Model) cursor() int {
	if m.playHead >= 0 {
		return m.playHead
	}
	return len(m.states()) - 1
}

func (m Model) status() string {
	switch {
	case m.err != nil:
		return lipgloss.NewStyle().Foreground(CurrentTheme.Warning).Render("ERROR")
	case m.playHead >= 0:
		return fmt.Sprintf("REPLAY (tick %d)", m.playHead)
	case m.exp.Finished():
		return accentStyle().Render("DONE")
	case !m.running:
		return "PAUSED"
	}
	return AnimatedSpinner(m.frame) + " RUNNING"
}

// series returns the plotted window ending at the cursor, one slice per
// shown compartment.
func (m Model) series() ([][]float64, []string) {
	states := m.states()
	end := m.cursor() + 1
	if end <= 0 {
		return nil, nil
	}
	start := max(0, end-plotWidth)

	var idx []int
	if m.focus >= 0 {
		idx = []int{m.focus}
	} else {
		for i := range m.compartments {
			idx = append(idx, i)
		}
	}

	data := make([][]float64, 0, len(idx))
	legends := make([]string, 0, len(idx))
	for _, i := range idx {
		col := make([]float64, 0, end-start)
		for _, x := range states[start:end] {
			v := 0.0
			if i < len(x) {
				v = x[i]
			}
			if m.logScale {
				v = math.Log10(1 + math.Max(v, 0))
			}
			col = append(col, v)
		}
		data = append(data, col)
		legends = append(legends, m.compartments[i])
	}
	return data, legends
}

func (m Model) chart() string {
	data, legends := m.series()
	if len(data) == 0 {
		return ""
	}
	caption := "population"
	if m.logScale {
		caption = "log10(1+population)"
	}
	return asciigraph.PlotMany(data,
		asciigraph.Height(plotHeight),
		asciigraph.Width(plotWidth),
		asciigraph.Precision(1),
		asciigraph.SeriesColors(CurrentTheme.seriesColors(len(data))...),
		asciigraph.SeriesLegends(legends...),
		asciigraph.Caption(caption),
	)
}

func (m Model) stats() string {
	states := m.states()
	var s strings.Builder
	c := m.cursor()
	s.WriteString(labelStyle.Render("Tick") + valueStyle.Render(fmt.Sprintf("%d / %d", c, m.exp.Ticks())) + "\n")
	s.WriteString(labelStyle.Render("Speed") + valueStyle.Render(fmt.Sprintf("%dx", m.speed)) + "\n\n")
	if c < 0 {
		return s.String()
	}

	x := states[c]
	total := 0.0
	for _, v := range x {
		total += v
	}
	for i, name := range m.compartments {
		if i >= len(x) {
			break
		}
		share := 0.0
		if total > 0 {
			share = x[i] / total
		}
		label := labelStyle.Render(name)
		if i == m.focus {
			label = accentStyle().Width(12).Render("> " + name)
		}
		s.WriteString(fmt.Sprintf("%s%s %s\n", label, ProgressBar(share, 12), valueStyle.Render(fmt.Sprintf("%.0f", x[i]))))
	}

	res := m.exp.Result()
	if res == nil {
		return s.String()
	}
	if len(res.Scalars) > 0 {
		s.WriteString("\n" + Separator(32) + "\n")
		names := make([]string, 0, len(res.Scalars))
		for name := range res.Scalars {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			series := res.Scalars[name]
			if c >= len(series) {
				continue
			}
			s.WriteString(fmt.Sprintf("%s%s %s\n", labelStyle.Render(name), Sparkline(series[:c+1], sparkWidth),
				valueStyle.Render(fmt.Sprintf("%.3g", series[c]))))
		}
	}

	if len(res.Metrics) > 0 {
		s.WriteString("\n" + Separator(32) + "\n")
		names := make([]string, 0, len(res.Metrics))
		for name := range res.Metrics {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			s.WriteString(mutedStyle().Width(20).Render(name) + valueStyle.Render(fmt.Sprintf("%.4g", res.Metrics[name])) + "\n")
		}
	}
	return s.String()
}

func (m Model) View() string {
	header := titleStyle().Render(strings.ToUpper(m.title)) + "  " + m.status()
	body := lipgloss.JoinHorizontal(lipgloss.Top,
		panelStyle.Render(m.chart()),
		panelStyle.Render(m.stats()),
	)

	var s strings.Builder
	s.WriteString(header + "\n\n" + body + "\n")
	if m.err != nil {
		s.WriteString(lipgloss.NewStyle().Foreground(CurrentTheme.Warning).Render(m.err.Error()) + "\n")
	}
	if m.showHelp {
		s.WriteString(helpStyle.Render(`Space  pause/resume     R  reset
+/-    ticks per frame  Tab  focus compartment
L      log scale        T  cycle theme
[ ]    time travel      Q  quit`) + "\n")
	} else {
		s.WriteString(helpStyle.Render("SP:Pause R:Reset Q:Quit ?:Help") + "\n")
	}
	return s.String()
}

// RunLive runs the live view full screen until the user quits.
func RunLive(exp *experiment.Experiment, title string) error {
	m, err := NewModel(exp, title)
	if err != nil {
		return err
	}
	_, err = tea.NewProgram(m, tea.WithAltScreen()).Run()
	return err
}

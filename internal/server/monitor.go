package server

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jroimartin/gocui"
)

const monitorRefresh = time.Second

// Monitor is the operator console: connected sessions, recent activity and
// a command line for announcements.
type Monitor struct {
	gui      *gocui.Gui
	server   *Server
	commands map[string]CommandFunc

	activityView string
	sessionView  string
	statusView   string
	inputView    string
	helpView     string
	showHelp     bool

	done chan struct{}
}

// NewMonitor takes over the terminal for server.
func NewMonitor(server *Server) (*Monitor, error) {
	g, err := gocui.NewGui(gocui.OutputNormal)
	if err != nil {
		return nil, err
	}

	m := &Monitor{
		gui:          g,
		server:       server,
		commands:     operatorCommands(),
		activityView: "activity",
		sessionView:  "sessions",
		statusView:   "status",
		inputView:    "input",
		helpView:     "help",
		done:         make(chan struct{}),
	}

	g.SetManagerFunc(m.layout)
	return m, nil
}

func (m *Monitor) layout(g *gocui.Gui) error {
	maxX, maxY := g.Size()

	sidebarWidth := 24
	mainWidth := maxX - sidebarWidth - 1
	mainHeight := maxY - 5

	if v, err := g.SetView(m.activityView, 0, 0, mainWidth, mainHeight); err != nil {
		if err != gocui.ErrUnknownView {
			return err
		}
		v.Title = "Activity"
		v.Wrap = true
		v.Autoscroll = true
	}

	if v, err := g.SetView(m.sessionView, mainWidth+1, 0, maxX-1, mainHeight); err != nil {
		if err != gocui.ErrUnknownView {
			return err
		}
		v.Title = "Online Users"
		v.Wrap = true
	}

	if v, err := g.SetView(m.statusView, 0, mainHeight+1, maxX-1, mainHeight+3); err != nil {
		if err != gocui.ErrUnknownView {
			return err
		}
		v.Title = "Status"
		v.Wrap = true
	}

	if v, err := g.SetView(m.inputView, 0, mainHeight+3, maxX-1, maxY-1); err != nil {
		if err != gocui.ErrUnknownView {
			return err
		}
		v.Title = "Command"
		v.Editable = true
		v.Wrap = true

		if _, err := g.SetCurrentView(m.inputView); err != nil {
			return err
		}
	}

	if m.showHelp {
		if v, err := g.SetView(m.helpView, maxX/6, maxY/6, maxX*5/6, maxY*5/6); err != nil {
			if err != gocui.ErrUnknownView {
				return err
			}
			v.Title = "Help"
			fmt.Fprintln(v, consoleHelp)
		}
	} else if err := g.DeleteView(m.helpView); err != nil && err != gocui.ErrUnknownView {
		return err
	}

	return nil
}

// refresh repaints the session list, the activity feed and the status line.
func (m *Monitor) refresh() {
	sessions := m.server.registry.Sessions()
	activity := m.server.Activity()

	m.gui.Update(func(g *gocui.Gui) error {
		if v, err := g.View(m.sessionView); err == nil {
			v.Clear()
			for _, info := range sessions {
				fmt.Fprintf(v, "%s (%s)\n", info.Username, info.JoinTime.Format("15:04:05"))
			}
		}
		if v, err := g.View(m.activityView); err == nil {
			v.Clear()
			fmt.Fprint(v, strings.Join(activity, "\n"))
		}
		if v, err := g.View(m.statusView); err == nil {
			v.Clear()
			fmt.Fprintf(v, "Listening on port %s | Users: %d | Ctrl-H: Help",
				m.server.Port(), len(sessions))
		}
		return nil
	})
}

func (m *Monitor) showStatus(text string) {
	m.gui.Update(func(g *gocui.Gui) error {
		v, err := g.View(m.statusView)
		if err != nil {
			return err
		}
		v.Clear()
		fmt.Fprint(v, text)
		return nil
	})
}

func (m *Monitor) keybindings() error {
	if err := m.gui.SetKeybinding("", gocui.KeyCtrlC, gocui.ModNone,
		func(_ *gocui.Gui, _ *gocui.View) error {
			return gocui.ErrQuit
		}); err != nil {
		return err
	}

	if err := m.gui.SetKeybinding("", gocui.KeyCtrlH, gocui.ModNone,
		func(_ *gocui.Gui, _ *gocui.View) error {
			m.showHelp = !m.showHelp
			return nil
		}); err != nil {
		return err
	}

	if err := m.gui.SetKeybinding(m.inputView, gocui.KeyEnter, gocui.ModNone,
		m.handleInput); err != nil {
		return err
	}

	return m.gui.SetKeybinding("", gocui.KeyTab, gocui.ModNone,
		func(g *gocui.Gui, v *gocui.View) error {
			nextView := map[string]string{
				m.activityView: m.sessionView,
				m.sessionView:  m.inputView,
				m.inputView:    m.activityView,
			}
			if v == nil {
				return nil
			}
			if next, ok := nextView[v.Name()]; ok {
				_, err := g.SetCurrentView(next)
				return err
			}
			return nil
		})
}

func (m *Monitor) handleInput(_ *gocui.Gui, v *gocui.View) error {
	input := strings.TrimSpace(v.Buffer())
	v.Clear()
	if err := v.SetCursor(0, 0); err != nil {
		return err
	}
	if input == "" {
		return nil
	}

	out, err := m.server.runCommand(m.commands, input)
	switch {
	case errors.Is(err, errQuitConsole):
		return gocui.ErrQuit
	case err != nil:
		m.showStatus("Error: " + err.Error())
	case out != "":
		m.server.activity.add(time.Now(), out)
		m.refresh()
	}
	return nil
}

// Run blocks until the operator quits.
func (m *Monitor) Run() error {
	if err := m.keybindings(); err != nil {
		return err
	}

	go func() {
		ticker := time.NewTicker(monitorRefresh)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.refresh()
			case <-m.done:
				return
			}
		}
	}()
	defer close(m.done)

	if err := m.gui.MainLoop(); err != nil && err != gocui.ErrQuit {
		return err
	}
	return nil
}

// Close restores the terminal.
func (m *Monitor) Close() {
	m.gui.Close()
}

// RunWithUI serves on port in the background and runs the console until
// the operator quits, then shuts the server down.
func RunWithUI(server *Server, port string) error {
	monitor, err := NewMonitor(server)
	if err != nil {
		return err
	}
	defer monitor.Close()

	go func() {
		if err := server.Start(port); err != nil {
			monitor.showStatus("Server error: " + err.Error())
		}
	}()

	runErr := monitor.Run()
	if err := server.Close(); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

package server

import (
	"errors"
	"fmt"
	"strings"
)

// errQuitConsole asks the console to exit.
var errQuitConsole = errors.New("quit")

// CommandFunc handles one operator command and returns the text to show.
type CommandFunc func(s *Server, args []string) (string, error)

const consoleHelp = `Commands:
/help           - Show this help
/list           - List connected users
/kick <name>    - Disconnect every session using <name>
/quit           - Stop the server
<text>          - Announce <text> to everyone as System

Keybindings:
Ctrl-C          - Quit
Ctrl-H          - Toggle help
Tab             - Switch views
Enter           - Run command`

func operatorCommands() map[string]CommandFunc {
	return map[string]CommandFunc{
		"help": func(s *Server, args []string) (string, error) {
			return consoleHelp, nil
		},

		"list": func(s *Server, args []string) (string, error) {
			sessions := s.registry.Sessions()
			users := make([]string, 0, len(sessions))
			for _, info := range sessions {
				users = append(users, fmt.Sprintf("%s (%s)", info.Username, info.RemoteAddr))
			}
			return fmt.Sprintf("Online users (%d):\n%s", len(users), strings.Join(users, "\n")), nil
		},

		"kick": func(s *Server, args []string) (string, error) {
			if len(args) < 1 {
				return "", fmt.Errorf("usage: /kick <name>")
			}
			name := strings.Join(args, " ")
			if s.Kick(name) == 0 {
				return "", fmt.Errorf("user %s not found", name)
			}
			return fmt.Sprintf("%s disconnected", name), nil
		},

		"quit": func(s *Server, args []string) (string, error) {
			return "", errQuitConsole
		},
	}
}

// runCommand executes one console input line. Lines that are not commands
// are announced to every session.
func (s *Server) runCommand(commands map[string]CommandFunc, input string) (string, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return "", nil
	}

	if !strings.HasPrefix(input, "/") {
		n, err := s.Announce(input)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("Announced to %d users", n), nil
	}

	parts := strings.Fields(input)
	handler, exists := commands[strings.TrimPrefix(parts[0], "/")]
	if !exists {
		return "", fmt.Errorf("unknown command %s, type /help for available commands", parts[0])
	}
	return handler(s, parts[1:])
}

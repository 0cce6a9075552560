package ui

import (
	"context"
	"os/exec"
	"strings"
	"time"
)

// Decorator turns a formatted message into the lines shown for it.
type Decorator interface {
	Decorate(text string) []string
}

// PlainDecorator shows the text as is.
type PlainDecorator struct{}

func (PlainDecorator) Decorate(text string) []string {
	return strings.Split(text, "\n")
}

// CommandDecorator pipes each message through an external program such as
// cowsay, passing the text as the last argument. Any failure falls back to
// the plain text.
type CommandDecorator struct {
	Path    string
	Args    []string
	Timeout time.Duration
}

func (d CommandDecorator) Decorate(text string) []string {
	ctx := context.Background()
	if d.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.Timeout)
		defer cancel()
	}

	args := append(append([]string(nil), d.Args...), text)
	out, err := exec.CommandContext(ctx, d.Path, args...).Output()
	if err != nil {
		return PlainDecorator{}.Decorate(text)
	}

	rendered := strings.TrimRight(string(out), "\n")
	if strings.TrimSpace(rendered) == "" {
		return PlainDecorator{}.Decorate(text)
	}
	return strings.Split(rendered, "\n")
}

// NewDecorator resolves a configured decorator name. "" and "plain" select
// PlainDecorator, as does a command that is not installed.
func NewDecorator(name string, timeout time.Duration) Decorator {
	if name == "" || name == "plain" {
		return PlainDecorator{}
	}
	fields := strings.Fields(name)
	path, err := exec.LookPath(fields[0])
	if err != nil {
		return PlainDecorator{}
	}
	return CommandDecorator{Path: path, Args: fields[1:], Timeout: timeout}
}

package server

import (
	"fmt"
	"sync"
	"time"
)

const activityTimeLayout = "2006-01-02 15:04:05"

// activityLog keeps the most recent activity lines for the console.
type activityLog struct {
	mu    sync.Mutex
	lines []string
	size  int
}

func newActivityLog(size int) *activityLog {
	if size <= 0 {
		size = 1
	}
	return &activityLog{size: size}
}

func (a *activityLog) add(at time.Time, message string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.lines = append(a.lines, formatActivity(at, message))
	if over := len(a.lines) - a.size; over > 0 {
		a.lines = append(a.lines[:0], a.lines[over:]...)
	}
}

func (a *activityLog) snapshot() []string {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]string, len(a.lines))
	copy(out, a.lines)
	return out
}

func formatActivity(at time.Time, message string) string {
	return fmt.Sprintf("[%s] %s", at.Format(activityTimeLayout), message)
}

func joinNotice(username string) string {
	return fmt.Sprintf("📢 %s has joined the chat.", username)
}

func leaveNotice(username string) string {
	if username == "" {
		username = unknownUsername
	}
	return fmt.Sprintf("❌ %s has left the chat.", username)
}

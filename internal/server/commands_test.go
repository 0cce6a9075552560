package server

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cowtalk/internal/protocol"
)

func TestOperatorCommands(t *testing.T) {
	s := setupTestServer(t)
	commands := operatorCommands()
	alice := connectAs(t, s, "alice")

	out, err := s.runCommand(commands, "/list")
	require.NoError(t, err)
	assert.Contains(t, out, "Online users (1):")
	assert.Contains(t, out, "alice (")

	out, err = s.runCommand(commands, "hello everyone")
	require.NoError(t, err)
	assert.Equal(t, "Announced to 1 users", out)
	alice.expectEnvelope(t, protocol.SystemNotice("hello everyone"))

	out, err = s.runCommand(commands, "   ")
	require.NoError(t, err)
	assert.Empty(t, out)

	_, err = s.runCommand(commands, "/kick")
	assert.EqualError(t, err, "usage: /kick <name>")

	_, err = s.runCommand(commands, "/kick bob")
	assert.EqualError(t, err, "user bob not found")

	_, err = s.runCommand(commands, "/dance")
	assert.Error(t, err)

	_, err = s.runCommand(commands, "/quit")
	assert.ErrorIs(t, err, errQuitConsole)

	out, err = s.runCommand(commands, "/kick alice")
	require.NoError(t, err)
	assert.Equal(t, "alice disconnected", out)
	alice.expectClosed(t)
}

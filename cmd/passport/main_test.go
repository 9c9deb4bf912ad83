package main

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/passport/internal/app"
	_ "github.com/odyssey-erp/passport/internal/testing/guard"
)

func TestMainSkipsStartupInTestMode(t *testing.T) {
	app.RefreshTestMode()
	require.True(t, app.InTestMode())
	main()
}

func TestIsCommand(t *testing.T) {
	for _, name := range []string{"seed", "access", "jobs", "help"} {
		assert.True(t, isCommand(name), name)
	}
	assert.False(t, isCommand("serve"))
}

func TestRunCommandHelp(t *testing.T) {
	var out, errOut bytes.Buffer
	code := runCommand(context.Background(), &app.Config{}, slog.Default(), []string{"help"}, &out, &errOut)
	assert.Equal(t, 0, code)
	assert.Contains(t, out.String(), "jobs trigger NAME")
}

func TestRunJobsCommandArguments(t *testing.T) {
	var out, errOut bytes.Buffer
	cfg := &app.Config{}

	assert.Equal(t, 2, runCommand(context.Background(), cfg, slog.Default(), []string{"jobs"}, &out, &errOut))
	assert.Equal(t, 2, runCommand(context.Background(), cfg, slog.Default(), []string{"jobs", "stats"}, &out, &errOut))
	assert.Contains(t, errOut.String(), "redis address required")
}

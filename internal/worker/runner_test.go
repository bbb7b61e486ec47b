package worker

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requireShell(t *testing.T) {
	t.Helper()
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("no /bin/sh available")
	}
}

func TestShellRunner(t *testing.T) {
	requireShell(t)
	r := ShellRunner{Shell: "/bin/sh"}

	out, err := r.Run(context.Background(), "echo hello; echo oops 1>&2")
	require.NoError(t, err)
	assert.Equal(t, "hello\n", out.Stdout)
	assert.Equal(t, "oops\n", out.Stderr)
	assert.Equal(t, 0, out.ExitCode)

	out, err = r.Run(context.Background(), "exit 3")
	require.NoError(t, err)
	assert.Equal(t, 3, out.ExitCode)
}

func TestShellRunnerDefaultsShell(t *testing.T) {
	requireShell(t)
	out, err := ShellRunner{}.Run(context.Background(), "printf x")
	require.NoError(t, err)
	assert.Equal(t, "x", out.Stdout)
}

func TestShellRunnerMissingShell(t *testing.T) {
	out, err := ShellRunner{Shell: "/nonexistent/shell"}.Run(context.Background(), "true")
	require.Error(t, err)
	assert.Equal(t, -1, out.ExitCode)
}

func TestShellRunnerCancelled(t *testing.T) {
	requireShell(t)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	out, err := ShellRunner{Shell: "/bin/sh"}.Run(ctx, "sleep 5")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, -1, out.ExitCode)
}

package worker

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/applybot/jobtracker/internal/job"
)

func writeScript(t *testing.T, body string) string {
	path := filepath.Join(t.TempDir(), "bot.sh")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o755))
	return path
}

func waitExit(t *testing.T, r Run) (int, error) {
	var (
		code int
		err  error
	)
	require.Eventually(t, func() bool {
		var exited bool
		code, exited, err = r.Poll()
		return exited
	}, 5*time.Second, 5*time.Millisecond)
	return code, err
}

func TestCommandAutomation_ExitCodes(t *testing.T) {
	for _, tc := range []struct {
		name string
		body string
		code int
	}{
		{"success", "exit 0\n", 0},
		{"failure", "exit 3\n", 3},
	} {
		t.Run(tc.name, func(t *testing.T) {
			a := &CommandAutomation{Interpreter: "sh", Script: writeScript(t, tc.body)}
			r, err := a.Start(context.Background(), job.New(nil))
			require.NoError(t, err)

			code, err := waitExit(t, r)
			require.NoError(t, err)
			assert.Equal(t, tc.code, code)
		})
	}
}

func TestCommandAutomation_PassesJobIDAndDir(t *testing.T) {
	dir := t.TempDir()
	script := writeScript(t, `test "$JOB_ID" = "$(cat expected)" || exit 7`+"\n")
	j := job.New(nil)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "expected"), []byte(j.ID), 0o644))

	a := &CommandAutomation{Interpreter: "sh", Script: script, Dir: dir}
	r, err := a.Start(context.Background(), j)
	require.NoError(t, err)

	code, err := waitExit(t, r)
	require.NoError(t, err)
	assert.Equal(t, 0, code)
}

func TestCommandAutomation_StillRunning(t *testing.T) {
	a := &CommandAutomation{Interpreter: "sh", Script: writeScript(t, "sleep 0.3\n")}
	r, err := a.Start(context.Background(), job.New(nil))
	require.NoError(t, err)

	_, exited, err := r.Poll()
	require.NoError(t, err)
	assert.False(t, exited)

	code, err := waitExit(t, r)
	require.NoError(t, err)
	assert.Equal(t, 0, code)
}

func TestCommandAutomation_MissingInterpreter(t *testing.T) {
	a := &CommandAutomation{Interpreter: filepath.Join(t.TempDir(), "no-such-python")}
	_, err := a.Start(context.Background(), job.New(nil))
	assert.Error(t, err)
}

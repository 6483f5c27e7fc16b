package pidfile

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	coorderr "github.com/harborhq/contextd/errors"
	"github.com/harborhq/contextd/pkg/paths"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withTempHome(t *testing.T) {
	t.Helper()
	t.Setenv("CONTEXTD_HOME", t.TempDir())
}

func TestAcquireRelease(t *testing.T) {
	withTempHome(t)

	require.NoError(t, Acquire("coordinator"))

	pid, err := Read("coordinator")
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)

	running, pid, err := IsRunning("coordinator")
	require.NoError(t, err)
	assert.True(t, running)
	assert.Equal(t, os.Getpid(), pid)

	require.NoError(t, Release("coordinator"))
	running, _, err = IsRunning("coordinator")
	require.NoError(t, err)
	assert.False(t, running)
}

func TestAcquireConflictWithLiveProcess(t *testing.T) {
	withTempHome(t)

	// Our own PID is trivially alive, so a second acquire must fail.
	require.NoError(t, Acquire("coordinator"))
	err := Acquire("coordinator")
	require.Error(t, err)
	assert.True(t, coorderr.Is(err, coorderr.ErrCodeSingletonConflict))
}

func TestAcquireReclaimsStalePidfile(t *testing.T) {
	withTempHome(t)

	// Write a pidfile for a PID that cannot be running.
	path := paths.PidFilePath("reaper")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(strconv.Itoa(1<<22+7)), 0644))

	require.NoError(t, Acquire("reaper"))
	pid, err := Read("reaper")
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)
}

func TestRolesAreIndependent(t *testing.T) {
	withTempHome(t)

	require.NoError(t, Acquire("coordinator"))
	require.NoError(t, Acquire("publisher"))
	require.NoError(t, Release("coordinator"))
	require.NoError(t, Release("publisher"))
}

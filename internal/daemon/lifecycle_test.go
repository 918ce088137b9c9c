package daemon

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLifecycleManager(t *testing.T) {
	d, _ := createTestDaemon(t)

	lm := NewLifecycleManager(d)
	assert.Equal(t, d, lm.daemon)
	assert.Equal(t, filepath.Join(d.config.DataDir, "seqbot.pid"), lm.pidFile)
}

func TestLifecycleManagerStartStop(t *testing.T) {
	d, _ := createTestDaemon(t)
	lm := NewLifecycleManager(d)

	require.NoError(t, lm.Start())

	pid, err := lm.GetPID()
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)
	assert.True(t, lm.IsRunning())

	require.NoError(t, lm.Stop())
	assert.False(t, lm.IsRunning())

	// stopping twice is fine
	require.NoError(t, lm.Stop())
}

func TestLifecycleManager_RefusesLiveForeignPID(t *testing.T) {
	d, _ := createTestDaemon(t)
	lm := NewLifecycleManager(d)

	// PID 1 always exists on Unix
	require.NoError(t, os.WriteFile(lm.pidFile, []byte("1"), 0644))
	if !ProcessAlive(1) {
		t.Skip("cannot signal PID 1")
	}

	err := lm.Start()
	assert.ErrorContains(t, err, "already running")
}

func TestReadPID(t *testing.T) {
	dir := t.TempDir()

	_, err := ReadPID(filepath.Join(dir, "missing.pid"))
	assert.True(t, os.IsNotExist(err))

	bad := filepath.Join(dir, "bad.pid")
	require.NoError(t, os.WriteFile(bad, []byte("invalid"), 0644))
	_, err = ReadPID(bad)
	assert.Error(t, err)

	good := filepath.Join(dir, "good.pid")
	require.NoError(t, os.WriteFile(good, []byte(strconv.Itoa(1234)+"\n"), 0644))
	pid, err := ReadPID(good)
	require.NoError(t, err)
	assert.Equal(t, 1234, pid)
}

func TestProcessAlive(t *testing.T) {
	assert.True(t, ProcessAlive(os.Getpid()))
}

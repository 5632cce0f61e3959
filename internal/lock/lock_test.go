package lock

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileLock_ExclusiveAcrossHandles(t *testing.T) {
	path := filepath.Join(t.TempDir(), "daemon.lock")

	first := NewFileLock(path)
	require.NoError(t, first.TryLock())
	require.NoError(t, first.TryLock(), "re-locking an owned lock is a no-op")

	second := NewFileLock(path)
	err := second.TryLock()
	require.ErrorIs(t, err, ErrHeld)
	assert.Contains(t, err.Error(), "another daemon")

	require.NoError(t, first.Unlock())
	require.NoError(t, second.TryLock())
	require.NoError(t, second.Unlock())
}

func TestFileLock_RecordsPID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "daemon.lock")
	fl := NewFileLock(path)
	require.NoError(t, fl.TryLock())
	defer fl.Unlock()

	pid, err := ReadPID(path)
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)
	assert.True(t, Alive(pid))
}

func TestFileLock_UnlockRemovesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "daemon.lock")
	fl := NewFileLock(path)
	require.NoError(t, fl.TryLock())
	require.NoError(t, fl.Unlock())
	require.NoError(t, fl.Unlock(), "double unlock is safe")

	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestReadPID_Malformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "daemon.lock")
	require.NoError(t, os.WriteFile(path, []byte("not-a-pid\n"), 0600))

	_, err := ReadPID(path)
	assert.Error(t, err)
	assert.False(t, Alive(0))
}

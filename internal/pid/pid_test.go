package pid_test

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"codeberg.org/mutker/petvitals/internal/errors"
	"codeberg.org/mutker/petvitals/internal/pid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteAndRemove(t *testing.T) {
	f := pid.New(filepath.Join(t.TempDir(), "run", "petvitals.pid"))

	require.NoError(t, f.Write())

	content, err := os.ReadFile(f.Path())
	require.NoError(t, err)
	assert.Equal(t, strconv.Itoa(os.Getpid()), string(content))

	require.NoError(t, f.Remove())
	require.NoError(t, f.Remove(), "removing a missing file is fine")
}

func TestWriteRefusesLiveProcess(t *testing.T) {
	f := pid.New(filepath.Join(t.TempDir(), "petvitals.pid"))
	require.NoError(t, f.Write())

	// The file now names this test process, which is alive
	err := f.Write()
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrAlreadyRunning))
}

func TestWriteReplacesStaleFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "petvitals.pid")
	require.NoError(t, os.WriteFile(path, []byte("not-a-pid"), 0o600))

	f := pid.New(path)
	require.NoError(t, f.Write())

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, strconv.Itoa(os.Getpid()), string(content))
}

func TestDefaultPath(t *testing.T) {
	assert.Equal(t, filepath.Join(os.TempDir(), "petvitals.pid"), pid.New("").Path())
}

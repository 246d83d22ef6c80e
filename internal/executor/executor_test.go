package executor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun_CapturesStdoutAndExitCode(t *testing.T) {
	res, err := Run(context.Background(), 0, "sh", "-c", "echo hello; exit 0")
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)
	assert.Equal(t, "hello\n", res.Stdout)
	assert.False(t, res.TimedOut)
}

func TestRun_CapturesNonZeroExitCode(t *testing.T) {
	res, err := Run(context.Background(), 0, "sh", "-c", "echo oops 1>&2; exit 7")
	require.NoError(t, err)
	assert.Equal(t, 7, res.ExitCode)
	assert.Equal(t, "oops\n", res.Stderr)
}

func TestRun_TimesOut(t *testing.T) {
	start := time.Now()
	res, err := Run(context.Background(), 200*time.Millisecond, "sh", "-c", "sleep 5")
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.True(t, res.TimedOut)
	assert.Less(t, elapsed, 2*time.Second)
}

func TestRun_BinaryNotFound(t *testing.T) {
	_, err := Run(context.Background(), 0, "definitely-not-a-real-binary-xyz")
	assert.ErrorIs(t, err, ErrBinaryNotFound)
}

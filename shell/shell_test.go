package shell

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunCapturesOutput(t *testing.T) {
	out, err := NewRunner(5*time.Second).Run(context.Background(), "echo", "hello", "gluster")
	require.NoError(t, err)
	assert.Equal(t, "hello gluster", out)
}

func TestRunExitError(t *testing.T) {
	_, err := NewRunner(5*time.Second).Run(context.Background(), "sh", "-c", "echo 'volume set: failed' >&2; exit 3")
	require.Error(t, err)
	exitErr, ok := err.(*ExitError)
	require.True(t, ok, "got %T", err)
	assert.Equal(t, 3, exitErr.Exit)
	assert.Equal(t, "volume set: failed", exitErr.Output)
	assert.Equal(t, "volume set: failed", OutputOf(err))
}

func TestRunTimeout(t *testing.T) {
	_, err := NewRunner(100*time.Millisecond).Run(context.Background(), "sleep", "5")
	_, ok := err.(*TimeoutError)
	assert.True(t, ok, "got %v", err)
}

func TestRunContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewRunner(5*time.Second).Run(ctx, "sleep", "5")
	assert.Equal(t, context.Canceled, err)
}

func TestNewRunnerDefaultTimeout(t *testing.T) {
	assert.Equal(t, DefaultTimeout, NewRunner(0).Timeout)
}
